package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// maxReadBits is the maximum number of bits which can be read in a single
	// ReadCoils or ReadDiscreteInputs request.
	maxReadBits = 2000

	// maxWriteBits is the maximum number of bits which can be written in a
	// single WriteMultipleCoils request.
	maxWriteBits = 1968

	// maxReadWords is the maximum number of words which can be read in a single
	// ReadHoldingRegisters, ReadInputRegisters, or ReadWriteMultipleRegisters
	// request.
	maxReadWords = 125

	// maxWriteWords is the maximum number of words which can be written in a
	// single WriteMultipleRegisters request.
	maxWriteWords = 123

	// maxReadWriteWords is the maximum number of words which can be written in a
	// single ReadWriteMultipleRegisters request.
	maxReadWriteWords = 121
)

// checkRange checks a quantity of n values starting at start against the
// maximum quantity and the size of the address space.
func checkRange(start uint16, n, maxNumValues int) error {
	if n <= 0 || n > maxNumValues {
		return ExceptionIllegalDataValue
	}
	if int(start)+n > 1<<16 {
		return ExceptionIllegalDataAddress
	}
	return nil
}

// CheckRequest checks that req respects the quantity limits of the Modbus
// application protocol and stays within the address space. A request passing
// this check encodes to a valid PDU.
func CheckRequest(req Request) error {
	var err error
	switch r := req.(type) {
	case *ReadCoilsRequest:
		err = checkRange(r.Address, int(r.Count), maxReadBits)
	case *ReadDiscreteInputsRequest:
		err = checkRange(r.Address, int(r.Count), maxReadBits)
	case *ReadHoldingRegistersRequest:
		err = checkRange(r.Address, int(r.Count), maxReadWords)
	case *ReadInputRegistersRequest:
		err = checkRange(r.Address, int(r.Count), maxReadWords)
	case *WriteSingleCoilRequest, *WriteSingleRegisterRequest,
		*MaskWriteRegisterRequest:
	case *WriteMultipleCoilsRequest:
		err = checkRange(r.Address, len(r.Values), maxWriteBits)
	case *WriteMultipleRegistersRequest:
		err = checkRange(r.Address, len(r.Values), maxWriteWords)
	case *ReadWriteMultipleRegistersRequest:
		err = checkRange(r.ReadAddress, int(r.ReadCount), maxReadWords)
		if err == nil {
			err = checkRange(r.WriteAddress, len(r.Values), maxReadWriteWords)
		}
	case nil:
		return errors.New("nil request")
	default:
		return fmt.Errorf("unsupported request type %T", req)
	}
	if err != nil {
		return fmt.Errorf("invalid %s request: %w", req.Function(), err)
	}
	return nil
}

// parseReadRequest parses a Modbus read request with the common 4-byte
// structure (2 bytes start address, 2 bytes number of values to read).
func parseReadRequest(data []byte, maxNumValues int) (
	start uint16, n uint16, err error,
) {
	if len(data) != 4 {
		return 0, 0, ErrMessageSizeMismatch
	}
	start = binary.BigEndian.Uint16(data[0:2])
	n = binary.BigEndian.Uint16(data[2:4])
	if err := checkRange(start, int(n), maxNumValues); err != nil {
		return 0, 0, err
	}
	return
}

// parseAddressValue parses the common 4-byte structure of single writes
// (2 bytes address, 2 bytes value).
func parseAddressValue(data []byte) (addr, value uint16, err error) {
	if len(data) != 4 {
		return 0, 0, ErrMessageSizeMismatch
	}
	return binary.BigEndian.Uint16(data[0:2]),
		binary.BigEndian.Uint16(data[2:4]), nil
}

// parseReadCoils parses a Modbus ReadCoils request. The given data should be
// the request data without the function code.
func parseReadCoils(data []byte) (Request, error) {
	start, n, err := parseReadRequest(data, maxReadBits)
	if err != nil {
		return nil, err
	}
	return &ReadCoilsRequest{Address: start, Count: n}, nil
}

// parseReadDiscreteInputs parses a Modbus ReadDiscreteInputs request.
func parseReadDiscreteInputs(data []byte) (Request, error) {
	start, n, err := parseReadRequest(data, maxReadBits)
	if err != nil {
		return nil, err
	}
	return &ReadDiscreteInputsRequest{Address: start, Count: n}, nil
}

// parseReadHoldingRegisters parses a Modbus ReadHoldingRegisters request.
func parseReadHoldingRegisters(data []byte) (Request, error) {
	start, n, err := parseReadRequest(data, maxReadWords)
	if err != nil {
		return nil, err
	}
	return &ReadHoldingRegistersRequest{Address: start, Count: n}, nil
}

// parseReadInputRegisters parses a Modbus ReadInputRegisters request.
func parseReadInputRegisters(data []byte) (Request, error) {
	start, n, err := parseReadRequest(data, maxReadWords)
	if err != nil {
		return nil, err
	}
	return &ReadInputRegistersRequest{Address: start, Count: n}, nil
}

// parseWriteSingleCoil parses a Modbus WriteSingleCoil request. The coil value
// must be encoded as 0xFF00 or 0x0000.
func parseWriteSingleCoil(data []byte) (Request, error) {
	addr, w, err := parseAddressValue(data)
	if err != nil {
		return nil, err
	}
	value, err := parseCoilWord(w)
	if err != nil {
		return nil, err
	}
	return &WriteSingleCoilRequest{Address: addr, Value: value}, nil
}

// parseWriteSingleRegister parses a Modbus WriteSingleRegister request.
func parseWriteSingleRegister(data []byte) (Request, error) {
	addr, value, err := parseAddressValue(data)
	if err != nil {
		return nil, err
	}
	return &WriteSingleRegisterRequest{Address: addr, Value: value}, nil
}

// parseWriteMultipleCoils parses a Modbus WriteMultipleCoils request.
// Unused bits in the last data byte are ignored.
func parseWriteMultipleCoils(data []byte) (Request, error) {
	if len(data) < 5 {
		return nil, ErrMessageSizeMismatch
	}
	start := binary.BigEndian.Uint16(data[0:2])
	n := int(binary.BigEndian.Uint16(data[2:4]))
	numBytes := int(data[4])
	if n <= 0 || n > maxWriteBits || numBytes != bitBytes(n) {
		return nil, ExceptionIllegalDataValue
	}
	if len(data)-5 != numBytes {
		return nil, ErrMessageSizeMismatch
	}
	if err := checkRange(start, n, maxWriteBits); err != nil {
		return nil, err
	}
	return &WriteMultipleCoilsRequest{
		Address: start,
		Values:  bits(data[5:], n),
	}, nil
}

// parseWriteMultipleRegisters parses a Modbus WriteMultipleRegisters request.
func parseWriteMultipleRegisters(data []byte) (Request, error) {
	if len(data) < 5 {
		return nil, ErrMessageSizeMismatch
	}
	start := binary.BigEndian.Uint16(data[0:2])
	n := int(binary.BigEndian.Uint16(data[2:4]))
	numBytes := int(data[4])
	if n <= 0 || n > maxWriteWords || 2*n != numBytes {
		return nil, ExceptionIllegalDataValue
	}
	if len(data)-5 != numBytes {
		return nil, ErrMessageSizeMismatch
	}
	if err := checkRange(start, n, maxWriteWords); err != nil {
		return nil, err
	}
	return &WriteMultipleRegistersRequest{
		Address: start,
		Values:  words(data[5:]),
	}, nil
}

// parseMaskWriteRegister parses a Modbus MaskWriteRegister request.
func parseMaskWriteRegister(data []byte) (Request, error) {
	if len(data) != 6 {
		return nil, ErrMessageSizeMismatch
	}
	return &MaskWriteRegisterRequest{
		Address: binary.BigEndian.Uint16(data[0:2]),
		AndMask: binary.BigEndian.Uint16(data[2:4]),
		OrMask:  binary.BigEndian.Uint16(data[4:6]),
	}, nil
}

// parseReadWriteMultipleRegisters parses a Modbus ReadWriteMultipleRegisters
// request.
func parseReadWriteMultipleRegisters(data []byte) (Request, error) {
	if len(data) < 9 {
		return nil, ErrMessageSizeMismatch
	}
	readStart := binary.BigEndian.Uint16(data[0:2])
	n := binary.BigEndian.Uint16(data[2:4])
	writeStart := binary.BigEndian.Uint16(data[4:6])
	nWrite := int(binary.BigEndian.Uint16(data[6:8]))
	numBytes := int(data[8])
	if n == 0 || n > maxReadWords || nWrite <= 0 || nWrite > maxReadWriteWords ||
		2*nWrite != numBytes {
		return nil, ExceptionIllegalDataValue
	}
	if len(data)-9 != numBytes {
		return nil, ErrMessageSizeMismatch
	}
	if int(readStart)+int(n) > 1<<16 || int(writeStart)+nWrite > 1<<16 {
		return nil, ExceptionIllegalDataAddress
	}
	return &ReadWriteMultipleRegistersRequest{
		ReadAddress:  readStart,
		ReadCount:    n,
		WriteAddress: writeStart,
		Values:       words(data[9:]),
	}, nil
}
