package modbus

import (
	"encoding/binary"
	"fmt"
)

// requestParsers maps supported function codes to their request parser.
var requestParsers = map[FunctionCode]func([]byte) (Request, error){
	FunctionReadCoils:                  parseReadCoils,
	FunctionReadDiscreteInputs:         parseReadDiscreteInputs,
	FunctionReadHoldingRegisters:       parseReadHoldingRegisters,
	FunctionReadInputRegisters:         parseReadInputRegisters,
	FunctionWriteSingleCoil:            parseWriteSingleCoil,
	FunctionWriteSingleRegister:        parseWriteSingleRegister,
	FunctionWriteMultipleCoils:         parseWriteMultipleCoils,
	FunctionWriteMultipleRegisters:     parseWriteMultipleRegisters,
	FunctionMaskWriteRegister:          parseMaskWriteRegister,
	FunctionReadWriteMultipleRegisters: parseReadWriteMultipleRegisters,
}

// DecodeRequest decodes a request PDU (function code plus request data).
//
// An unsupported function code yields ExceptionIllegalFunction. Truncated or
// overlong data yields ErrMessageSizeMismatch. Quantities outside the limits
// of the Modbus application protocol, or an invalid coil value, yield
// ExceptionIllegalDataValue; ranges leaving the address space yield
// ExceptionIllegalDataAddress.
func DecodeRequest(pdu []byte) (Request, error) {
	if len(pdu) < minPDULen {
		return nil, ErrMessageSizeMismatch
	}
	parse, ok := requestParsers[FunctionCode(pdu[0])]
	if !ok {
		return nil, ExceptionIllegalFunction
	}
	return parse(pdu[1:])
}

// DecodeResponse decodes a response PDU which is expected to answer a request
// with function code fc.
//
// If the PDU is an exception response, the returned error is the
// ExceptionCode it carries. Bit collections (coils and discrete inputs) are
// decoded including the padding bits of the last byte; use DecodeResponseFor
// to trim them to the requested count.
func DecodeResponse(fc FunctionCode, pdu []byte) (Response, error) {
	if len(pdu) < minPDULen {
		return nil, ErrMessageSizeMismatch
	}
	got := FunctionCode(pdu[0])
	if got.IsError() {
		if len(pdu) != 2 {
			return nil, ErrMessageSizeMismatch
		}
		if got&^FunctionError != fc {
			return nil, fmt.Errorf("%w: expected exception for %d, got %d",
				ErrFunctionMismatch, fc, got)
		}
		return nil, ExceptionCode(pdu[1])
	}
	if !fc.IsSupported() {
		return nil, ExceptionIllegalFunction
	}
	if got != fc {
		return nil, fmt.Errorf("%w: expected %d, got %d",
			ErrFunctionMismatch, fc, got)
	}
	data := pdu[1:]
	switch fc {
	case FunctionReadCoils:
		values, err := decodeBitsResponse(data)
		if err != nil {
			return nil, err
		}
		return &ReadCoilsResponse{Values: values}, nil
	case FunctionReadDiscreteInputs:
		values, err := decodeBitsResponse(data)
		if err != nil {
			return nil, err
		}
		return &ReadDiscreteInputsResponse{Values: values}, nil
	case FunctionReadHoldingRegisters:
		values, err := decodeWordsResponse(data)
		if err != nil {
			return nil, err
		}
		return &ReadHoldingRegistersResponse{Values: values}, nil
	case FunctionReadInputRegisters:
		values, err := decodeWordsResponse(data)
		if err != nil {
			return nil, err
		}
		return &ReadInputRegistersResponse{Values: values}, nil
	case FunctionWriteSingleCoil:
		addr, w, err := parseAddressValue(data)
		if err != nil {
			return nil, err
		}
		value, err := parseCoilWord(w)
		if err != nil {
			return nil, err
		}
		return &WriteSingleCoilResponse{Address: addr, Value: value}, nil
	case FunctionWriteSingleRegister:
		addr, value, err := parseAddressValue(data)
		if err != nil {
			return nil, err
		}
		return &WriteSingleRegisterResponse{Address: addr, Value: value}, nil
	case FunctionWriteMultipleCoils:
		addr, n, err := parseAddressValue(data)
		if err != nil {
			return nil, err
		}
		return &WriteMultipleCoilsResponse{Address: addr, Count: n}, nil
	case FunctionWriteMultipleRegisters:
		addr, n, err := parseAddressValue(data)
		if err != nil {
			return nil, err
		}
		return &WriteMultipleRegistersResponse{Address: addr, Count: n}, nil
	case FunctionMaskWriteRegister:
		if len(data) != 6 {
			return nil, ErrMessageSizeMismatch
		}
		return &MaskWriteRegisterResponse{
			Address: binary.BigEndian.Uint16(data[0:2]),
			AndMask: binary.BigEndian.Uint16(data[2:4]),
			OrMask:  binary.BigEndian.Uint16(data[4:6]),
		}, nil
	case FunctionReadWriteMultipleRegisters:
		values, err := decodeWordsResponse(data)
		if err != nil {
			return nil, err
		}
		return &ReadWriteMultipleRegistersResponse{Values: values}, nil
	}
	panic(fmt.Sprintf("supported function %d without response decoder", fc))
}

// DecodeResponseFor decodes a response PDU answering req and checks that the
// response matches the request: bit collections must carry exactly the bytes
// needed for the requested count and are trimmed to it, register collections
// must carry exactly the requested number of registers.
func DecodeResponseFor(req Request, pdu []byte) (Response, error) {
	resp, err := DecodeResponse(req.Function(), pdu)
	if err != nil {
		return nil, err
	}
	switch r := req.(type) {
	case *ReadCoilsRequest:
		v := resp.(*ReadCoilsResponse)
		v.Values, err = fitBits(v.Values, int(r.Count))
	case *ReadDiscreteInputsRequest:
		v := resp.(*ReadDiscreteInputsResponse)
		v.Values, err = fitBits(v.Values, int(r.Count))
	case *ReadHoldingRegistersRequest:
		err = fitWords(resp.(*ReadHoldingRegistersResponse).Values, int(r.Count))
	case *ReadInputRegistersRequest:
		err = fitWords(resp.(*ReadInputRegistersResponse).Values, int(r.Count))
	case *ReadWriteMultipleRegistersRequest:
		err = fitWords(
			resp.(*ReadWriteMultipleRegistersResponse).Values, int(r.ReadCount))
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// fitBits trims decoded bit values, including padding, to n values.
func fitBits(values []bool, n int) ([]bool, error) {
	if len(values) != 8*bitBytes(n) {
		return nil, ErrMessageSizeMismatch
	}
	return values[:n], nil
}

// fitWords checks the number of decoded register values.
func fitWords(values []uint16, n int) error {
	if len(values) != n {
		return ErrMessageSizeMismatch
	}
	return nil
}

// decodeBitsResponse decodes the byte count and packed bits of a coil or
// discrete input response.
func decodeBitsResponse(data []byte) ([]bool, error) {
	if len(data) < 1 || len(data)-1 != int(data[0]) {
		return nil, ErrMessageSizeMismatch
	}
	return bits(data[1:], 8*int(data[0])), nil
}

// decodeWordsResponse decodes the byte count and registers of a register
// response.
func decodeWordsResponse(data []byte) ([]uint16, error) {
	if len(data) < 1 || len(data)-1 != int(data[0]) || data[0]%2 != 0 {
		return nil, ErrMessageSizeMismatch
	}
	return words(data[1:]), nil
}

// AppendPDU appends the encoded message m to dst.
// It panics if the encoded length disagrees with m.Length().
func AppendPDU(dst []byte, m Message) []byte {
	start := len(dst)
	dst = m.appendPDU(dst)
	if n := len(dst) - start; n != m.Length() {
		panic(fmt.Sprintf("%T: encoded %d bytes, length %d", m, n, m.Length()))
	}
	return dst
}

// Encode returns the encoded message m.
func Encode(m Message) []byte {
	return AppendPDU(make([]byte, 0, m.Length()), m)
}

// AppendFrame appends a complete Modbus/TCP frame, i. e., the MBAP header h
// followed by the encoded message m, to dst. The length field of h is set from
// m.Length(); the protocol identifier is always zero.
func AppendFrame(dst []byte, h Header, m Message) []byte {
	h.ProtocolID = 0
	h.Length = uint16(m.Length() + 1)
	return AppendPDU(h.AppendTo(dst), m)
}

// checkResponse checks that a response produced by a Handler fits into a
// single frame answering req.
func checkResponse(req Request, resp Response) error {
	if resp == nil {
		return fmt.Errorf("nil response to %s request", req.Function())
	}
	if resp.Function() != req.Function() {
		return fmt.Errorf("%T response to %s request", resp, req.Function())
	}
	if resp.Length() > maxPDULen {
		return fmt.Errorf("response length %d exceeds maximum PDU length",
			resp.Length())
	}
	return nil
}
