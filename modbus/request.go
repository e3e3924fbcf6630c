package modbus

import (
	"encoding/binary"
)

// ReadCoilsRequest reads Count coils starting at Address.
type ReadCoilsRequest struct {
	Address uint16
	Count   uint16
}

// ReadDiscreteInputsRequest reads Count discrete inputs starting at Address.
type ReadDiscreteInputsRequest struct {
	Address uint16
	Count   uint16
}

// ReadHoldingRegistersRequest reads Count holding registers starting at
// Address.
type ReadHoldingRegistersRequest struct {
	Address uint16
	Count   uint16
}

// ReadInputRegistersRequest reads Count input registers starting at Address.
type ReadInputRegistersRequest struct {
	Address uint16
	Count   uint16
}

// WriteSingleCoilRequest sets the coil at Address to Value.
type WriteSingleCoilRequest struct {
	Address uint16
	Value   bool
}

// WriteSingleRegisterRequest sets the holding register at Address to Value.
type WriteSingleRegisterRequest struct {
	Address uint16
	Value   uint16
}

// WriteMultipleCoilsRequest sets len(Values) coils starting at Address.
type WriteMultipleCoilsRequest struct {
	Address uint16
	Values  []bool
}

// WriteMultipleRegistersRequest sets len(Values) holding registers starting
// at Address.
type WriteMultipleRegistersRequest struct {
	Address uint16
	Values  []uint16
}

// MaskWriteRegisterRequest modifies the holding register at Address to
// (current AND AndMask) OR (OrMask AND NOT AndMask).
type MaskWriteRegisterRequest struct {
	Address uint16
	AndMask uint16
	OrMask  uint16
}

// ReadWriteMultipleRegistersRequest writes Values to the holding registers
// starting at WriteAddress and then reads ReadCount holding registers
// starting at ReadAddress, in a single transaction.
type ReadWriteMultipleRegistersRequest struct {
	ReadAddress  uint16
	ReadCount    uint16
	WriteAddress uint16
	Values       []uint16
}

func (*ReadCoilsRequest) isRequest()                  {}
func (*ReadDiscreteInputsRequest) isRequest()         {}
func (*ReadHoldingRegistersRequest) isRequest()       {}
func (*ReadInputRegistersRequest) isRequest()         {}
func (*WriteSingleCoilRequest) isRequest()            {}
func (*WriteSingleRegisterRequest) isRequest()        {}
func (*WriteMultipleCoilsRequest) isRequest()         {}
func (*WriteMultipleRegistersRequest) isRequest()     {}
func (*MaskWriteRegisterRequest) isRequest()          {}
func (*ReadWriteMultipleRegistersRequest) isRequest() {}

// Function implements Message.
func (*ReadCoilsRequest) Function() FunctionCode { return FunctionReadCoils }

// Function implements Message.
func (*ReadDiscreteInputsRequest) Function() FunctionCode { return FunctionReadDiscreteInputs }

// Function implements Message.
func (*ReadHoldingRegistersRequest) Function() FunctionCode { return FunctionReadHoldingRegisters }

// Function implements Message.
func (*ReadInputRegistersRequest) Function() FunctionCode { return FunctionReadInputRegisters }

// Function implements Message.
func (*WriteSingleCoilRequest) Function() FunctionCode { return FunctionWriteSingleCoil }

// Function implements Message.
func (*WriteSingleRegisterRequest) Function() FunctionCode { return FunctionWriteSingleRegister }

// Function implements Message.
func (*WriteMultipleCoilsRequest) Function() FunctionCode { return FunctionWriteMultipleCoils }

// Function implements Message.
func (*WriteMultipleRegistersRequest) Function() FunctionCode {
	return FunctionWriteMultipleRegisters
}

// Function implements Message.
func (*MaskWriteRegisterRequest) Function() FunctionCode { return FunctionMaskWriteRegister }

// Function implements Message.
func (*ReadWriteMultipleRegistersRequest) Function() FunctionCode {
	return FunctionReadWriteMultipleRegisters
}

// Length implements Message.
func (*ReadCoilsRequest) Length() int { return 5 }

// Length implements Message.
func (*ReadDiscreteInputsRequest) Length() int { return 5 }

// Length implements Message.
func (*ReadHoldingRegistersRequest) Length() int { return 5 }

// Length implements Message.
func (*ReadInputRegistersRequest) Length() int { return 5 }

// Length implements Message.
func (*WriteSingleCoilRequest) Length() int { return 5 }

// Length implements Message.
func (*WriteSingleRegisterRequest) Length() int { return 5 }

// Length implements Message.
func (r *WriteMultipleCoilsRequest) Length() int { return 6 + bitBytes(len(r.Values)) }

// Length implements Message.
func (r *WriteMultipleRegistersRequest) Length() int { return 6 + 2*len(r.Values) }

// Length implements Message.
func (*MaskWriteRegisterRequest) Length() int { return 7 }

// Length implements Message.
func (r *ReadWriteMultipleRegistersRequest) Length() int { return 10 + 2*len(r.Values) }

// appendAddressCount appends the common function code, address, and
// count/value layout shared by several requests and responses.
func appendAddressCount(dst []byte, fc FunctionCode, addr, n uint16) []byte {
	dst = append(dst, byte(fc))
	dst = binary.BigEndian.AppendUint16(dst, addr)
	return binary.BigEndian.AppendUint16(dst, n)
}

func (r *ReadCoilsRequest) appendPDU(dst []byte) []byte {
	return appendAddressCount(dst, r.Function(), r.Address, r.Count)
}

func (r *ReadDiscreteInputsRequest) appendPDU(dst []byte) []byte {
	return appendAddressCount(dst, r.Function(), r.Address, r.Count)
}

func (r *ReadHoldingRegistersRequest) appendPDU(dst []byte) []byte {
	return appendAddressCount(dst, r.Function(), r.Address, r.Count)
}

func (r *ReadInputRegistersRequest) appendPDU(dst []byte) []byte {
	return appendAddressCount(dst, r.Function(), r.Address, r.Count)
}

func (r *WriteSingleCoilRequest) appendPDU(dst []byte) []byte {
	return appendAddressCount(dst, r.Function(), r.Address, coilWord(r.Value))
}

func (r *WriteSingleRegisterRequest) appendPDU(dst []byte) []byte {
	return appendAddressCount(dst, r.Function(), r.Address, r.Value)
}

func (r *WriteMultipleCoilsRequest) appendPDU(dst []byte) []byte {
	dst = appendAddressCount(dst, r.Function(), r.Address, uint16(len(r.Values)))
	dst = append(dst, byte(bitBytes(len(r.Values))))
	return appendBits(dst, r.Values)
}

func (r *WriteMultipleRegistersRequest) appendPDU(dst []byte) []byte {
	dst = appendAddressCount(dst, r.Function(), r.Address, uint16(len(r.Values)))
	dst = append(dst, byte(2*len(r.Values)))
	return appendWords(dst, r.Values)
}

func (r *MaskWriteRegisterRequest) appendPDU(dst []byte) []byte {
	dst = appendAddressCount(dst, r.Function(), r.Address, r.AndMask)
	return binary.BigEndian.AppendUint16(dst, r.OrMask)
}

func (r *ReadWriteMultipleRegistersRequest) appendPDU(dst []byte) []byte {
	dst = appendAddressCount(dst, r.Function(), r.ReadAddress, r.ReadCount)
	dst = binary.BigEndian.AppendUint16(dst, r.WriteAddress)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(r.Values)))
	dst = append(dst, byte(2*len(r.Values)))
	return appendWords(dst, r.Values)
}
