package modbus

import (
	"encoding/binary"
)

// ReadCoilsResponse carries the coil values read.
type ReadCoilsResponse struct {
	Values []bool
}

// ReadDiscreteInputsResponse carries the discrete input values read.
type ReadDiscreteInputsResponse struct {
	Values []bool
}

// ReadHoldingRegistersResponse carries the holding register values read.
type ReadHoldingRegistersResponse struct {
	Values []uint16
}

// ReadInputRegistersResponse carries the input register values read.
type ReadInputRegistersResponse struct {
	Values []uint16
}

// WriteSingleCoilResponse echoes the coil address and value written.
type WriteSingleCoilResponse struct {
	Address uint16
	Value   bool
}

// WriteSingleRegisterResponse echoes the register address and value written.
type WriteSingleRegisterResponse struct {
	Address uint16
	Value   uint16
}

// WriteMultipleCoilsResponse echoes the start address and number of coils
// written.
type WriteMultipleCoilsResponse struct {
	Address uint16
	Count   uint16
}

// WriteMultipleRegistersResponse echoes the start address and number of
// registers written.
type WriteMultipleRegistersResponse struct {
	Address uint16
	Count   uint16
}

// MaskWriteRegisterResponse echoes the register address and masks used.
type MaskWriteRegisterResponse struct {
	Address uint16
	AndMask uint16
	OrMask  uint16
}

// ReadWriteMultipleRegistersResponse carries the register values read after
// the write.
type ReadWriteMultipleRegistersResponse struct {
	Values []uint16
}

// ExceptionResponse is the response of a server which could not process a
// request. It may answer a request with any function code.
type ExceptionResponse struct {
	// Request is the function code of the failed request, without the error
	// bit. It is zero if the request carried no function code.
	Request FunctionCode

	// Code is the reason the request failed.
	Code ExceptionCode
}

func (*ReadCoilsResponse) isResponse()                  {}
func (*ReadDiscreteInputsResponse) isResponse()         {}
func (*ReadHoldingRegistersResponse) isResponse()       {}
func (*ReadInputRegistersResponse) isResponse()         {}
func (*WriteSingleCoilResponse) isResponse()            {}
func (*WriteSingleRegisterResponse) isResponse()        {}
func (*WriteMultipleCoilsResponse) isResponse()         {}
func (*WriteMultipleRegistersResponse) isResponse()     {}
func (*MaskWriteRegisterResponse) isResponse()          {}
func (*ReadWriteMultipleRegistersResponse) isResponse() {}
func (*ExceptionResponse) isResponse()                  {}

// Function implements Message.
func (*ReadCoilsResponse) Function() FunctionCode { return FunctionReadCoils }

// Function implements Message.
func (*ReadDiscreteInputsResponse) Function() FunctionCode { return FunctionReadDiscreteInputs }

// Function implements Message.
func (*ReadHoldingRegistersResponse) Function() FunctionCode { return FunctionReadHoldingRegisters }

// Function implements Message.
func (*ReadInputRegistersResponse) Function() FunctionCode { return FunctionReadInputRegisters }

// Function implements Message.
func (*WriteSingleCoilResponse) Function() FunctionCode { return FunctionWriteSingleCoil }

// Function implements Message.
func (*WriteSingleRegisterResponse) Function() FunctionCode { return FunctionWriteSingleRegister }

// Function implements Message.
func (*WriteMultipleCoilsResponse) Function() FunctionCode { return FunctionWriteMultipleCoils }

// Function implements Message.
func (*WriteMultipleRegistersResponse) Function() FunctionCode {
	return FunctionWriteMultipleRegisters
}

// Function implements Message.
func (*MaskWriteRegisterResponse) Function() FunctionCode { return FunctionMaskWriteRegister }

// Function implements Message.
func (*ReadWriteMultipleRegistersResponse) Function() FunctionCode {
	return FunctionReadWriteMultipleRegisters
}

// Function implements Message. It returns the request function code with
// the error bit set.
func (r *ExceptionResponse) Function() FunctionCode { return r.Request.AsError() }

// Length implements Message.
func (r *ReadCoilsResponse) Length() int { return 2 + bitBytes(len(r.Values)) }

// Length implements Message.
func (r *ReadDiscreteInputsResponse) Length() int { return 2 + bitBytes(len(r.Values)) }

// Length implements Message.
func (r *ReadHoldingRegistersResponse) Length() int { return 2 + 2*len(r.Values) }

// Length implements Message.
func (r *ReadInputRegistersResponse) Length() int { return 2 + 2*len(r.Values) }

// Length implements Message.
func (*WriteSingleCoilResponse) Length() int { return 5 }

// Length implements Message.
func (*WriteSingleRegisterResponse) Length() int { return 5 }

// Length implements Message.
func (*WriteMultipleCoilsResponse) Length() int { return 5 }

// Length implements Message.
func (*WriteMultipleRegistersResponse) Length() int { return 5 }

// Length implements Message.
func (*MaskWriteRegisterResponse) Length() int { return 7 }

// Length implements Message.
func (r *ReadWriteMultipleRegistersResponse) Length() int { return 2 + 2*len(r.Values) }

// Length implements Message.
func (*ExceptionResponse) Length() int { return 2 }

// appendBitsResponse appends the common byte count and packed bit layout.
func appendBitsResponse(dst []byte, fc FunctionCode, values []bool) []byte {
	dst = append(dst, byte(fc), byte(bitBytes(len(values))))
	return appendBits(dst, values)
}

// appendWordsResponse appends the common byte count and register layout.
func appendWordsResponse(dst []byte, fc FunctionCode, values []uint16) []byte {
	dst = append(dst, byte(fc), byte(2*len(values)))
	return appendWords(dst, values)
}

func (r *ReadCoilsResponse) appendPDU(dst []byte) []byte {
	return appendBitsResponse(dst, r.Function(), r.Values)
}

func (r *ReadDiscreteInputsResponse) appendPDU(dst []byte) []byte {
	return appendBitsResponse(dst, r.Function(), r.Values)
}

func (r *ReadHoldingRegistersResponse) appendPDU(dst []byte) []byte {
	return appendWordsResponse(dst, r.Function(), r.Values)
}

func (r *ReadInputRegistersResponse) appendPDU(dst []byte) []byte {
	return appendWordsResponse(dst, r.Function(), r.Values)
}

func (r *WriteSingleCoilResponse) appendPDU(dst []byte) []byte {
	return appendAddressCount(dst, r.Function(), r.Address, coilWord(r.Value))
}

func (r *WriteSingleRegisterResponse) appendPDU(dst []byte) []byte {
	return appendAddressCount(dst, r.Function(), r.Address, r.Value)
}

func (r *WriteMultipleCoilsResponse) appendPDU(dst []byte) []byte {
	return appendAddressCount(dst, r.Function(), r.Address, r.Count)
}

func (r *WriteMultipleRegistersResponse) appendPDU(dst []byte) []byte {
	return appendAddressCount(dst, r.Function(), r.Address, r.Count)
}

func (r *MaskWriteRegisterResponse) appendPDU(dst []byte) []byte {
	dst = appendAddressCount(dst, r.Function(), r.Address, r.AndMask)
	return binary.BigEndian.AppendUint16(dst, r.OrMask)
}

func (r *ReadWriteMultipleRegistersResponse) appendPDU(dst []byte) []byte {
	return appendWordsResponse(dst, r.Function(), r.Values)
}

func (r *ExceptionResponse) appendPDU(dst []byte) []byte {
	return append(dst, byte(r.Function()), byte(r.Code))
}
