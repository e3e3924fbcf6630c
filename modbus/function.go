package modbus

import (
	"fmt"
)

// FunctionCode describes a Modbus function code.
type FunctionCode uint8

// Function code constants.
const (
	FunctionReadCoils                  FunctionCode = 1
	FunctionReadDiscreteInputs         FunctionCode = 2
	FunctionReadHoldingRegisters       FunctionCode = 3
	FunctionReadInputRegisters         FunctionCode = 4
	FunctionWriteSingleCoil            FunctionCode = 5
	FunctionWriteSingleRegister        FunctionCode = 6
	FunctionReadExceptionStatus        FunctionCode = 7
	FunctionDiagnostic                 FunctionCode = 8
	FunctionGetComEventCounter         FunctionCode = 11
	FunctionGetComEventLog             FunctionCode = 12
	FunctionWriteMultipleCoils         FunctionCode = 15
	FunctionWriteMultipleRegisters     FunctionCode = 16
	FunctionReportServerID             FunctionCode = 17
	FunctionReadFileRecord             FunctionCode = 20
	FunctionWriteFileRecord            FunctionCode = 21
	FunctionMaskWriteRegister          FunctionCode = 22
	FunctionReadWriteMultipleRegisters FunctionCode = 23
	FunctionReadFIFOQueue              FunctionCode = 24
	FunctionReadDeviceID               FunctionCode = 43
)

// FunctionError is the bit in the function code which determines
// whether the function was successful or not.
const FunctionError FunctionCode = 0x80

// supportedFunctions lists the function codes this package can encode and
// decode. Must be sorted in ascending order.
var supportedFunctions = [...]FunctionCode{
	FunctionReadCoils,
	FunctionReadDiscreteInputs,
	FunctionReadHoldingRegisters,
	FunctionReadInputRegisters,
	FunctionWriteSingleCoil,
	FunctionWriteSingleRegister,
	FunctionWriteMultipleCoils,
	FunctionWriteMultipleRegisters,
	FunctionMaskWriteRegister,
	FunctionReadWriteMultipleRegisters,
}

// functionNames maps function codes to a textual representation.
var functionNames = map[FunctionCode]string{
	FunctionReadCoils:                  "read coils",
	FunctionReadDiscreteInputs:         "read discrete inputs",
	FunctionReadHoldingRegisters:       "read holding registers",
	FunctionReadInputRegisters:         "read input registers",
	FunctionWriteSingleCoil:            "write single coil",
	FunctionWriteSingleRegister:        "write single register",
	FunctionReadExceptionStatus:        "read exception status",
	FunctionDiagnostic:                 "diagnostic",
	FunctionGetComEventCounter:         "get comm event counter",
	FunctionGetComEventLog:             "get comm event log",
	FunctionWriteMultipleCoils:         "write multiple coils",
	FunctionWriteMultipleRegisters:     "write multiple registers",
	FunctionReportServerID:             "report server id",
	FunctionReadFileRecord:             "read file record",
	FunctionWriteFileRecord:            "write file record",
	FunctionMaskWriteRegister:          "mask write register",
	FunctionReadWriteMultipleRegisters: "read/write multiple registers",
	FunctionReadFIFOQueue:              "read fifo queue",
	FunctionReadDeviceID:               "read device identification",
}

// IsSupported determines whether messages with this function code can be
// encoded and decoded by this package.
func (fc FunctionCode) IsSupported() bool {
	for _, f := range supportedFunctions {
		if f == fc {
			return true
		}
	}
	return false
}

// IsError determines whether this function code is from an error
// response.
func (fc FunctionCode) IsError() bool {
	return fc&FunctionError != 0
}

// AsError returns this function code with the error response bit set.
func (fc FunctionCode) AsError() FunctionCode {
	return fc | FunctionError
}

// String returns a textual representation of this function code.
func (fc FunctionCode) String() string {
	if s, ok := functionNames[fc&^FunctionError]; ok {
		if fc.IsError() {
			return s + " (exception)"
		}
		return s
	}
	return fmt.Sprintf("function %d", uint8(fc))
}
