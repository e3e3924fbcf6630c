package modbus

const (
	// minPDULen is the minimum PDU length, in bytes.
	minPDULen = 1

	// maxPDULen is the maximum PDU length, in bytes.
	maxPDULen = 253

	// maxADULen is the maximum length of unit identifier plus PDU, i. e., the
	// largest value an MBAP length field may legally carry.
	maxADULen = maxPDULen + 1
)

// Message is a Modbus protocol data unit: a function code followed by a
// function specific payload. The set of messages is closed; only the types
// in this package implement Message.
type Message interface {
	// Function returns the function code of this message.
	Function() FunctionCode

	// Length returns the exact encoded length of this message in bytes,
	// including the function code.
	Length() int

	// appendPDU appends the encoded message to dst.
	appendPDU(dst []byte) []byte
}

// Request is a Modbus request PDU. It is implemented by the ten request types
// of this package:
//
//	*ReadCoilsRequest
//	*ReadDiscreteInputsRequest
//	*ReadHoldingRegistersRequest
//	*ReadInputRegistersRequest
//	*WriteSingleCoilRequest
//	*WriteSingleRegisterRequest
//	*WriteMultipleCoilsRequest
//	*WriteMultipleRegistersRequest
//	*MaskWriteRegisterRequest
//	*ReadWriteMultipleRegistersRequest
type Request interface {
	Message
	isRequest()
}

// Response is a Modbus response PDU. It is implemented by the response type
// paired with each request type (e. g., *ReadCoilsResponse for
// *ReadCoilsRequest), and by *ExceptionResponse, which may answer any request.
type Response interface {
	Message
	isResponse()
}
