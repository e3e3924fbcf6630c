package modbus

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the size of the MBAP header, in bytes.
const HeaderSize = 7

// Header is the Modbus application protocol (MBAP) header which frames each
// Modbus/TCP message.
type Header struct {
	// TransactionID is chosen by the client and echoed by the server.
	TransactionID uint16

	// ProtocolID is always zero for Modbus.
	ProtocolID uint16

	// Length is the number of bytes following the length field, i. e., one
	// byte for the unit identifier plus the PDU length.
	Length uint16

	// UnitID addresses a device behind a gateway.
	UnitID UnitID
}

// DecodeHeader decodes an MBAP header from the first HeaderSize bytes of b.
// The header fields are not validated.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrMessageSizeMismatch
	}
	return Header{
		TransactionID: binary.BigEndian.Uint16(b[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(b[2:4]),
		Length:        binary.BigEndian.Uint16(b[4:6]),
		UnitID:        UnitID(b[6]),
	}, nil
}

// AppendTo appends the encoded header to dst.
func (h Header) AppendTo(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, h.TransactionID)
	dst = binary.BigEndian.AppendUint16(dst, h.ProtocolID)
	dst = binary.BigEndian.AppendUint16(dst, h.Length)
	return append(dst, byte(h.UnitID))
}

// Bytes returns the encoded header.
func (h Header) Bytes() (b [HeaderSize]byte) {
	h.AppendTo(b[:0])
	return
}

// Validate validates this header.
func (h Header) Validate() error {
	if h.ProtocolID != 0 {
		return fmt.Errorf("%w: protocol identifier %d", ErrBadHeader, h.ProtocolID)
	}
	// Encoded length is PDU length + 1 byte for the unit identifier.
	if h.Length < minPDULen+1 || h.Length > maxADULen {
		return fmt.Errorf("%w: length %d", ErrBadHeader, h.Length)
	}
	return nil
}

// PDULen returns the PDU length encoded in this header.
func (h Header) PDULen() int {
	return int(h.Length) - 1 // subtract unit id byte
}

// FrameLen returns the total length of the frame framed by this header,
// including the header itself.
func (h Header) FrameLen() int {
	return HeaderSize - 1 + int(h.Length)
}
