package modbus

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

// requestVectors pairs requests with their encoding.
var requestVectors = []struct {
	name string
	req  Request
	pdu  []byte
}{
	{
		"read coils",
		&ReadCoilsRequest{Address: 0x13, Count: 0x25},
		[]byte{0x01, 0x00, 0x13, 0x00, 0x25},
	},
	{
		"read discrete inputs",
		&ReadDiscreteInputsRequest{Address: 0xC4, Count: 0x16},
		[]byte{0x02, 0x00, 0xC4, 0x00, 0x16},
	},
	{
		"read holding registers",
		&ReadHoldingRegistersRequest{Address: 0x6B, Count: 3},
		[]byte{0x03, 0x00, 0x6B, 0x00, 0x03},
	},
	{
		"read input registers",
		&ReadInputRegistersRequest{Address: 8, Count: 1},
		[]byte{0x04, 0x00, 0x08, 0x00, 0x01},
	},
	{
		"write single coil on",
		&WriteSingleCoilRequest{Address: 0xAC, Value: true},
		[]byte{0x05, 0x00, 0xAC, 0xFF, 0x00},
	},
	{
		"write single coil off",
		&WriteSingleCoilRequest{Address: 0xAC, Value: false},
		[]byte{0x05, 0x00, 0xAC, 0x00, 0x00},
	},
	{
		"write single register",
		&WriteSingleRegisterRequest{Address: 1, Value: 3},
		[]byte{0x06, 0x00, 0x01, 0x00, 0x03},
	},
	{
		"write multiple coils",
		&WriteMultipleCoilsRequest{Address: 0x13, Values: []bool{
			true, false, true, true, false, false, true, true,
			true, false,
		}},
		[]byte{0x0F, 0x00, 0x13, 0x00, 0x0A, 0x02, 0xCD, 0x01},
	},
	{
		"write multiple registers",
		&WriteMultipleRegistersRequest{Address: 1, Values: []uint16{0x000A, 0x0102}},
		[]byte{0x10, 0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x01, 0x02},
	},
	{
		"mask write register",
		&MaskWriteRegisterRequest{Address: 4, AndMask: 0xF2, OrMask: 0x25},
		[]byte{0x16, 0x00, 0x04, 0x00, 0xF2, 0x00, 0x25},
	},
	{
		"read/write multiple registers",
		&ReadWriteMultipleRegistersRequest{
			ReadAddress:  3,
			ReadCount:    6,
			WriteAddress: 0x0E,
			Values:       []uint16{0xFF, 0xFF, 0xFF},
		},
		[]byte{
			0x17, 0x00, 0x03, 0x00, 0x06, 0x00, 0x0E, 0x00, 0x03, 0x06,
			0x00, 0xFF, 0x00, 0xFF, 0x00, 0xFF,
		},
	},
}

// responseVectors pairs responses with their encoding and the request they
// answer.
var responseVectors = []struct {
	name string
	req  Request
	resp Response
	pdu  []byte
}{
	{
		"read coils",
		&ReadCoilsRequest{Address: 0x13, Count: 19},
		&ReadCoilsResponse{Values: []bool{
			true, false, true, true, false, false, true, true,
			true, true, false, true, false, true, true, false,
			true, false, true,
		}},
		[]byte{0x01, 0x03, 0xCD, 0x6B, 0x05},
	},
	{
		"read ten coils",
		&ReadCoilsRequest{Address: 0, Count: 10},
		&ReadCoilsResponse{Values: []bool{
			true, false, true, false, false, true, false, true,
			true, true,
		}},
		[]byte{0x01, 0x02, 0xA5, 0x03},
	},
	{
		"read discrete inputs",
		&ReadDiscreteInputsRequest{Address: 0xC4, Count: 4},
		&ReadDiscreteInputsResponse{Values: []bool{false, true, true, false}},
		[]byte{0x02, 0x01, 0x06},
	},
	{
		"read holding registers",
		&ReadHoldingRegistersRequest{Address: 0x6B, Count: 3},
		&ReadHoldingRegistersResponse{Values: []uint16{0x022B, 0, 0x64}},
		[]byte{0x03, 0x06, 0x02, 0x2B, 0x00, 0x00, 0x00, 0x64},
	},
	{
		"read input registers",
		&ReadInputRegistersRequest{Address: 8, Count: 1},
		&ReadInputRegistersResponse{Values: []uint16{10}},
		[]byte{0x04, 0x02, 0x00, 0x0A},
	},
	{
		"write single coil",
		&WriteSingleCoilRequest{Address: 0xAC, Value: true},
		&WriteSingleCoilResponse{Address: 0xAC, Value: true},
		[]byte{0x05, 0x00, 0xAC, 0xFF, 0x00},
	},
	{
		"write single register",
		&WriteSingleRegisterRequest{Address: 1, Value: 3},
		&WriteSingleRegisterResponse{Address: 1, Value: 3},
		[]byte{0x06, 0x00, 0x01, 0x00, 0x03},
	},
	{
		"write multiple coils",
		&WriteMultipleCoilsRequest{Address: 0x13, Values: make([]bool, 10)},
		&WriteMultipleCoilsResponse{Address: 0x13, Count: 10},
		[]byte{0x0F, 0x00, 0x13, 0x00, 0x0A},
	},
	{
		"write multiple registers",
		&WriteMultipleRegistersRequest{Address: 1, Values: make([]uint16, 2)},
		&WriteMultipleRegistersResponse{Address: 1, Count: 2},
		[]byte{0x10, 0x00, 0x01, 0x00, 0x02},
	},
	{
		"mask write register",
		&MaskWriteRegisterRequest{Address: 4, AndMask: 0xF2, OrMask: 0x25},
		&MaskWriteRegisterResponse{Address: 4, AndMask: 0xF2, OrMask: 0x25},
		[]byte{0x16, 0x00, 0x04, 0x00, 0xF2, 0x00, 0x25},
	},
	{
		"read/write multiple registers",
		&ReadWriteMultipleRegistersRequest{
			ReadAddress: 3, ReadCount: 6, WriteAddress: 0x0E,
			Values: []uint16{0xFF},
		},
		&ReadWriteMultipleRegistersResponse{Values: []uint16{
			0xFE, 0x0ACD, 1, 3, 0x0D, 0xFF,
		}},
		[]byte{
			0x17, 0x0C, 0x00, 0xFE, 0x0A, 0xCD, 0x00, 0x01, 0x00, 0x03,
			0x00, 0x0D, 0x00, 0xFF,
		},
	},
}

func TestEncodeRequest(t *testing.T) {
	for _, v := range requestVectors {
		got := Encode(v.req)
		if !bytes.Equal(got, v.pdu) {
			t.Errorf("%s: encoded % X, want % X", v.name, got, v.pdu)
		}
		if len(got) != v.req.Length() {
			t.Errorf("%s: encoded %d bytes, Length() %d",
				v.name, len(got), v.req.Length())
		}
	}
}

func TestDecodeRequest(t *testing.T) {
	for _, v := range requestVectors {
		got, err := DecodeRequest(v.pdu)
		if err != nil {
			t.Errorf("%s: %s", v.name, err)
			continue
		}
		if !reflect.DeepEqual(got, v.req) {
			t.Errorf("%s: decoded %+v, want %+v", v.name, got, v.req)
		}
	}
}

func TestDecodeRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		pdu  []byte
		want error
	}{
		{"empty", nil, ErrMessageSizeMismatch},
		{"unsupported function", []byte{0x07}, ExceptionIllegalFunction},
		{"exception function", []byte{0x83, 0x02}, ExceptionIllegalFunction},
		{"truncated", []byte{0x01, 0x00, 0x00, 0x00}, ErrMessageSizeMismatch},
		{"trailing byte", []byte{0x03, 0x00, 0x00, 0x00, 0x01, 0x00},
			ErrMessageSizeMismatch},
		{"zero count", []byte{0x01, 0x00, 0x00, 0x00, 0x00},
			ExceptionIllegalDataValue},
		{"too many coils", []byte{0x01, 0x00, 0x00, 0x07, 0xD1},
			ExceptionIllegalDataValue},
		{"too many registers", []byte{0x03, 0x00, 0x00, 0x00, 0x7E},
			ExceptionIllegalDataValue},
		{"address overflow", []byte{0x03, 0xFF, 0xFF, 0x00, 0x02},
			ExceptionIllegalDataAddress},
		{"bad coil value", []byte{0x05, 0x00, 0x01, 0x12, 0x34},
			ExceptionIllegalDataValue},
		{"coil byte count", []byte{0x0F, 0x00, 0x00, 0x00, 0x0A, 0x01, 0xFF},
			ExceptionIllegalDataValue},
		{"register data missing",
			[]byte{0x10, 0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A},
			ErrMessageSizeMismatch},
		{"register byte count",
			[]byte{0x10, 0x00, 0x01, 0x00, 0x02, 0x03, 0x00, 0x0A, 0x01},
			ExceptionIllegalDataValue},
		{"mask truncated", []byte{0x16, 0x00, 0x04, 0x00, 0xF2, 0x00},
			ErrMessageSizeMismatch},
		{"read/write count",
			[]byte{0x17, 0x00, 0x00, 0x00, 0x7E, 0x00, 0x00, 0x00, 0x01,
				0x02, 0x00, 0x00},
			ExceptionIllegalDataValue},
	}
	for _, test := range tests {
		_, err := DecodeRequest(test.pdu)
		if !errors.Is(err, test.want) {
			t.Errorf("%s: got error %v, want %v", test.name, err, test.want)
		}
	}
}

func TestWriteMultipleCoilsPadding(t *testing.T) {
	req, err := DecodeRequest(
		[]byte{0x0F, 0x00, 0x00, 0x00, 0x03, 0x01, 0xFD})
	if err != nil {
		t.Fatal(err)
	}
	want := &WriteMultipleCoilsRequest{Values: []bool{true, false, true}}
	if !reflect.DeepEqual(req, want) {
		t.Errorf("decoded %+v, want %+v", req, want)
	}
}

func TestEncodeResponse(t *testing.T) {
	for _, v := range responseVectors {
		got := Encode(v.resp)
		if !bytes.Equal(got, v.pdu) {
			t.Errorf("%s: encoded % X, want % X", v.name, got, v.pdu)
		}
		if len(got) != v.resp.Length() {
			t.Errorf("%s: encoded %d bytes, Length() %d",
				v.name, len(got), v.resp.Length())
		}
	}
}

func TestDecodeResponseFor(t *testing.T) {
	for _, v := range responseVectors {
		got, err := DecodeResponseFor(v.req, v.pdu)
		if err != nil {
			t.Errorf("%s: %s", v.name, err)
			continue
		}
		if !reflect.DeepEqual(got, v.resp) {
			t.Errorf("%s: decoded %+v, want %+v", v.name, got, v.resp)
		}
	}
}

func TestDecodeResponsePadding(t *testing.T) {
	resp, err := DecodeResponse(FunctionReadCoils, []byte{0x01, 0x02, 0xA5, 0x03})
	if err != nil {
		t.Fatal(err)
	}
	values := resp.(*ReadCoilsResponse).Values
	if len(values) != 16 {
		t.Fatalf("got %d values, want 16", len(values))
	}
	if !values[8] || !values[9] || values[10] {
		t.Errorf("bad values %v", values)
	}
}

func TestDecodeResponseErrors(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		pdu  []byte
		want error
	}{
		{"empty", &ReadHoldingRegistersRequest{Count: 1}, nil,
			ErrMessageSizeMismatch},
		{"exception", &ReadHoldingRegistersRequest{Count: 1},
			[]byte{0x83, 0x02}, ExceptionIllegalDataAddress},
		{"exception without code", &ReadHoldingRegistersRequest{Count: 1},
			[]byte{0x83}, ErrMessageSizeMismatch},
		{"exception for other function", &ReadCoilsRequest{Count: 1},
			[]byte{0x83, 0x02}, ErrFunctionMismatch},
		{"function mismatch", &ReadHoldingRegistersRequest{Count: 1},
			[]byte{0x04, 0x02, 0x00, 0x01}, ErrFunctionMismatch},
		{"odd byte count", &ReadHoldingRegistersRequest{Count: 1},
			[]byte{0x03, 0x03, 0x00, 0x01, 0x02}, ErrMessageSizeMismatch},
		{"short register data", &ReadHoldingRegistersRequest{Count: 2},
			[]byte{0x03, 0x04, 0x00, 0x01}, ErrMessageSizeMismatch},
		{"register count", &ReadHoldingRegistersRequest{Count: 2},
			[]byte{0x03, 0x02, 0x00, 0x01}, ErrMessageSizeMismatch},
		{"coil byte count", &ReadCoilsRequest{Count: 10},
			[]byte{0x01, 0x01, 0xFF}, ErrMessageSizeMismatch},
		{"bad coil echo", &WriteSingleCoilRequest{Address: 1},
			[]byte{0x05, 0x00, 0x01, 0x00, 0x01}, ExceptionIllegalDataValue},
		{"write echo truncated", &WriteMultipleRegistersRequest{Values: []uint16{1}},
			[]byte{0x10, 0x00, 0x00, 0x00}, ErrMessageSizeMismatch},
	}
	for _, test := range tests {
		_, err := DecodeResponseFor(test.req, test.pdu)
		if !errors.Is(err, test.want) {
			t.Errorf("%s: got error %v, want %v", test.name, err, test.want)
		}
	}
	if _, err := DecodeResponse(FunctionReadExceptionStatus,
		[]byte{0x07, 0x00}); !errors.Is(err, ExceptionIllegalFunction) {
		t.Errorf("unsupported function: got error %v", err)
	}
}

func TestExceptionResponse(t *testing.T) {
	resp := &ExceptionResponse{
		Request: FunctionReadHoldingRegisters,
		Code:    ExceptionIllegalDataAddress,
	}
	if got, want := Encode(resp), []byte{0x83, 0x02}; !bytes.Equal(got, want) {
		t.Errorf("encoded % X, want % X", got, want)
	}
	empty := &ExceptionResponse{Code: ExceptionIllegalFunction}
	if got, want := Encode(empty), []byte{0x80, 0x01}; !bytes.Equal(got, want) {
		t.Errorf("encoded % X, want % X", got, want)
	}
}

func TestAppendFrame(t *testing.T) {
	frame := AppendFrame(nil, Header{TransactionID: 0x1234, UnitID: 1},
		&ReadHoldingRegistersRequest{Address: 0x6B, Count: 3})
	want := []byte{
		0x12, 0x34, 0x00, 0x00, 0x00, 0x06, 0x01,
		0x03, 0x00, 0x6B, 0x00, 0x03,
	}
	if !bytes.Equal(frame, want) {
		t.Errorf("frame % X, want % X", frame, want)
	}
}

func TestHeader(t *testing.T) {
	b := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x11}
	h, err := DecodeHeader(b)
	if err != nil {
		t.Fatal(err)
	}
	want := Header{TransactionID: 1, Length: 6, UnitID: 0x11}
	if h != want {
		t.Errorf("decoded %+v, want %+v", h, want)
	}
	if got := h.Bytes(); !bytes.Equal(got[:], b) {
		t.Errorf("encoded % X, want % X", got, b)
	}
	if err := h.Validate(); err != nil {
		t.Errorf("validate: %s", err)
	}
	if h.PDULen() != 5 || h.FrameLen() != 12 {
		t.Errorf("PDULen %d, FrameLen %d", h.PDULen(), h.FrameLen())
	}
	if _, err := DecodeHeader(b[:6]); !errors.Is(err, ErrMessageSizeMismatch) {
		t.Errorf("short header: got error %v", err)
	}
	for _, bad := range []Header{
		{ProtocolID: 1, Length: 6},
		{Length: 1},
		{Length: 255},
	} {
		if err := bad.Validate(); !errors.Is(err, ErrBadHeader) {
			t.Errorf("%+v: got error %v", bad, err)
		}
	}
}

func TestCheckRequest(t *testing.T) {
	tests := []struct {
		req  Request
		want error
	}{
		{&ReadCoilsRequest{Count: 2000}, nil},
		{&ReadCoilsRequest{Count: 2001}, ExceptionIllegalDataValue},
		{&ReadInputRegistersRequest{Count: 0}, ExceptionIllegalDataValue},
		{&ReadHoldingRegistersRequest{Address: 0xFFFF, Count: 1}, nil},
		{&ReadHoldingRegistersRequest{Address: 0xFFFF, Count: 2},
			ExceptionIllegalDataAddress},
		{&WriteMultipleCoilsRequest{Values: make([]bool, 1969)},
			ExceptionIllegalDataValue},
		{&WriteMultipleRegistersRequest{Values: make([]uint16, 123)}, nil},
		{&WriteMultipleRegistersRequest{}, ExceptionIllegalDataValue},
		{&ReadWriteMultipleRegistersRequest{
			ReadCount: 1, Values: make([]uint16, 122),
		}, ExceptionIllegalDataValue},
		{&MaskWriteRegisterRequest{}, nil},
	}
	for _, test := range tests {
		err := CheckRequest(test.req)
		if test.want == nil && err != nil || !errors.Is(err, test.want) {
			t.Errorf("%+v: got error %v, want %v", test.req, err, test.want)
		}
	}
	if err := CheckRequest(nil); err == nil {
		t.Error("nil request accepted")
	}
}

func TestFunctionCodeString(t *testing.T) {
	if s := FunctionReadCoils.AsError().String(); s != "read coils (exception)" {
		t.Errorf("got %q", s)
	}
	if s := FunctionCode(100).String(); s != "function 100" {
		t.Errorf("got %q", s)
	}
}

func FuzzDecodeRequest(f *testing.F) {
	for _, v := range requestVectors {
		f.Add(v.pdu)
	}
	f.Fuzz(func(t *testing.T, pdu []byte) {
		req, err := DecodeRequest(pdu)
		if err != nil {
			return
		}
		if err := CheckRequest(req); err != nil {
			t.Fatalf("decoded request fails check: %s", err)
		}
		again, err := DecodeRequest(Encode(req))
		if err != nil {
			t.Fatalf("re-decode: %s", err)
		}
		if !reflect.DeepEqual(again, req) {
			t.Fatalf("re-decoded %+v, want %+v", again, req)
		}
	})
}

func FuzzDecodeResponse(f *testing.F) {
	for _, v := range responseVectors {
		f.Add(byte(v.req.Function()), v.pdu)
	}
	f.Add(byte(FunctionReadHoldingRegisters), []byte{0x83, 0x02})
	f.Fuzz(func(t *testing.T, fc byte, pdu []byte) {
		resp, err := DecodeResponse(FunctionCode(fc), pdu)
		if err != nil {
			return
		}
		// Encode panics if the encoded length disagrees with Length.
		if Encode(resp)[0] != fc {
			t.Fatalf("function code changed")
		}
	})
}

func TestUnitIDIsValid(t *testing.T) {
	for _, uid := range []UnitID{UnitBroadcast, 1, UnitIndividualMax, UnitTCP} {
		if !uid.IsValid() {
			t.Errorf("unit %s rejected", uid)
		}
	}
	for _, uid := range []UnitID{UnitIndividualMax + 1, 254} {
		if uid.IsValid() {
			t.Errorf("unit %s accepted", uid)
		}
	}
}
