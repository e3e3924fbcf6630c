package modbus

import (
	"bytes"
	"context"
	"errors"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	goburrow "github.com/goburrow/modbus"
	simonvetter "github.com/simonvetter/modbus"
)

// TestInteropGoburrowClient drives our listener with a third-party client.
func TestInteropGoburrowClient(t *testing.T) {
	data, err := NewData(DataModel{Ranges: []DataRange{
		{Type: DataTypeCoils, Len: 32},
		{Type: DataTypeDiscreteInputs, Len: 32},
		{Type: DataTypeInputRegisters, Len: 16},
		{Type: DataTypeHoldingRegisters, Len: 16},
	}})
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer()
	if err := data.AddToServer(srv, 1); err != nil {
		t.Fatal(err)
	}
	l := listen(t, srv)

	handler := goburrow.NewTCPClientHandler(l.Addr().String())
	handler.Timeout = testTimeout
	handler.SlaveId = 1
	if err := handler.Connect(); err != nil {
		t.Fatal(err)
	}
	defer handler.Close()
	client := goburrow.NewClient(handler)

	if _, err := client.WriteMultipleCoils(0, 10, []byte{0xA5, 0x03}); err != nil {
		t.Fatal(err)
	}
	got, err := client.ReadCoils(0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0xA5, 0x03}) {
		t.Errorf("coils % X", got)
	}
	if _, err := client.WriteSingleCoil(12, 0xFF00); err != nil {
		t.Fatal(err)
	}
	if v, _ := data.Bool(DataTypeCoils, 12); !v {
		t.Error("coil 12 not set")
	}

	if err := data.SetBool(DataTypeDiscreteInputs, 9, true); err != nil {
		t.Fatal(err)
	}
	if got, err := client.ReadDiscreteInputs(8, 3); err != nil || !bytes.Equal(got, []byte{0x02}) {
		t.Errorf("discrete inputs % X, %v", got, err)
	}

	if err := data.SetUint32BE(DataTypeInputRegisters, 4, 0xDEADBEEF); err != nil {
		t.Fatal(err)
	}
	if got, err := client.ReadInputRegisters(4, 2); err != nil ||
		!bytes.Equal(got, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Errorf("input registers % X, %v", got, err)
	}

	if _, err := client.WriteSingleRegister(0, 0x1234); err != nil {
		t.Fatal(err)
	}
	if _, err := client.WriteMultipleRegisters(1, 2, []byte{0x00, 0x01, 0x00, 0x02}); err != nil {
		t.Fatal(err)
	}
	if _, err := client.MaskWriteRegister(0, 0xF2, 0x25); err != nil {
		t.Fatal(err)
	}
	got, err = client.ReadWriteMultipleRegisters(0, 3, 2, 1, []byte{0x00, 0x09})
	if err != nil {
		t.Fatal(err)
	}
	if want := []byte{0x00, 0x35, 0x00, 0x01, 0x00, 0x09}; !bytes.Equal(got, want) {
		t.Errorf("holding registers % X, want % X", got, want)
	}

	_, err = client.ReadHoldingRegisters(15, 2)
	var mbErr *goburrow.ModbusError
	if !errors.As(err, &mbErr) ||
		mbErr.ExceptionCode != byte(ExceptionIllegalDataAddress) {
		t.Errorf("read past range: got error %v", err)
	}
}

// simonvetterHandler serves coils and holding registers for unit 1 from
// memory.
type simonvetterHandler struct {
	mx        sync.Mutex
	coils     [64]bool
	registers [64]uint16
}

func (h *simonvetterHandler) HandleCoils(
	req *simonvetter.CoilsRequest,
) (res []bool, err error) {
	if req.UnitId != 1 {
		return nil, simonvetter.ErrIllegalFunction
	}
	if int(req.Addr)+int(req.Quantity) > len(h.coils) {
		return nil, simonvetter.ErrIllegalDataAddress
	}
	h.mx.Lock()
	defer h.mx.Unlock()
	for i := 0; i < int(req.Quantity); i++ {
		if req.IsWrite {
			h.coils[int(req.Addr)+i] = req.Args[i]
		}
		res = append(res, h.coils[int(req.Addr)+i])
	}
	return res, nil
}

func (h *simonvetterHandler) HandleDiscreteInputs(
	req *simonvetter.DiscreteInputsRequest,
) ([]bool, error) {
	res := make([]bool, req.Quantity)
	for i := range res {
		res[i] = (int(req.Addr)+i)%2 == 1
	}
	return res, nil
}

func (h *simonvetterHandler) HandleHoldingRegisters(
	req *simonvetter.HoldingRegistersRequest,
) (res []uint16, err error) {
	if int(req.Addr)+int(req.Quantity) > len(h.registers) {
		return nil, simonvetter.ErrIllegalDataAddress
	}
	h.mx.Lock()
	defer h.mx.Unlock()
	for i := 0; i < int(req.Quantity); i++ {
		if req.IsWrite {
			h.registers[int(req.Addr)+i] = req.Args[i]
		}
		res = append(res, h.registers[int(req.Addr)+i])
	}
	return res, nil
}

func (h *simonvetterHandler) HandleInputRegisters(
	req *simonvetter.InputRegistersRequest,
) ([]uint16, error) {
	res := make([]uint16, req.Quantity)
	for i := range res {
		res[i] = req.Addr + uint16(i)
	}
	return res, nil
}

// freePort returns a loopback port which is currently unused.
func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	_, port, _ := net.SplitHostPort(l.Addr().String())
	return port
}

// TestInteropSimonvetterServer drives a third-party server with our client.
func TestInteropSimonvetterServer(t *testing.T) {
	port := freePort(t)
	h := &simonvetterHandler{}
	server, err := simonvetter.NewServer(&simonvetter.ServerConfiguration{
		URL:        "tcp://127.0.0.1:" + port,
		Timeout:    testTimeout,
		MaxClients: 2,
	}, h)
	if err != nil {
		t.Fatal(err)
	}
	if err := server.Start(); err != nil {
		t.Fatal(err)
	}
	defer server.Stop()

	c, err := NewClient(WithDialTimeout(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := c.Connect(ctx, "127.0.0.1", port); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.WriteMultipleCoils(ctx, 1, 3, []bool{true, true, false, true}); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteSingleCoil(ctx, 1, 20, true); err != nil {
		t.Fatal(err)
	}
	coils, err := c.ReadCoils(ctx, 1, 2, 6)
	if err != nil {
		t.Fatal(err)
	}
	if want := []bool{false, true, true, false, true, false}; !reflect.DeepEqual(coils, want) {
		t.Errorf("coils %v, want %v", coils, want)
	}
	h.mx.Lock()
	if !h.coils[20] {
		t.Error("coil 20 not set")
	}
	h.mx.Unlock()

	inputs, err := c.ReadDiscreteInputs(ctx, 1, 0, 11)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range inputs {
		if v != (i%2 == 1) {
			t.Errorf("discrete input %d is %t", i, v)
		}
	}

	if err := c.WriteSingleRegister(ctx, 1, 5, 0xCAFE); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteMultipleRegisters(ctx, 1, 6, []uint16{7, 8}); err != nil {
		t.Fatal(err)
	}
	regs, err := c.ReadHoldingRegisters(ctx, 1, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	if want := []uint16{0, 0xCAFE, 7, 8}; !reflect.DeepEqual(regs, want) {
		t.Errorf("holding registers %v, want %v", regs, want)
	}

	inRegs, err := c.ReadInputRegisters(ctx, 1, 100, 3)
	if err != nil {
		t.Fatal(err)
	}
	if want := []uint16{100, 101, 102}; !reflect.DeepEqual(inRegs, want) {
		t.Errorf("input registers %v, want %v", inRegs, want)
	}

	if _, err := c.ReadHoldingRegisters(ctx, 1, 63, 2); err != ExceptionIllegalDataAddress {
		t.Errorf("read past range: got error %v", err)
	}
	if _, err := c.ReadCoils(ctx, 2, 0, 1); err != ExceptionIllegalFunction {
		t.Errorf("unknown unit: got error %v", err)
	}
}
