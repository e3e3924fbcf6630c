package modbus

import (
	"context"
	"errors"
	"net"
	"reflect"
	"sync"
	"testing"
)

// serveData starts a listener serving a fresh data model on unit 1 and
// returns a client connected to it.
func serveData(t *testing.T) (*Client, *Data) {
	t.Helper()
	var ranges []DataRange
	for dt := DataType(0); dt < numDataTypes; dt++ {
		ranges = append(ranges, DataRange{Type: dt, Len: 100})
	}
	data, err := NewData(DataModel{Ranges: ranges})
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer()
	if err := data.AddToServer(srv, 1); err != nil {
		t.Fatal(err)
	}
	l := listen(t, srv)
	c, err := NewClient()
	if err != nil {
		t.Fatal(err)
	}
	host, port, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(context.Background(), host, port); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c, data
}

func TestClientServerFunctions(t *testing.T) {
	c, data := serveData(t)
	ctx := context.Background()

	if err := c.WriteSingleCoil(ctx, 1, 5, true); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteMultipleCoils(ctx, 1, 10, []bool{true, false, true}); err != nil {
		t.Fatal(err)
	}
	coils, err := c.ReadCoils(ctx, 1, 4, 9)
	if err != nil {
		t.Fatal(err)
	}
	want := []bool{false, true, false, false, false, false, true, false, true}
	if !reflect.DeepEqual(coils, want) {
		t.Errorf("coils %v, want %v", coils, want)
	}

	if err := data.SetBool(DataTypeDiscreteInputs, 3, true); err != nil {
		t.Fatal(err)
	}
	inputs, err := c.ReadDiscreteInputs(ctx, 1, 0, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(inputs, []bool{false, false, false, true, false}) {
		t.Errorf("discrete inputs %v", inputs)
	}

	if err := data.SetUint16(DataTypeInputRegisters, 2, 0xBEEF); err != nil {
		t.Fatal(err)
	}
	inRegs, err := c.ReadInputRegisters(ctx, 1, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(inRegs, []uint16{0, 0xBEEF}) {
		t.Errorf("input registers %v", inRegs)
	}

	if err := c.WriteSingleRegister(ctx, 1, 0, 0x1234); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteMultipleRegisters(ctx, 1, 1, []uint16{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	regs, err := c.ReadHoldingRegisters(ctx, 1, 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(regs, []uint16{0x1234, 1, 2, 3}) {
		t.Errorf("holding registers %v", regs)
	}

	if err := c.MaskWriteRegister(ctx, 1, 0, 0xF2, 0x25); err != nil {
		t.Fatal(err)
	}
	regs, err = c.ReadWriteMultipleRegisters(ctx, 1, 0, 4, 2, []uint16{9})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(regs, []uint16{0x35, 1, 9, 3}) {
		t.Errorf("read/write registers %v", regs)
	}
	if v, err := data.Uint16(DataTypeHoldingRegisters, 2); err != nil || v != 9 {
		t.Errorf("holding register 2: %d, %v", v, err)
	}
}

func TestClientServerExceptions(t *testing.T) {
	c, _ := serveData(t)
	ctx := context.Background()
	if _, err := c.ReadHoldingRegisters(ctx, 1, 99, 2); err != ExceptionIllegalDataAddress {
		t.Errorf("read past range: got error %v", err)
	}
	if _, err := c.ReadHoldingRegisters(ctx, 2, 0, 1); err != ExceptionIllegalFunction {
		t.Errorf("unknown unit: got error %v", err)
	}
	if c.State() != StateConnected {
		t.Errorf("state %s", c.State())
	}
}

func TestClientServerPipelining(t *testing.T) {
	c, data := serveData(t)
	for i := uint16(0); i < 100; i++ {
		if err := data.SetUint16(DataTypeHoldingRegisters, i, 1000+i); err != nil {
			t.Fatal(err)
		}
	}
	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := uint16(0); i < 100; i++ {
		wg.Add(1)
		go func(addr uint16) {
			defer wg.Done()
			regs, err := c.ReadHoldingRegisters(context.Background(), 1, addr, 1)
			if err != nil {
				errs <- err
				return
			}
			if regs[0] != 1000+addr {
				errs <- errors.New("response matched to wrong request")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
