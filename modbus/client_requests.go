package modbus

import (
	"context"
	"fmt"
)

// ReadCoils reads count coils starting at addr.
func (c *Client) ReadCoils(
	ctx context.Context, unit UnitID, addr, count uint16,
) ([]bool, error) {
	resp, err := c.Do(ctx, unit, &ReadCoilsRequest{Address: addr, Count: count})
	if err != nil {
		return nil, err
	}
	return resp.(*ReadCoilsResponse).Values, nil
}

// ReadDiscreteInputs reads count discrete inputs starting at addr.
func (c *Client) ReadDiscreteInputs(
	ctx context.Context, unit UnitID, addr, count uint16,
) ([]bool, error) {
	resp, err := c.Do(ctx, unit,
		&ReadDiscreteInputsRequest{Address: addr, Count: count})
	if err != nil {
		return nil, err
	}
	return resp.(*ReadDiscreteInputsResponse).Values, nil
}

// ReadHoldingRegisters reads count holding registers starting at addr.
func (c *Client) ReadHoldingRegisters(
	ctx context.Context, unit UnitID, addr, count uint16,
) ([]uint16, error) {
	resp, err := c.Do(ctx, unit,
		&ReadHoldingRegistersRequest{Address: addr, Count: count})
	if err != nil {
		return nil, err
	}
	return resp.(*ReadHoldingRegistersResponse).Values, nil
}

// ReadInputRegisters reads count input registers starting at addr.
func (c *Client) ReadInputRegisters(
	ctx context.Context, unit UnitID, addr, count uint16,
) ([]uint16, error) {
	resp, err := c.Do(ctx, unit,
		&ReadInputRegistersRequest{Address: addr, Count: count})
	if err != nil {
		return nil, err
	}
	return resp.(*ReadInputRegistersResponse).Values, nil
}

// WriteSingleCoil sets the coil at addr to value.
func (c *Client) WriteSingleCoil(
	ctx context.Context, unit UnitID, addr uint16, value bool,
) error {
	resp, err := c.Do(ctx, unit,
		&WriteSingleCoilRequest{Address: addr, Value: value})
	if err != nil {
		return err
	}
	r := resp.(*WriteSingleCoilResponse)
	return checkEcho(r.Address == addr && r.Value == value, resp)
}

// WriteSingleRegister sets the holding register at addr to value.
func (c *Client) WriteSingleRegister(
	ctx context.Context, unit UnitID, addr, value uint16,
) error {
	resp, err := c.Do(ctx, unit,
		&WriteSingleRegisterRequest{Address: addr, Value: value})
	if err != nil {
		return err
	}
	r := resp.(*WriteSingleRegisterResponse)
	return checkEcho(r.Address == addr && r.Value == value, resp)
}

// WriteMultipleCoils sets consecutive coils starting at addr to values.
func (c *Client) WriteMultipleCoils(
	ctx context.Context, unit UnitID, addr uint16, values []bool,
) error {
	resp, err := c.Do(ctx, unit,
		&WriteMultipleCoilsRequest{Address: addr, Values: values})
	if err != nil {
		return err
	}
	r := resp.(*WriteMultipleCoilsResponse)
	return checkEcho(r.Address == addr && int(r.Count) == len(values), resp)
}

// WriteMultipleRegisters sets consecutive holding registers starting at addr
// to values.
func (c *Client) WriteMultipleRegisters(
	ctx context.Context, unit UnitID, addr uint16, values []uint16,
) error {
	resp, err := c.Do(ctx, unit,
		&WriteMultipleRegistersRequest{Address: addr, Values: values})
	if err != nil {
		return err
	}
	r := resp.(*WriteMultipleRegistersResponse)
	return checkEcho(r.Address == addr && int(r.Count) == len(values), resp)
}

// MaskWriteRegister modifies the holding register at addr, setting it to
// (current AND andMask) OR (orMask AND NOT andMask).
func (c *Client) MaskWriteRegister(
	ctx context.Context, unit UnitID, addr, andMask, orMask uint16,
) error {
	resp, err := c.Do(ctx, unit, &MaskWriteRegisterRequest{
		Address: addr,
		AndMask: andMask,
		OrMask:  orMask,
	})
	if err != nil {
		return err
	}
	r := resp.(*MaskWriteRegisterResponse)
	return checkEcho(
		r.Address == addr && r.AndMask == andMask && r.OrMask == orMask, resp)
}

// ReadWriteMultipleRegisters writes values to consecutive holding registers
// starting at writeAddr, then reads readCount holding registers starting at
// readAddr.
func (c *Client) ReadWriteMultipleRegisters(
	ctx context.Context, unit UnitID,
	readAddr, readCount, writeAddr uint16, values []uint16,
) ([]uint16, error) {
	resp, err := c.Do(ctx, unit, &ReadWriteMultipleRegistersRequest{
		ReadAddress:  readAddr,
		ReadCount:    readCount,
		WriteAddress: writeAddr,
		Values:       values,
	})
	if err != nil {
		return nil, err
	}
	return resp.(*ReadWriteMultipleRegistersResponse).Values, nil
}

// checkEcho returns ErrUnexpectedResponse unless ok.
func checkEcho(ok bool, resp Response) error {
	if ok {
		return nil
	}
	return fmt.Errorf("%w: %+v", ErrUnexpectedResponse, resp)
}
