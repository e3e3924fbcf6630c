// Command modbusctl sends single requests to a Modbus/TCP server.
//
// Usage:
//
//	modbusctl [flags] rc|rdi|rhr|rir <address> <count>
//	modbusctl [flags] wc <address> <0|1>
//	modbusctl [flags] wr <address> <value>...
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Skaginn3x/modbus/modbus"
)

func main() {
	var (
		target  string
		unit    uint
		timeout time.Duration
		debug   bool
	)
	flag.StringVar(&target, "target", "127.0.0.1:502", "server address (host:port)")
	flag.UintVar(&unit, "unit-id", 1, "unit id to address")
	flag.DurationVar(&timeout, "timeout", 3*time.Second, "timeout for connecting and for the request")
	flag.BoolVar(&debug, "debug", false, "log frames")
	flag.Parse()

	level := zerolog.WarnLevel
	if debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	args := flag.Args()
	if len(args) < 3 || unit > 255 {
		flag.Usage()
		os.Exit(2)
	}
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		logger.Fatal().Err(err).Str("target", target).Msg("bad target")
	}
	nums := make([]uint16, 0, len(args)-1)
	for _, arg := range args[1:] {
		v, err := strconv.ParseUint(arg, 0, 16)
		if err != nil {
			logger.Fatal().Err(err).Msg("bad argument")
		}
		nums = append(nums, uint16(v))
	}

	client, err := modbus.NewClient(
		modbus.WithClientLogger(logger),
		modbus.WithDialTimeout(timeout),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("create client")
	}
	// No defers from here on: os.Exit skips them.
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	if err := client.Connect(ctx, host, port); err != nil {
		cancel()
		logger.Error().Err(err).Str("target", target).Msg("connect failed")
		os.Exit(1)
	}
	err = run(ctx, client, modbus.UnitID(unit), args[0], nums)
	client.Close()
	cancel()
	if err != nil {
		logger.Error().Err(err).Str("command", args[0]).Msg("request failed")
		os.Exit(1)
	}
}

// run performs the request named by cmd and prints the result.
func run(
	ctx context.Context, c *modbus.Client, unit modbus.UnitID,
	cmd string, nums []uint16,
) error {
	switch cmd {
	case "rc", "rdi":
		if len(nums) != 2 {
			return fmt.Errorf("%s needs address and count", cmd)
		}
		read := c.ReadCoils
		if cmd == "rdi" {
			read = c.ReadDiscreteInputs
		}
		values, err := read(ctx, unit, nums[0], nums[1])
		if err != nil {
			return err
		}
		for i, v := range values {
			fmt.Printf("%d\t%t\n", int(nums[0])+i, v)
		}
	case "rhr", "rir":
		if len(nums) != 2 {
			return fmt.Errorf("%s needs address and count", cmd)
		}
		read := c.ReadHoldingRegisters
		if cmd == "rir" {
			read = c.ReadInputRegisters
		}
		values, err := read(ctx, unit, nums[0], nums[1])
		if err != nil {
			return err
		}
		for i, v := range values {
			fmt.Printf("%d\t%d\t0x%04x\n", int(nums[0])+i, v, v)
		}
	case "wc":
		if len(nums) != 2 {
			return fmt.Errorf("%s needs address and value", cmd)
		}
		return c.WriteSingleCoil(ctx, unit, nums[0], nums[1] != 0)
	case "wr":
		if len(nums) == 2 {
			return c.WriteSingleRegister(ctx, unit, nums[0], nums[1])
		}
		return c.WriteMultipleRegisters(ctx, unit, nums[0], nums[1:])
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
