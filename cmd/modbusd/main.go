// Command modbusd serves an in-memory Modbus data model over Modbus/TCP.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Skaginn3x/modbus/modbus"
)

func main() {
	var (
		listen         string
		unit           uint
		size           uint
		idleTimeout    time.Duration
		requestTimeout time.Duration
		debug          bool
	)
	flag.StringVar(&listen, "listen", "127.0.0.1:502", "address to listen on")
	flag.UintVar(&unit, "unit-id", 1, "unit id to serve the data model on")
	flag.UintVar(&size, "size", 1000, "number of coils, discrete inputs, input registers and holding registers")
	flag.DurationVar(&idleTimeout, "idle-timeout", time.Minute, "close connections silent for this long")
	flag.DurationVar(&requestTimeout, "request-timeout", 75*time.Second, "request processing timeout")
	flag.BoolVar(&debug, "debug", false, "log every request")
	flag.Parse()

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	if unit > 255 || !modbus.UnitID(unit).IsValid() || size == 0 || size > 1<<16 {
		logger.Fatal().Uint("unit-id", unit).Uint("size", size).Msg("invalid arguments")
	}
	var ranges []modbus.DataRange
	for _, dt := range []modbus.DataType{
		modbus.DataTypeDiscreteInputs,
		modbus.DataTypeCoils,
		modbus.DataTypeInputRegisters,
		modbus.DataTypeHoldingRegisters,
	} {
		// A range of 1<<16 addresses is split in two, since Len is 16 bits wide.
		first := size
		if first > 1<<15 {
			first = 1 << 15
			ranges = append(ranges, modbus.DataRange{
				Type:         dt,
				StartAddress: 1 << 15,
				Len:          uint16(size - first),
			})
		}
		ranges = append(ranges, modbus.DataRange{Type: dt, Len: uint16(first)})
	}
	data, err := modbus.NewData(modbus.DataModel{Ranges: ranges})
	if err != nil {
		logger.Fatal().Err(err).Msg("create data model")
	}
	srv := modbus.NewServer()
	if err := data.AddToServer(srv, modbus.UnitID(unit)); err != nil {
		logger.Fatal().Err(err).Msg("install data model")
	}

	l, err := modbus.ListenTCP(srv,
		modbus.WithListenAddress(listen),
		modbus.WithIdleTimeout(idleTimeout),
		modbus.WithRequestTimeout(requestTimeout),
		modbus.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("listen")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	s := <-sig
	logger.Info().Stringer("signal", s).Msg("shutting down")
	if err := l.Close(); err != nil {
		logger.Error().Err(err).Msg("close listener")
	}
}
