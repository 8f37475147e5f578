// Package mcp3424 drives the MCP3424 delta-sigma ADC in one-shot, 18-bit,
// PGA x1 mode. It exposes a two-phase API plus a bounded blocking read:
//
//	err := d.StartConversion(ch)           // write the config byte
//	uv, err := d.ReadConversion()          // ErrNotReady while converting
//	uv, err := d.ReadMicrovolts(ctx, ch)   // start + bounded poll
//
// Results are signed microvolts; one LSB is 15.625 µV.
package mcp3424

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"tinygo.org/x/drivers"
)

// Address is the default 7-bit address (Adr0/Adr1 floating or low).
const Address = 0x68

const (
	cfgNotReady = 0x80 // RDY bit: 1 while converting
	cfgOneShot  = 0x00
	cfg18Bit    = 0b11 << 2
	cfgPGA1     = 0x00
)

var (
	ErrNotReady = errors.New("mcp3424: not ready")
	ErrTimeout  = errors.New("mcp3424: conversion timeout")
	ErrChannel  = errors.New("mcp3424: channel out of range")
)

// Config controls the bounded poll. All fields are optional.
type Config struct {
	// Address defaults to 0x68 if zero.
	Address uint16
	// Poll is the spacing between ready checks, and the wait before the
	// first one. Default 50 ms.
	Poll time.Duration
	// Attempts bounds the number of ready checks. Default 7.
	Attempts int
}

type Device struct {
	bus     drivers.I2C
	Address uint16

	cfg Config
	buf [4]byte
	w   [1]byte
}

// New wraps an already configured bus. It does not touch the device.
func New(bus drivers.I2C) *Device {
	d := &Device{bus: bus, Address: Address}
	d.Configure(Config{})
	return d
}

// Configure applies cfg, filling defaults.
func (d *Device) Configure(c Config) {
	if c.Address != 0 {
		d.Address = c.Address
	}
	if c.Poll <= 0 {
		c.Poll = 50 * time.Millisecond
	}
	if c.Attempts <= 0 {
		c.Attempts = 7
	}
	c.Address = d.Address
	d.cfg = c
}

// ConfigByte returns the one-shot 18-bit PGA1 configuration for channel 1..4.
func ConfigByte(ch uint8) (byte, error) {
	if ch < 1 || ch > 4 {
		return 0, ErrChannel
	}
	return cfgOneShot | (ch-1)<<5 | cfg18Bit | cfgPGA1, nil
}

// StartConversion begins a one-shot conversion on channel 1..4.
func (d *Device) StartConversion(ch uint8) error {
	c, err := ConfigByte(ch)
	if err != nil {
		return err
	}
	d.w[0] = c
	return d.bus.Tx(d.Address, d.w[:], nil)
}

// ReadConversion fetches the output register. It returns ErrNotReady while
// the conversion is still running. Bus errors are returned as-is.
func (d *Device) ReadConversion() (int32, error) {
	b := d.buf[:]
	if err := d.bus.Tx(d.Address, nil, b); err != nil {
		return 0, err
	}
	if b[3]&cfgNotReady != 0 {
		return 0, ErrNotReady
	}
	return Decode(b[0], b[1], b[2]), nil
}

// Decode turns the three data bytes into signed microvolts. In 18-bit mode
// the code is right-justified; the top six bits repeat the sign.
func Decode(b0, b1, b2 byte) int32 {
	raw := int32(b0)<<16 | int32(b1)<<8 | int32(b2)
	// sign-extend from bit 17
	if raw&(1<<17) != 0 {
		raw |= ^int32(0x3FFFF)
	} else {
		raw &= 0x3FFFF
	}
	return int32(int64(raw) * 15625 / 1000)
}

// ReadMicrovolts starts a conversion on ch, waits one poll interval, then
// checks for a result at most Attempts times, Poll apart. A failed read
// counts as an attempt. When every attempt fails the last bus error is
// returned, or ErrTimeout if the device only ever reported busy.
func (d *Device) ReadMicrovolts(ctx context.Context, ch uint8) (int32, error) {
	if err := d.StartConversion(ch); err != nil {
		return 0, err
	}
	t := time.NewTimer(d.cfg.Poll)
	select {
	case <-ctx.Done():
		t.Stop()
		return 0, ctx.Err()
	case <-t.C:
	}

	var (
		uv      int32
		lastBus error
	)
	op := func() error {
		v, err := d.ReadConversion()
		switch {
		case err == nil:
			uv = v
			return nil
		case errors.Is(err, ErrNotReady):
			lastBus = nil
		default:
			lastBus = err
		}
		return err
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.cfg.Poll), uint64(d.cfg.Attempts-1)),
		ctx)
	if err := backoff.Retry(op, b); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if lastBus != nil {
			return 0, lastBus
		}
		return 0, ErrTimeout
	}
	return uv, nil
}

// UVToVolts converts microvolts to volts.
func UVToVolts(uv int32) float32 { return float32(uv) / 1_000_000.0 }
