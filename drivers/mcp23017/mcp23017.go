// Package mcp23017 drives the MCP23017 16-bit I/O expander used for the
// relay latches. Only the byte-mode register subset needed for outputs is
// implemented:
//
//	d := mcp23017.New(bus)
//	err := d.Init()                 // both banks output, latches 0
//	err = d.SetGPB(0x40, 0x40)      // read-modify-write of OLATB
//
// NOTE: I2C.Tx MUST perform a write followed by a repeated-start read when both
// w and r are provided.
package mcp23017

import (
	"errors"

	"tinygo.org/x/drivers"
)

// Address is the default 7-bit address (A2..A0 strapped low).
const Address = 0x20

// Registers (IOCON.BANK = 0).
const (
	RegIODIRA = 0x00
	RegIODIRB = 0x01
	RegIPOLA  = 0x02
	RegIPOLB  = 0x03
	RegGPPUA  = 0x0C
	RegGPPUB  = 0x0D
	RegGPIOA  = 0x12
	RegGPIOB  = 0x13
	RegOLATA  = 0x14
	RegOLATB  = 0x15
)

var ErrNoBus = errors.New("mcp23017: no bus")

type Device struct {
	bus     drivers.I2C
	Address uint16

	w [2]byte
	r [1]byte
}

// New wraps an already configured bus. It does not touch the device.
func New(bus drivers.I2C) *Device {
	return &Device{bus: bus, Address: Address}
}

// Init makes both banks outputs with no inversion or pull-ups and clears
// both output latches. It stops at the first failing write.
func (d *Device) Init() error {
	seq := [...][2]byte{
		{RegIODIRA, 0x00},
		{RegIODIRB, 0x00},
		{RegIPOLA, 0x00},
		{RegIPOLB, 0x00},
		{RegGPPUA, 0x00},
		{RegGPPUB, 0x00},
		{RegOLATA, 0x00},
		{RegOLATB, 0x00},
	}
	for _, s := range seq {
		if err := d.WriteReg(s[0], s[1]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) WriteReg(reg, val byte) error {
	if d.bus == nil {
		return ErrNoBus
	}
	d.w[0] = reg
	d.w[1] = val
	return d.bus.Tx(d.Address, d.w[:2], nil)
}

func (d *Device) ReadReg(reg byte) (byte, error) {
	if d.bus == nil {
		return 0, ErrNoBus
	}
	d.w[0] = reg
	if err := d.bus.Tx(d.Address, d.w[:1], d.r[:]); err != nil {
		return 0, err
	}
	return d.r[0], nil
}

// WriteGPA and WriteGPB overwrite a whole output latch.
func (d *Device) WriteGPA(v byte) error { return d.WriteReg(RegOLATA, v) }
func (d *Device) WriteGPB(v byte) error { return d.WriteReg(RegOLATB, v) }

// SetGPA and SetGPB change only the bits in mask to the matching bits of
// value, leaving the rest of the latch as read back from the device.
func (d *Device) SetGPA(mask, value byte) error { return d.modify(RegOLATA, mask, value) }
func (d *Device) SetGPB(mask, value byte) error { return d.modify(RegOLATB, mask, value) }

func (d *Device) modify(reg, mask, value byte) error {
	cur, err := d.ReadReg(reg)
	if err != nil {
		return err
	}
	return d.WriteReg(reg, (cur&^mask)|(value&mask))
}
