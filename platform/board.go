// Package platform wires the physical board: GPIO, both I2C buses, the
// analog output and the diagnostic console. The rp2040 build talks to the
// machine package; the host build returns simulated parts with the same
// shape so the whole firmware runs under `go test` and cmd/hvsim.
package platform

import (
	"io"

	"tinygo.org/x/drivers"

	"hvsupply/hw"
)

// Pin plan (RP2040 GP numbering). Host fakes reuse the numbers.
const (
	PinConsoleTX     = 0
	PinConsoleRX     = 1
	PinBtnPrimary    = 2
	PinBtnPolarity   = 3
	PinBtnFrequency  = 4
	PinDrive         = 5
	PinExpanderReset = 6
	PinKillN         = 7
	PinDAC           = 8
	PinCapture       = 9
	PinBoardID0      = 10
	PinBoardID1      = 11
	PinExpanderSDA   = 16
	PinExpanderSCL   = 17
	PinADCSDA        = 18
	PinADCSCL        = 19
)

// Board is everything the services need, handed out once at boot.
// Buttons are indexed by types.Button.
type Board struct {
	Buttons [3]hw.IRQPin

	ID0, ID1 hw.GPIOPin

	Drive         hw.GPIOPin
	Capture       hw.GPIOPin
	ExpanderReset hw.GPIOPin
	KillN         hw.GPIOPin

	DAC hw.DAC

	ExpanderBus drivers.I2C
	ADCBus      drivers.I2C

	// Console receives log lines; nil keeps the builtin println.
	Console io.Writer
}
