// Package boardid reads the two strap pins that identify the board revision.
package boardid

import "hvsupply/hw"

// Read configures both pins as pulled-down inputs and returns
// (pin1 << 1) | pin0.
func Read(pin0, pin1 hw.GPIOPin) uint8 {
	_ = pin0.ConfigureInput(hw.PullDown)
	_ = pin1.ConfigureInput(hw.PullDown)
	var id uint8
	if pin0.Get() {
		id |= 1
	}
	if pin1.Get() {
		id |= 2
	}
	return id
}
