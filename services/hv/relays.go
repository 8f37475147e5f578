package hv

import (
	"hvsupply/errcode"
	"hvsupply/types"
)

// Bank B relay bits.
const (
	BitSelPos0 = 1 << 0 // GPB0, positive select (pair A)
	BitSelNeg0 = 1 << 1 // GPB1, negative select (pair A)
	BitSelNeg1 = 1 << 2 // GPB2, negative select (pair B)
	BitSelPos1 = 1 << 3 // GPB3, positive select (pair B)
	BitStepPos = 1 << 4 // GPB4, +step relay
	BitCTGP    = 1 << 5 // GPB5, CT/GP relay
	BitHVOn    = 1 << 6 // GPB6, HV_ON
	BitCin1    = 1 << 7 // GPB7, Cin relay 1
)

// Bank A relay bits.
const (
	BitStepNeg = 1 << 6 // GPA6, -step relay
	BitCin2    = 1 << 7 // GPA7, Cin relay 2
)

const (
	maskSelect   = BitSelPos0 | BitSelNeg0 | BitSelNeg1 | BitSelPos1
	maskTransfer = BitStepPos | BitCTGP
)

// SelectBits returns the bank B select pattern for p.
func SelectBits(p types.Polarity) uint8 {
	if p == types.Negative {
		return BitSelNeg0 | BitSelNeg1
	}
	return BitSelPos0 | BitSelPos1
}

// CheckInterlock verifies that exactly one bit of each complementary select
// pair is asserted.
func CheckInterlock(gpb uint8) error {
	a := gpb&BitSelPos0 != 0
	b := gpb&BitSelNeg0 != 0
	c := gpb&BitSelNeg1 != 0
	d := gpb&BitSelPos1 != 0
	if a != b && c != d {
		return nil
	}
	return &errcode.E{C: errcode.Interlock, Op: "hv.select", Msg: "complementary select pair"}
}
