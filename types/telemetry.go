package types

import "hvsupply/bus"

// ---- Telemetry topics (retained) ----

var (
	TopicHvState       = bus.T("hv", "state")
	TopicFreqState     = bus.T("freq", "state")
	TopicDacSetpoint   = bus.T("dac", "setpoint")
	TopicSafetyReading = bus.T("safety", "reading")
	TopicSafetyFault   = bus.T("safety", "fault")
)

// HvStatus is published on every state or relay latch change.
type HvStatus struct {
	State     HvState
	Polarity  Polarity
	GPA       uint8
	GPB       uint8
	HVEnabled bool
}

type FreqStatus struct {
	Index   int
	Hz      uint32
	Enabled bool
}

type DacStatus struct {
	Volts float32
	Code  uint16
	// Err is the last write error code, empty when the write succeeded.
	Err string
}

// SenseReading carries the magnitudes of both sense channels in volts.
type SenseReading struct {
	Ch1, Ch2   float32
	Warn       bool
	Emergency  bool
	Discharged bool
}

type SenseFault struct {
	Channel uint8
	Err     string
}
