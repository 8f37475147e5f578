package types

// ---- Button events ----

// ButtonEvent is one classified press. Exactly one is produced per press.
type ButtonEvent uint8

const (
	PrimaryShort ButtonEvent = iota
	PrimaryLong
	PolarityShort
	PolarityLong
	FrequencyShort
	FrequencyLong
)

func (e ButtonEvent) String() string {
	switch e {
	case PrimaryShort:
		return "primary_short"
	case PrimaryLong:
		return "primary_long"
	case PolarityShort:
		return "polarity_short"
	case PolarityLong:
		return "polarity_long"
	case FrequencyShort:
		return "frequency_short"
	case FrequencyLong:
		return "frequency_long"
	default:
		return "unknown"
	}
}

// Button identifies a physical button.
type Button uint8

const (
	ButtonPrimary Button = iota
	ButtonPolarity
	ButtonFrequency
)

func (b Button) String() string {
	switch b {
	case ButtonPrimary:
		return "primary"
	case ButtonPolarity:
		return "polarity"
	case ButtonFrequency:
		return "frequency"
	default:
		return "unknown"
	}
}

// Short and Long return the two events a button can produce.
func (b Button) Short() ButtonEvent { return ButtonEvent(b * 2) }
func (b Button) Long() ButtonEvent  { return ButtonEvent(b*2 + 1) }

// ---- DAC ----

type DacKind uint8

const (
	DacSetVoltage DacKind = iota
	DacStepUp
	DacStartRamp
)

// DacCommand addresses the setpoint controller. Volts is used by
// DacSetVoltage only.
type DacCommand struct {
	Kind  DacKind
	Volts float32
}

func SetVoltage(v float32) DacCommand { return DacCommand{Kind: DacSetVoltage, Volts: v} }

func (k DacKind) String() string {
	switch k {
	case DacSetVoltage:
		return "set_voltage"
	case DacStepUp:
		return "step_up"
	case DacStartRamp:
		return "start_ramp"
	default:
		return "unknown"
	}
}

// ---- Frequency ----

type FreqKind uint8

const (
	FreqNext FreqKind = iota
	FreqEnterCapture
	FreqSet
)

// FrequencyCommand addresses the frequency generator. Hz is used by FreqSet;
// 0 disables the output.
type FrequencyCommand struct {
	Kind FreqKind
	Hz   uint32
}

func SetFrequency(hz uint32) FrequencyCommand { return FrequencyCommand{Kind: FreqSet, Hz: hz} }

func (k FreqKind) String() string {
	switch k {
	case FreqNext:
		return "next"
	case FreqEnterCapture:
		return "enter_capture"
	case FreqSet:
		return "set"
	default:
		return "unknown"
	}
}

// ---- HV ----

type HvKind uint8

const (
	HvTogglePolarity HvKind = iota
	HvForceStop
	// HvFrequencyChanged reports the generator's new output frequency in Hz.
	HvFrequencyChanged
)

type HvCommand struct {
	Kind HvKind
	Hz   uint32
}

var (
	RequestPolarityToggle = HvCommand{Kind: HvTogglePolarity}
	ForceStop             = HvCommand{Kind: HvForceStop}
)

func FrequencyChanged(hz uint32) HvCommand { return HvCommand{Kind: HvFrequencyChanged, Hz: hz} }

func (k HvKind) String() string {
	switch k {
	case HvTogglePolarity:
		return "toggle_polarity"
	case HvForceStop:
		return "force_stop"
	case HvFrequencyChanged:
		return "frequency_changed"
	default:
		return "unknown"
	}
}

// ---- HV state ----

type HvState uint8

const (
	HvOff HvState = iota
	HvDischarging
	HvWaitingForDischarge
	HvPreSetting
	HvCompleting
	HvToggling
	HvRestoring
	HvRunning
)

// Stable reports whether the state is Off or Running.
func (s HvState) Stable() bool { return s == HvOff || s == HvRunning }

func (s HvState) String() string {
	switch s {
	case HvOff:
		return "off"
	case HvDischarging:
		return "discharging"
	case HvWaitingForDischarge:
		return "waiting_for_discharge"
	case HvPreSetting:
		return "pre_setting"
	case HvCompleting:
		return "completing"
	case HvToggling:
		return "toggling"
	case HvRestoring:
		return "restoring"
	case HvRunning:
		return "running"
	default:
		return "unknown"
	}
}

type Polarity uint8

const (
	Positive Polarity = iota
	Negative
)

func (p Polarity) Flip() Polarity {
	if p == Positive {
		return Negative
	}
	return Positive
}

func (p Polarity) String() string {
	if p == Negative {
		return "negative"
	}
	return "positive"
}
