package config

import (
	"errors"
	"strconv"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/providers/structs"

	"hvsupply/bus"
	"hvsupply/errcode"
	"hvsupply/x/timex"
)

// -----------------------------------------------------------------------------
// Config
// -----------------------------------------------------------------------------

// Config is the effective firmware configuration. Times are milliseconds.
type Config struct {
	Board     string          `koanf:"board" yaml:"board"`
	LogLevel  string          `koanf:"log_level" yaml:"log_level"`
	QueueCap  int             `koanf:"queue_capacity" yaml:"queue_capacity"`
	Buttons   ButtonsConfig   `koanf:"buttons" yaml:"buttons"`
	Freq      FreqConfig      `koanf:"freq" yaml:"freq"`
	Dac       DacConfig       `koanf:"dac" yaml:"dac"`
	Safety    SafetyConfig    `koanf:"safety" yaml:"safety"`
	HV        HVConfig        `koanf:"hv" yaml:"hv"`
	Heartbeat HeartbeatConfig `koanf:"heartbeat" yaml:"heartbeat"`
}

type ButtonsConfig struct {
	DebounceMS      int `koanf:"debounce_ms" yaml:"debounce_ms"`
	PollMS          int `koanf:"poll_ms" yaml:"poll_ms"`
	PrimaryLongMS   int `koanf:"primary_long_ms" yaml:"primary_long_ms"`
	PolarityLongMS  int `koanf:"polarity_long_ms" yaml:"polarity_long_ms"`
	FrequencyLongMS int `koanf:"frequency_long_ms" yaml:"frequency_long_ms"`
}

type FreqConfig struct {
	IdleMS int `koanf:"idle_ms" yaml:"idle_ms"`
}

type DacConfig struct {
	MaxVolts     float32 `koanf:"max_volts" yaml:"max_volts"`
	StepVolts    float32 `koanf:"step_volts" yaml:"step_volts"`
	RampTickMS   int     `koanf:"ramp_tick_ms" yaml:"ramp_tick_ms"`
	RampMaxSteps int     `koanf:"ramp_max_steps" yaml:"ramp_max_steps"`
}

type SafetyConfig struct {
	PeriodMS        int     `koanf:"period_ms" yaml:"period_ms"`
	WarnVolts       float32 `koanf:"warn_volts" yaml:"warn_volts"`
	EmergencyVolts  float32 `koanf:"emergency_volts" yaml:"emergency_volts"`
	DischargedVolts float32 `koanf:"discharged_volts" yaml:"discharged_volts"`
	ADCPollMS       int     `koanf:"adc_poll_ms" yaml:"adc_poll_ms"`
	ADCAttempts     int     `koanf:"adc_attempts" yaml:"adc_attempts"`
	WarnEveryMS     int     `koanf:"warn_every_ms" yaml:"warn_every_ms"`
}

type HVConfig struct {
	DischargeHoldMS int `koanf:"discharge_hold_ms" yaml:"discharge_hold_ms"`
	PresetHoldMS    int `koanf:"preset_hold_ms" yaml:"preset_hold_ms"`
	CompleteHoldMS  int `koanf:"complete_hold_ms" yaml:"complete_hold_ms"`
	ToggleHoldMS    int `koanf:"toggle_hold_ms" yaml:"toggle_hold_ms"`
	RestoreHoldMS   int `koanf:"restore_hold_ms" yaml:"restore_hold_ms"`
}

type HeartbeatConfig struct {
	IntervalMS int `koanf:"interval_ms" yaml:"interval_ms"`
}

// MinDischargeHold is the shortest hold the relays tolerate.
const MinDischargeHold = 2150 * time.Millisecond

// MinRestoreHold is the settle time after the transfer pulse.
const MinRestoreHold = 100 * time.Millisecond

// MaxSetpoint is the phase-1 ceiling in HV volts.
const MaxSetpoint float32 = 10.0

// MaxEmergency is the highest sensed level at which shutdown may trip.
const MaxEmergency float32 = 1.724

// Default returns the base profile every board starts from.
func Default() Config {
	return Config{
		Board:    "default",
		LogLevel: "info",
		QueueCap: 8,
		Buttons: ButtonsConfig{
			DebounceMS:      30,
			PollMS:          10,
			PrimaryLongMS:   800,
			PolarityLongMS:  800,
			FrequencyLongMS: 1000,
		},
		Freq: FreqConfig{IdleMS: 50},
		Dac: DacConfig{
			MaxVolts:     10.0,
			StepVolts:    0.1,
			RampTickMS:   100,
			RampMaxSteps: 1000,
		},
		Safety: SafetyConfig{
			PeriodMS:        100,
			WarnVolts:       1.527,
			EmergencyVolts:  1.724,
			DischargedVolts: 0.045409,
			ADCPollMS:       50,
			ADCAttempts:     7,
			WarnEveryMS:     1000,
		},
		HV: HVConfig{
			DischargeHoldMS: 2150,
			PresetHoldMS:    1,
			CompleteHoldMS:  1,
			ToggleHoldMS:    1,
			RestoreHoldMS:   100,
		},
		Heartbeat: HeartbeatConfig{IntervalMS: 2000},
	}
}

// -----------------------------------------------------------------------------
// Loading
// -----------------------------------------------------------------------------

// ProfileLookup resolves a board ID to its embedded YAML overlay.
var ProfileLookup = func(id uint8) ([]byte, bool) {
	s, ok := embeddedProfiles[id]
	return []byte(s), ok
}

// Load layers the profile for board id over Default and validates the
// result. An unknown id yields errcode.UnknownBoard together with the
// validated defaults, so callers can log and carry on.
func Load(id uint8) (Config, error) {
	raw, ok := ProfileLookup(id)
	if !ok {
		return Default(), &errcode.E{C: errcode.UnknownBoard, Op: "config.load", Msg: "board " + strconv.Itoa(int(id))}
	}
	return Parse(raw)
}

// Parse layers a YAML document over Default.
func Parse(raw []byte) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, errcode.Wrap(errcode.InvalidConfig, "config.defaults", err)
	}
	if len(raw) > 0 {
		if err := k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
			return Config{}, errcode.Wrap(errcode.InvalidConfig, "config.parse", err)
		}
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, errcode.Wrap(errcode.InvalidConfig, "config.unmarshal", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

var (
	errHold      = errors.New("hv.discharge_hold_ms below 2150")
	errRestore   = errors.New("hv.restore_hold_ms below 100")
	errCeiling   = errors.New("dac.max_volts above 10.0")
	errEmergency = errors.New("safety.emergency_volts above 1.724")
	errQueue     = errors.New("queue_capacity must be at least 1")
	errThreshold = errors.New("safety.warn_volts must be below safety.emergency_volts")
	errPeriod    = errors.New("periods must be positive")
	errDac       = errors.New("dac.max_volts and dac.step_volts must be positive")
)

// Validate rejects configurations the hardware must never run with.
func (c Config) Validate() error {
	var err error
	switch {
	case timex.Ms(c.HV.DischargeHoldMS) < MinDischargeHold:
		err = errHold
	case timex.Ms(c.HV.RestoreHoldMS) < MinRestoreHold:
		err = errRestore
	case c.Dac.MaxVolts > MaxSetpoint:
		err = errCeiling
	case c.Safety.EmergencyVolts > MaxEmergency:
		err = errEmergency
	case c.QueueCap < 1:
		err = errQueue
	case c.Safety.WarnVolts >= c.Safety.EmergencyVolts:
		err = errThreshold
	case c.Dac.MaxVolts <= 0 || c.Dac.StepVolts <= 0:
		err = errDac
	case c.Buttons.DebounceMS <= 0, c.Buttons.PollMS <= 0,
		c.Buttons.PrimaryLongMS <= 0, c.Buttons.PolarityLongMS <= 0, c.Buttons.FrequencyLongMS <= 0,
		c.Freq.IdleMS <= 0, c.Dac.RampTickMS <= 0, c.Dac.RampMaxSteps <= 0,
		c.Safety.PeriodMS <= 0, c.Safety.ADCPollMS <= 0, c.Safety.ADCAttempts <= 0,
		c.Heartbeat.IntervalMS <= 0:
		err = errPeriod
	}
	if err != nil {
		return &errcode.E{C: errcode.InvalidConfig, Op: "config.validate", Err: err}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Publication
// -----------------------------------------------------------------------------

var (
	TopicHeartbeat = bus.T("config", "heartbeat")
	TopicBoard     = bus.T("config", "board")
)

// Publish makes the runtime-tunable sections available as retained
// messages for services that follow configuration changes.
func Publish(conn *bus.Connection, c Config) {
	conn.PublishRetained(TopicBoard, c.Board)
	conn.PublishRetained(TopicHeartbeat, c.Heartbeat)
}
