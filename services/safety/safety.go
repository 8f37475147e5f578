// Package safety samples the two HV sense channels on a fixed period and
// forces the supply down when either exceeds the emergency threshold. It
// never waits on the HV state machine: forced-zero commands are sent with
// a send bounded by one monitor period, and a breach that persists is
// acted on again next cycle.
package safety

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"hvsupply/bus"
	"hvsupply/drivers/mcp3424"
	"hvsupply/errcode"
	"hvsupply/services/config"
	"hvsupply/types"
	"hvsupply/x/logx"
	"hvsupply/x/mathx"
	"hvsupply/x/timex"
)

var log = logx.New("safety")

// Sensor reads one channel in microvolts.
type Sensor interface {
	ReadMicrovolts(ctx context.Context, ch uint8) (int32, error)
}

type Config struct {
	Period     time.Duration
	Warn       float32
	Emergency  float32
	Discharged float32
	// WarnEvery limits how often the warning is logged.
	WarnEvery time.Duration
}

func ConfigFrom(c config.SafetyConfig) Config {
	return Config{
		Period:     timex.Ms(c.PeriodMS),
		Warn:       c.WarnVolts,
		Emergency:  c.EmergencyVolts,
		Discharged: c.DischargedVolts,
		WarnEvery:  timex.Ms(c.WarnEveryMS),
	}
}

type Service struct {
	adc  Sensor
	cfg  Config
	dac  bus.Sender[types.DacCommand]
	hv   bus.Sender[types.HvCommand]
	conn *bus.Connection

	warnLog *rate.Limiter
}

func New(adc Sensor, cfg Config, dac bus.Sender[types.DacCommand], hv bus.Sender[types.HvCommand], conn *bus.Connection) *Service {
	every := rate.Inf
	if cfg.WarnEvery > 0 {
		every = rate.Every(cfg.WarnEvery)
	}
	return &Service{
		adc:     adc,
		cfg:     cfg,
		dac:     dac,
		hv:      hv,
		conn:    conn,
		warnLog: rate.NewLimiter(every, 1),
	}
}

func (s *Service) Start(ctx context.Context) { go s.run(ctx) }

func (s *Service) run(ctx context.Context) {
	t := time.NewTicker(s.cfg.Period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("stopping")
			return
		case <-t.C:
			s.Check(ctx)
		}
	}
}

// Check runs one monitor cycle and returns the reading it published. ok is
// false when either channel could not be read.
func (s *Service) Check(ctx context.Context) (r types.SenseReading, ok bool) {
	v1, err1 := s.read(ctx, 1)
	v2, err2 := s.read(ctx, 2)
	if err1 != nil || err2 != nil {
		return r, false
	}

	r.Ch1, r.Ch2 = mathx.Abs(v1), mathx.Abs(v2)
	peak := mathx.Max(r.Ch1, r.Ch2)
	r.Warn = peak > s.cfg.Warn
	r.Emergency = peak > s.cfg.Emergency
	r.Discharged = peak < s.cfg.Discharged

	if r.Warn && s.warnLog.Allow() {
		log.Warn("over-voltage warning", "ch1", r.Ch1, "ch2", r.Ch2)
	}
	if r.Emergency {
		log.Error("emergency shutdown", "ch1", r.Ch1, "ch2", r.Ch2)
		s.shutdown()
	}
	if s.conn != nil {
		s.conn.PublishRetained(types.TopicSafetyReading, r)
	}
	return r, true
}

func (s *Service) read(ctx context.Context, ch uint8) (float32, error) {
	uv, err := s.adc.ReadMicrovolts(ctx, ch)
	if err != nil {
		err = errcode.Wrap(errcode.BusFault, "adc.read", err)
		log.Warn("sense read failed", "ch", ch, "err", err)
		if s.conn != nil {
			s.conn.Publish(&bus.Message{Topic: types.TopicSafetyFault, Payload: types.SenseFault{Channel: ch, Err: err.Error()}})
		}
		return 0, err
	}
	return mcp3424.UVToVolts(uv), nil
}

// shutdown issues both forced-zero commands. Each send waits at most one
// period; a failure is logged and the next cycle tries again.
func (s *Service) shutdown() {
	if err := s.dac.SendTimeout(types.SetVoltage(0), s.cfg.Period); err != nil {
		log.Error("dac zero not queued", "err", err)
	}
	if err := s.hv.SendTimeout(types.ForceStop, s.cfg.Period); err != nil {
		log.Error("force stop not queued", "err", err)
	}
}
