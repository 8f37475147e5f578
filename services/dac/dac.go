// Package dac owns the HV setpoint and the analog output that programs the
// supply. The setpoint is clamped to [0, Max] volts and converted with the
// board's fixed scaling: 300 V of HV per 2.5 V of control, against a
// 3.0 V, 12-bit output.
package dac

import (
	"context"
	"math"
	"time"

	"hvsupply/bus"
	"hvsupply/errcode"
	"hvsupply/hw"
	"hvsupply/services/config"
	"hvsupply/types"
	"hvsupply/x/logx"
	"hvsupply/x/mathx"
	"hvsupply/x/ramp"
	"hvsupply/x/timex"
)

var log = logx.New("dac")

const (
	hvFullScale  = 300.0
	ctlFullScale = 2.5
	outputRef    = 3.0
	rampEpsilon  = 1e-6
)

// Code converts an HV setpoint in volts to the output code.
// Code(10) = round((10/300*2.5)/3.0*4095) = 114.
func Code(hv float32) uint16 {
	control := hv / hvFullScale * ctlFullScale
	c := math.Round(float64(control / outputRef * hw.MaxCode))
	if c < 0 {
		return 0
	}
	if c > hw.MaxCode {
		return hw.MaxCode
	}
	return uint16(c)
}

type Config struct {
	Max          float32
	Step         float32
	RampTick     time.Duration
	RampMaxSteps int
}

func ConfigFrom(c config.DacConfig) Config {
	return Config{
		Max:          c.MaxVolts,
		Step:         c.StepVolts,
		RampTick:     timex.Ms(c.RampTickMS),
		RampMaxSteps: c.RampMaxSteps,
	}
}

type Service struct {
	out  hw.DAC
	cfg  Config
	in   bus.Receiver[types.DacCommand]
	conn *bus.Connection

	volts float32
	code  uint16

	// pending holds a command that cut a ramp short.
	pending    types.DacCommand
	hasPending bool
}

func New(out hw.DAC, cfg Config, in bus.Receiver[types.DacCommand], conn *bus.Connection) *Service {
	return &Service{out: out, cfg: cfg, in: in, conn: conn}
}

func (s *Service) Start(ctx context.Context) {
	s.publish("")
	go s.run(ctx)
}

func (s *Service) run(ctx context.Context) {
	for {
		var cmd types.DacCommand
		if s.hasPending {
			cmd, s.hasPending = s.pending, false
		} else {
			var err error
			if cmd, err = s.in.Recv(ctx); err != nil {
				log.Info("stopping")
				return
			}
		}
		s.handle(ctx, cmd)
	}
}

func (s *Service) handle(ctx context.Context, cmd types.DacCommand) {
	switch cmd.Kind {
	case types.DacSetVoltage:
		s.apply(cmd.Volts)
		log.Info("setpoint", "volts", s.volts, "code", s.code)
	case types.DacStepUp:
		s.apply(s.volts + s.cfg.Step)
		log.Info("step", "volts", s.volts)
	case types.DacStartRamp:
		log.Info("ramp start", "from", s.volts)
		r := ramp.Bounded{
			Step:     s.cfg.Step,
			Limit:    s.cfg.Max,
			MaxSteps: s.cfg.RampMaxSteps,
			Every:    s.cfg.RampTick,
			Epsilon:  rampEpsilon,
		}
		_, out := r.Run(s.volts, s.tick(ctx), s.apply)
		log.Info("ramp end", "volts", s.volts, "outcome", out)
	}
}

// tick waits one ramp period. Any command arriving meanwhile ends the ramp
// and is handled next.
func (s *Service) tick(ctx context.Context) ramp.Tick {
	return func(d time.Duration) bool {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case cmd := <-s.in.C():
			s.pending, s.hasPending = cmd, true
			return false
		case <-t.C:
			return true
		}
	}
}

// apply clamps, stores and writes. A failed write is logged; the setpoint
// keeps the new value.
func (s *Service) apply(v float32) {
	s.volts = mathx.Clamp(v, 0, s.cfg.Max)
	s.code = Code(s.volts)
	errStr := ""
	if err := s.out.SetCode(s.code); err != nil {
		err = errcode.Wrap(errcode.BusFault, "dac.write", err)
		log.Warn("write failed", "err", err, "code", s.code)
		errStr = err.Error()
	}
	s.publish(errStr)
}

func (s *Service) publish(errStr string) {
	if s.conn == nil {
		return
	}
	s.conn.PublishRetained(types.TopicDacSetpoint, types.DacStatus{Volts: s.volts, Code: s.code, Err: errStr})
}
