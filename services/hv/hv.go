// Package hv runs the polarity-toggle state machine. It owns the relay
// expander and both output latches.
//
// A toggle discharges the bus (DAC and frequency forced to zero, HV_ON
// dropped), holds for the discharge interval, swaps the select pairs,
// pulses the transfer relays and settles before reporting Running. The task
// keeps reading its queue through every hold: ForceStop aborts at once,
// anything else waits until the sequence ends.
package hv

import (
	"context"
	"time"

	"hvsupply/bus"
	"hvsupply/errcode"
	"hvsupply/services/config"
	"hvsupply/types"
	"hvsupply/x/logx"
	"hvsupply/x/timex"
)

var log = logx.New("hv")

// Expander is the latch-write surface of the relay driver.
type Expander interface {
	WriteGPA(v byte) error
	WriteGPB(v byte) error
}

type Config struct {
	DischargeHold time.Duration
	PresetHold    time.Duration
	CompleteHold  time.Duration
	ToggleHold    time.Duration
	RestoreHold   time.Duration
	// SendTimeout bounds the forced-zero sends to DAC and frequency.
	SendTimeout time.Duration
}

func ConfigFrom(c config.HVConfig, sendTimeout time.Duration) Config {
	return Config{
		DischargeHold: timex.Ms(c.DischargeHoldMS),
		PresetHold:    timex.Ms(c.PresetHoldMS),
		CompleteHold:  timex.Ms(c.CompleteHoldMS),
		ToggleHold:    timex.Ms(c.ToggleHoldMS),
		RestoreHold:   timex.Ms(c.RestoreHoldMS),
		SendTimeout:   sendTimeout,
	}
}

type Service struct {
	exp  Expander
	cfg  Config
	in   bus.Receiver[types.HvCommand]
	dac  bus.Sender[types.DacCommand]
	freq bus.Sender[types.FrequencyCommand]
	conn *bus.Connection

	state  types.HvState
	pol    types.Polarity
	gpa    uint8
	gpb    uint8
	freqHz uint32

	// deferred collects commands that arrived during a sequence.
	deferred []types.HvCommand
}

func New(exp Expander, cfg Config, in bus.Receiver[types.HvCommand], dac bus.Sender[types.DacCommand], freq bus.Sender[types.FrequencyCommand], conn *bus.Connection) *Service {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 100 * time.Millisecond
	}
	return &Service{exp: exp, cfg: cfg, in: in, dac: dac, freq: freq, conn: conn}
}

func (s *Service) Start(ctx context.Context) {
	s.publish()
	go s.run(ctx)
}

func (s *Service) run(ctx context.Context) {
	var batch []types.HvCommand
	for {
		batch = append(batch[:0], s.deferred...)
		s.deferred = s.deferred[:0]
		if len(batch) == 0 {
			cmd, err := s.in.Recv(ctx)
			if err != nil {
				log.Info("stopping")
				return
			}
			batch = append(batch, cmd)
		}
		batch = s.in.Drain(batch)
		s.handle(ctx, batch)
		if ctx.Err() != nil {
			return
		}
	}
}

// handle processes commands received together. A ForceStop among them
// discards the toggle requests pending with it.
func (s *Service) handle(ctx context.Context, batch []types.HvCommand) {
	if hasForceStop(batch) {
		batch = dropToggles(batch)
	}
	for i, cmd := range batch {
		switch cmd.Kind {
		case types.HvForceStop:
			s.forceStop()
		case types.HvFrequencyChanged:
			s.frequencyChanged(cmd.Hz)
		case types.HvTogglePolarity:
			aborted := s.toggle(ctx)
			rest := append([]types.HvCommand(nil), batch[i+1:]...)
			rest = append(rest, s.deferred...)
			if aborted {
				rest = dropToggles(rest)
			}
			s.deferred = rest
			return
		}
	}
}

func (s *Service) forceStop() {
	log.Info("force stop", "from", s.state)
	s.forceZero()
	s.gpb &^= BitHVOn | maskTransfer
	s.apply("force_stop")
	s.setState(types.HvOff)
}

func (s *Service) frequencyChanged(hz uint32) {
	s.freqHz = hz
	if !s.state.Stable() {
		return
	}
	want := s.gpb &^ BitHVOn
	if hz > 0 {
		want |= BitHVOn
	}
	if want == s.gpb {
		return
	}
	s.gpb = want
	s.apply("hv_on")
	s.publish()
}

// toggle runs the full polarity sequence. It reports true when a ForceStop
// cut it short.
func (s *Service) toggle(ctx context.Context) (aborted bool) {
	next := s.pol.Flip()
	log.Info("polarity toggle start", "pol", next)

	s.setState(types.HvDischarging)
	s.forceZero()
	s.gpb &^= BitHVOn
	s.apply("discharge")

	s.setState(types.HvWaitingForDischarge)
	if !s.hold(ctx, s.cfg.DischargeHold) {
		return true
	}

	s.setState(types.HvPreSetting)
	s.gpb = (s.gpb &^ maskSelect) | SelectBits(next)
	if err := CheckInterlock(s.gpb); err != nil {
		log.Error("interlock", "err", err, "gpb", logx.Hex8(s.gpb))
	}
	s.apply("preset")
	s.pol = next
	s.publish()
	if !s.hold(ctx, s.cfg.PresetHold) {
		return true
	}

	s.setState(types.HvCompleting)
	s.gpb |= maskTransfer
	s.apply("complete")
	s.publish()
	if !s.hold(ctx, s.cfg.CompleteHold) {
		return true
	}

	s.setState(types.HvToggling)
	if !s.hold(ctx, s.cfg.ToggleHold) {
		return true
	}

	s.setState(types.HvRestoring)
	s.gpb &^= maskTransfer
	s.apply("restore")
	s.publish()
	if !s.hold(ctx, s.cfg.RestoreHold) {
		return true
	}

	s.setState(types.HvRunning)
	log.Info("polarity toggle complete", "pol", s.pol)
	return false
}

// hold waits d while still draining the queue. ForceStop is acted on
// immediately and ends the hold with false; other commands are deferred.
func (s *Service) hold(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		case cmd := <-s.in.C():
			if cmd.Kind == types.HvForceStop {
				s.forceStop()
				return false
			}
			s.deferred = append(s.deferred, cmd)
		}
	}
}

// forceZero asks DAC and frequency for zero. The sends are bounded and not
// awaited for completion.
func (s *Service) forceZero() {
	if err := s.dac.SendTimeout(types.SetVoltage(0), s.cfg.SendTimeout); err != nil {
		log.Warn("dac zero not queued", "err", err)
	}
	if err := s.freq.SendTimeout(types.SetFrequency(0), s.cfg.SendTimeout); err != nil {
		log.Warn("frequency zero not queued", "err", err)
	}
}

// apply writes bank A then bank B. Failures are logged and the caller
// carries on; the next apply writes the full latch state again.
func (s *Service) apply(op string) {
	if err := s.exp.WriteGPA(s.gpa); err != nil {
		log.Warn("latch write failed", "op", op, "err", errcode.Wrap(errcode.BusFault, "expander.gpa", err))
	}
	if err := s.exp.WriteGPB(s.gpb); err != nil {
		log.Warn("latch write failed", "op", op, "err", errcode.Wrap(errcode.BusFault, "expander.gpb", err))
	}
}

func (s *Service) setState(st types.HvState) {
	if st == s.state {
		return
	}
	log.Debug("state", "from", s.state, "to", st)
	s.state = st
	s.publish()
}

func (s *Service) publish() {
	if s.conn == nil {
		return
	}
	s.conn.PublishRetained(types.TopicHvState, types.HvStatus{
		State:     s.state,
		Polarity:  s.pol,
		GPA:       s.gpa,
		GPB:       s.gpb,
		HVEnabled: s.gpb&BitHVOn != 0,
	})
}

func hasForceStop(cmds []types.HvCommand) bool {
	for _, c := range cmds {
		if c.Kind == types.HvForceStop {
			return true
		}
	}
	return false
}

func dropToggles(cmds []types.HvCommand) []types.HvCommand {
	out := cmds[:0]
	for _, c := range cmds {
		if c.Kind == types.HvTogglePolarity {
			log.Info("toggle discarded by force stop")
			continue
		}
		out = append(out, c)
	}
	return out
}
