package dac

import (
	"context"
	"errors"
	"testing"
	"time"

	"hvsupply/bus"
	"hvsupply/platform"
	"hvsupply/types"
)

func TestCodeTable(t *testing.T) {
	cases := []struct {
		v    float32
		want uint16
	}{
		{0, 0},
		{0.1, 1},
		{1.0, 11},
		{10.0, 114},
		{-3, 0},
	}
	for _, c := range cases {
		if got := Code(c.v); got != c.want {
			t.Fatalf("Code(%v) = %d, want %d", c.v, got, c.want)
		}
	}
}

type rig struct {
	out *platform.RecordingDAC
	cmd bus.Sender[types.DacCommand]
	tb  *bus.Bus
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	out := &platform.RecordingDAC{}
	q := bus.NewQueue[types.DacCommand]("dac", 8)
	b := bus.NewBus(8)
	New(out, cfg, q.Receiver(), b.NewConnection("dac")).Start(ctx)
	return &rig{out: out, cmd: q.Sender(), tb: b}
}

func fastConfig() Config {
	return Config{Max: 10, Step: 0.1, RampTick: time.Millisecond, RampMaxSteps: 1000}
}

func (r *rig) status() types.DacStatus {
	v, _ := r.tb.Retained(types.TopicDacSetpoint)
	st, _ := v.(types.DacStatus)
	return st
}

func (r *rig) waitVolts(t *testing.T, want float32) types.DacStatus {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := r.status()
		if d := st.Volts - want; d < 1e-4 && d > -1e-4 {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("setpoint %v, want %v", st.Volts, want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSetVoltageClamps(t *testing.T) {
	r := newRig(t, fastConfig())
	r.cmd.TrySend(types.SetVoltage(50))
	st := r.waitVolts(t, 10)
	if st.Code != 114 {
		t.Fatalf("code = %d", st.Code)
	}
	r.cmd.TrySend(types.SetVoltage(-5))
	st = r.waitVolts(t, 0)
	if c, _ := r.out.Last(); c != 0 || st.Code != 0 {
		t.Fatalf("code = %d", c)
	}
}

func TestStepUp(t *testing.T) {
	r := newRig(t, fastConfig())
	for i := 0; i < 3; i++ {
		r.cmd.TrySend(types.DacCommand{Kind: types.DacStepUp})
	}
	st := r.waitVolts(t, 0.3)
	if st.Code != 3 {
		t.Fatalf("code = %d", st.Code)
	}
	if n := len(r.out.Codes()); n != 3 {
		t.Fatalf("writes = %d", n)
	}
}

func TestStepUpStopsAtMax(t *testing.T) {
	r := newRig(t, fastConfig())
	r.cmd.TrySend(types.SetVoltage(9.95))
	r.cmd.TrySend(types.DacCommand{Kind: types.DacStepUp})
	r.waitVolts(t, 10)
}

func TestRampReachesMaxWithoutOvershoot(t *testing.T) {
	r := newRig(t, fastConfig())
	r.cmd.TrySend(types.DacCommand{Kind: types.DacStartRamp})
	r.waitVolts(t, 10)
	time.Sleep(10 * time.Millisecond)

	codes := r.out.Codes()
	if len(codes) < 99 || len(codes) > 102 {
		t.Fatalf("ramp wrote %d codes", len(codes))
	}
	prev := uint16(0)
	for i, c := range codes {
		if c < prev || c > 114 {
			t.Fatalf("code[%d] = %d after %d", i, c, prev)
		}
		prev = c
	}
	if prev != 114 {
		t.Fatalf("final code %d", prev)
	}
}

func TestRampBoundedIterations(t *testing.T) {
	cfg := fastConfig()
	cfg.RampMaxSteps = 5
	r := newRig(t, cfg)
	r.cmd.TrySend(types.DacCommand{Kind: types.DacStartRamp})
	r.waitVolts(t, 0.5)
	time.Sleep(20 * time.Millisecond)
	if n := len(r.out.Codes()); n != 5 {
		t.Fatalf("writes = %d", n)
	}
}

func TestRampCutShortByCommand(t *testing.T) {
	cfg := fastConfig()
	cfg.RampTick = 20 * time.Millisecond
	r := newRig(t, cfg)
	r.cmd.TrySend(types.DacCommand{Kind: types.DacStartRamp})
	time.Sleep(70 * time.Millisecond)

	start := time.Now()
	r.cmd.TrySend(types.SetVoltage(0))
	r.waitVolts(t, 0)
	if time.Since(start) > 40*time.Millisecond {
		t.Fatal("forced zero waited for the ramp")
	}
	time.Sleep(60 * time.Millisecond)
	if c, _ := r.out.Last(); c != 0 {
		t.Fatalf("ramp resumed: code %d", c)
	}
}

func TestWriteFailureStillUpdatesSetpoint(t *testing.T) {
	r := newRig(t, fastConfig())
	r.out.Fail(errors.New("nack"))
	r.cmd.TrySend(types.SetVoltage(5))
	st := r.waitVolts(t, 5)
	if st.Err == "" {
		t.Fatal("write error not reported")
	}
	r.out.Fail(nil)
	r.cmd.TrySend(types.DacCommand{Kind: types.DacStepUp})
	st = r.waitVolts(t, 5.1)
	if st.Err != "" {
		t.Fatalf("stale error %q", st.Err)
	}
}
