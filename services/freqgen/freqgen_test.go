package freqgen

import (
	"context"
	"testing"
	"time"

	"hvsupply/bus"
	"hvsupply/platform"
	"hvsupply/types"
)

type rig struct {
	pin  *platform.FakePin
	cmd  bus.Sender[types.FrequencyCommand]
	hv   *bus.Queue[types.HvCommand]
	tb   *bus.Bus
	svc  *Service
	stop context.CancelFunc
}

func newRig(t *testing.T) *rig {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	pin := platform.NewFakePin(platform.PinDrive)
	in := bus.NewQueue[types.FrequencyCommand]("freq", 8)
	hv := bus.NewQueue[types.HvCommand]("hv", 32)
	b := bus.NewBus(8)
	s := New(pin, Config{Idle: 5 * time.Millisecond, CapturePin: platform.PinCapture}, in.Receiver(), hv.Sender(), b.NewConnection("freq"))
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	return &rig{pin: pin, cmd: in.Sender(), hv: hv, tb: b, svc: s, stop: cancel}
}

func (r *rig) expectHv(t *testing.T, want types.HvCommand) {
	t.Helper()
	select {
	case got := <-r.hv.Receiver().C():
		if got != want {
			t.Fatalf("hv got %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for %+v", want)
	}
}

func (r *rig) status(t *testing.T) types.FreqStatus {
	t.Helper()
	v, ok := r.tb.Retained(types.TopicFreqState)
	if !ok {
		t.Fatal("no retained status")
	}
	return v.(types.FreqStatus)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestBootIsDisabled(t *testing.T) {
	r := newRig(t)
	st := r.status(t)
	if st.Hz != 0 || st.Enabled || st.Index != len(Table)-1 {
		t.Fatalf("boot status %+v", st)
	}
	time.Sleep(20 * time.Millisecond)
	if r.pin.Get() || r.pin.Changes() != 0 {
		t.Fatal("drive pin should stay low while disabled")
	}
}

func TestNextCyclesTableAndStopsAtZero(t *testing.T) {
	r := newRig(t)
	for _, hz := range Table[:len(Table)-1] {
		r.cmd.TrySend(types.FrequencyCommand{Kind: types.FreqNext})
		r.expectHv(t, types.FrequencyChanged(hz))
	}
	r.cmd.TrySend(types.FrequencyCommand{Kind: types.FreqNext})
	r.expectHv(t, types.FrequencyChanged(0))
	r.expectHv(t, types.ForceStop)

	waitFor(t, func() bool { return r.status(t).Hz == 0 })
	if r.pin.Get() {
		t.Fatal("pin must be low after disable")
	}
}

func TestSetZeroDoesNotForceStop(t *testing.T) {
	r := newRig(t)
	r.cmd.TrySend(types.SetFrequency(100))
	r.expectHv(t, types.FrequencyChanged(100))
	r.cmd.TrySend(types.SetFrequency(0))
	r.expectHv(t, types.FrequencyChanged(0))

	select {
	case got := <-r.hv.Receiver().C():
		t.Fatalf("unexpected hv command %+v", got)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestSetSameFrequencyIsSilent(t *testing.T) {
	r := newRig(t)
	r.cmd.TrySend(types.SetFrequency(0))
	time.Sleep(20 * time.Millisecond)
	if r.hv.Len() != 0 {
		t.Fatal("no change should be reported")
	}
}

func TestDriveToggles(t *testing.T) {
	r := newRig(t)
	r.cmd.TrySend(types.SetFrequency(400)) // 1.25 ms half-period
	time.Sleep(60 * time.Millisecond)
	n := r.pin.Changes()
	if n < 10 {
		t.Fatalf("only %d toggles at 400 Hz", n)
	}

	r.cmd.TrySend(types.SetFrequency(0))
	waitFor(t, func() bool { return r.status(t).Hz == 0 })
	time.Sleep(10 * time.Millisecond)
	n = r.pin.Changes()
	time.Sleep(30 * time.Millisecond)
	if r.pin.Changes() != n || r.pin.Get() {
		t.Fatal("pin kept toggling after disable")
	}
}

func TestCommandWakesSlowPeriod(t *testing.T) {
	r := newRig(t)
	r.cmd.TrySend(types.SetFrequency(1)) // 500 ms half-period
	r.expectHv(t, types.FrequencyChanged(1))
	start := time.Now()
	r.cmd.TrySend(types.SetFrequency(200))
	r.expectHv(t, types.FrequencyChanged(200))
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("command waited for the half-period")
	}
}

func TestSetKnownFrequencyMovesIndex(t *testing.T) {
	r := newRig(t)
	r.cmd.TrySend(types.SetFrequency(60))
	r.expectHv(t, types.FrequencyChanged(60))
	r.cmd.TrySend(types.FrequencyCommand{Kind: types.FreqNext})
	r.expectHv(t, types.FrequencyChanged(100))
}

func TestEnterCaptureIsNoop(t *testing.T) {
	r := newRig(t)
	r.cmd.TrySend(types.FrequencyCommand{Kind: types.FreqEnterCapture})
	time.Sleep(20 * time.Millisecond)
	if r.status(t).Hz != 0 || r.hv.Len() != 0 {
		t.Fatal("capture mode changed the output")
	}
}
