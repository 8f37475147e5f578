package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"hvsupply/bus"
	"hvsupply/types"
)

type rig struct {
	ev   *bus.Queue[types.ButtonEvent]
	dac  *bus.Queue[types.DacCommand]
	freq *bus.Queue[types.FrequencyCommand]
	hv   *bus.Queue[types.HvCommand]
	d    *Dispatcher
}

func newRig(capacity int) *rig {
	r := &rig{
		ev:   bus.NewQueue[types.ButtonEvent]("buttons", capacity),
		dac:  bus.NewQueue[types.DacCommand]("dac", capacity),
		freq: bus.NewQueue[types.FrequencyCommand]("freq", capacity),
		hv:   bus.NewQueue[types.HvCommand]("hv", capacity),
	}
	r.d = New(r.ev.Receiver(), Targets{Dac: r.dac.Sender(), Freq: r.freq.Sender(), HV: r.hv.Sender()})
	return r
}

func TestRouting(t *testing.T) {
	r := newRig(8)
	for _, ev := range []types.ButtonEvent{
		types.PrimaryShort, types.PrimaryLong, types.PolarityShort,
		types.FrequencyShort, types.FrequencyLong,
	} {
		if !r.d.Dispatch(ev) {
			t.Fatalf("%s not forwarded", ev)
		}
	}

	dacWant := []types.DacKind{types.DacStepUp, types.DacStartRamp}
	for _, k := range dacWant {
		c, ok := r.dac.Receiver().TryRecv()
		if !ok || c.Kind != k {
			t.Fatalf("dac got %+v, want kind %d", c, k)
		}
	}
	if c, _ := r.hv.Receiver().TryRecv(); c != types.RequestPolarityToggle {
		t.Fatalf("hv got %+v", c)
	}
	for _, k := range []types.FreqKind{types.FreqNext, types.FreqEnterCapture} {
		c, ok := r.freq.Receiver().TryRecv()
		if !ok || c.Kind != k {
			t.Fatalf("freq got %+v, want kind %d", c, k)
		}
	}
}

func TestPolarityLongIsIgnored(t *testing.T) {
	r := newRig(8)
	if r.d.Dispatch(types.PolarityLong) {
		t.Fatal("PolarityLong forwarded")
	}
	if r.dac.Len()+r.freq.Len()+r.hv.Len() != 0 {
		t.Fatal("command issued")
	}
	if r.d.Dropped() != 0 {
		t.Fatal("ignored event counted as drop")
	}
}

func TestFullQueueDrops(t *testing.T) {
	r := newRig(1)
	r.d.Dispatch(types.PrimaryShort)
	if r.d.Dispatch(types.PrimaryShort) {
		t.Fatal("second send should not fit")
	}
	if r.d.Dropped() != 1 {
		t.Fatalf("dropped = %d", r.d.Dropped())
	}
}

func TestRunForwardsUntilCancelled(t *testing.T) {
	r := newRig(8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.d.Run(ctx) }()

	r.ev.Sender().TrySend(types.FrequencyShort)
	select {
	case c := <-r.freq.Receiver().C():
		if c.Kind != types.FreqNext {
			t.Fatalf("got %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("event not forwarded")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
