package buttons

import (
	"context"
	"testing"
	"time"

	"hvsupply/bus"
	"hvsupply/platform"
	"hvsupply/services/config"
	"hvsupply/types"
)

func testConfig() Config {
	return Config{
		Debounce: 5 * time.Millisecond,
		Poll:     2 * time.Millisecond,
		Long:     [3]time.Duration{80 * time.Millisecond, 80 * time.Millisecond, 120 * time.Millisecond},
	}
}

func start(t *testing.T, capacity int) (*platform.Sim, *bus.Queue[types.ButtonEvent], *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sim := platform.NewSim(0)
	q := bus.NewQueue[types.ButtonEvent]("buttons", capacity)
	brd := sim.Board()
	s := New(brd.Buttons, testConfig(), q.Sender())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return sim, q, s
}

func expectEvent(t *testing.T, q *bus.Queue[types.ButtonEvent], want types.ButtonEvent) {
	t.Helper()
	select {
	case got := <-q.Receiver().C():
		if got != want {
			t.Fatalf("event = %s, want %s", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for %s", want)
	}
}

func expectNoEvent(t *testing.T, q *bus.Queue[types.ButtonEvent], wait time.Duration) {
	t.Helper()
	select {
	case got := <-q.Receiver().C():
		t.Fatalf("unexpected event %s", got)
	case <-time.After(wait):
	}
}

func TestShortPress(t *testing.T) {
	sim, q, _ := start(t, 8)
	sim.Press(types.ButtonPrimary)
	time.Sleep(30 * time.Millisecond)
	sim.Release(types.ButtonPrimary)

	expectEvent(t, q, types.PrimaryShort)
	expectNoEvent(t, q, 50*time.Millisecond)
}

func TestLongPressFiresWhileHeld(t *testing.T) {
	sim, q, _ := start(t, 8)
	sim.Press(types.ButtonPolarity)
	// Long must arrive before the release.
	expectEvent(t, q, types.PolarityLong)
	time.Sleep(20 * time.Millisecond)
	sim.Release(types.ButtonPolarity)
	expectNoEvent(t, q, 50*time.Millisecond)
}

func TestFrequencyUsesItsOwnThreshold(t *testing.T) {
	sim, q, _ := start(t, 8)
	// Past the 80 ms threshold of the other buttons but under 120 ms.
	sim.Press(types.ButtonFrequency)
	time.Sleep(95 * time.Millisecond)
	sim.Release(types.ButtonFrequency)
	expectEvent(t, q, types.FrequencyShort)
}

func TestBounceIsDiscarded(t *testing.T) {
	sim, q, _ := start(t, 8)
	sim.Press(types.ButtonPrimary)
	sim.Release(types.ButtonPrimary)
	expectNoEvent(t, q, 40*time.Millisecond)
}

func TestOverlappingPressesBothReported(t *testing.T) {
	sim, q, _ := start(t, 8)
	sim.Press(types.ButtonPrimary)
	time.Sleep(10 * time.Millisecond)
	sim.Press(types.ButtonFrequency)
	time.Sleep(20 * time.Millisecond)
	sim.Release(types.ButtonFrequency)

	expectEvent(t, q, types.FrequencyShort)
	expectEvent(t, q, types.PrimaryLong)
	sim.Release(types.ButtonPrimary)
	expectNoEvent(t, q, 40*time.Millisecond)
}

func TestRepeatedPressesOneEventEach(t *testing.T) {
	sim, q, _ := start(t, 8)
	for i := 0; i < 3; i++ {
		sim.Press(types.ButtonFrequency)
		time.Sleep(20 * time.Millisecond)
		sim.Release(types.ButtonFrequency)
		time.Sleep(20 * time.Millisecond)
	}
	for i := 0; i < 3; i++ {
		expectEvent(t, q, types.FrequencyShort)
	}
	expectNoEvent(t, q, 30*time.Millisecond)
}

func TestFullQueueDropsEvent(t *testing.T) {
	sim, q, _ := start(t, 1)
	for i := 0; i < 2; i++ {
		sim.Press(types.ButtonPrimary)
		time.Sleep(20 * time.Millisecond)
		sim.Release(types.ButtonPrimary)
		time.Sleep(20 * time.Millisecond)
	}
	if q.Drops() != 1 {
		t.Fatalf("drops = %d, want 1", q.Drops())
	}
	expectEvent(t, q, types.PrimaryShort)
	expectNoEvent(t, q, 20*time.Millisecond)
}

func TestConfigFrom(t *testing.T) {
	c := ConfigFrom(config.Default().Buttons)
	if c.Debounce != 30*time.Millisecond || c.Long[types.ButtonFrequency] != time.Second {
		t.Fatalf("got %+v", c)
	}
}

func TestBounceEdgesAreCoalesced(t *testing.T) {
	sim, q, s := start(t, 8)
	for i := 0; i < 3; i++ {
		sim.Press(types.ButtonPrimary)
		sim.Release(types.ButtonPrimary)
	}
	if n := s.CoalescedEdges(); n == 0 {
		t.Fatal("no edges coalesced")
	}
	expectNoEvent(t, q, 40*time.Millisecond)
}
