package heartbeat

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"hvsupply/bus"
	"hvsupply/services/config"
	"hvsupply/types"
	"hvsupply/x/logx"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (w *syncBuffer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.Write(p)
}

func (w *syncBuffer) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.String()
}

func capture(t *testing.T) *syncBuffer {
	t.Helper()
	w := &syncBuffer{}
	logx.SetOutput(w)
	t.Cleanup(func() { logx.SetOutput(nil) })
	return w
}

func waitForLog(t *testing.T, w *syncBuffer, want string) {
	t.Helper()
	deadline := time.After(time.Second)
	for !strings.Contains(w.String(), want) {
		select {
		case <-deadline:
			t.Fatalf("log missing %q:\n%s", want, w.String())
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestHeartbeatReportsRetainedTelemetry(t *testing.T) {
	w := capture(t)
	b := bus.NewBus(4)
	pub := b.NewConnection("test")
	pub.PublishRetained(types.TopicHvState, types.HvStatus{State: types.HvRunning, Polarity: types.Negative})
	pub.PublishRetained(types.TopicFreqState, types.FreqStatus{Hz: 60, Enabled: true})
	pub.PublishRetained(types.TopicDacSetpoint, types.DacStatus{Volts: 1.5})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	New(b.NewConnection("heartbeat"), 10*time.Millisecond).Start(ctx)

	waitForLog(t, w, "hv=running pol=negative hz=60 volts=1.500")
}

func TestHeartbeatFollowsConfigInterval(t *testing.T) {
	w := capture(t)
	b := bus.NewBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	New(b.NewConnection("heartbeat"), time.Hour).Start(ctx)

	b.NewConnection("config").PublishRetained(config.TopicHeartbeat, config.HeartbeatConfig{IntervalMS: 10})
	waitForLog(t, w, "interval set")
	waitForLog(t, w, "] heartbeat t=")
}

func TestHeartbeatReportsSenseFaultOnce(t *testing.T) {
	w := capture(t)
	b := bus.NewBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	New(b.NewConnection("heartbeat"), 10*time.Millisecond).Start(ctx)

	// Faults are not retained, so wait until the subscriber exists.
	time.Sleep(20 * time.Millisecond)
	b.NewConnection("safety").Publish(&bus.Message{Topic: types.TopicSafetyFault, Payload: types.SenseFault{Channel: 2, Err: "nack"}})
	waitForLog(t, w, "last sense fault ch=2 err=nack")

	time.Sleep(50 * time.Millisecond)
	if n := strings.Count(w.String(), "last sense fault"); n != 1 {
		t.Fatalf("fault reported %d times", n)
	}
}

func TestHeartbeatReportsCoalescedEdges(t *testing.T) {
	w := capture(t)
	b := bus.NewBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	New(b.NewConnection("heartbeat"), 10*time.Millisecond).
		CountEdges(func() uint32 { return 3 }).
		Start(ctx)

	waitForLog(t, w, "edges=3")
}
