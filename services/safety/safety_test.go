package safety

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"hvsupply/bus"
	"hvsupply/drivers/mcp3424"
	"hvsupply/platform"
	"hvsupply/types"
	"hvsupply/x/logx"
)

type rig struct {
	adc *platform.SimADC
	dac *bus.Queue[types.DacCommand]
	hv  *bus.Queue[types.HvCommand]
	tb  *bus.Bus
	svc *Service
}

func newRig(t *testing.T, hvCap int) *rig {
	t.Helper()
	sim := platform.NewSimADC()
	dev := mcp3424.New(sim)
	dev.Configure(mcp3424.Config{Poll: time.Millisecond})
	dq := bus.NewQueue[types.DacCommand]("dac", 8)
	hq := bus.NewQueue[types.HvCommand]("hv", hvCap)
	b := bus.NewBus(8)
	cfg := Config{
		Period:     20 * time.Millisecond,
		Warn:       1.527,
		Emergency:  1.724,
		Discharged: 0.045409,
		WarnEvery:  time.Second,
	}
	svc := New(dev, cfg, dq.Sender(), hq.Sender(), b.NewConnection("safety"))
	return &rig{adc: sim, dac: dq, hv: hq, tb: b, svc: svc}
}

func TestNominalReading(t *testing.T) {
	r := newRig(t, 8)
	r.adc.SetVolts(1, 0.8)
	r.adc.SetVolts(2, -0.9)
	got, ok := r.svc.Check(context.Background())
	if !ok {
		t.Fatal("read failed")
	}
	if got.Warn || got.Emergency || got.Discharged {
		t.Fatalf("flags %+v", got)
	}
	if got.Ch2 < 0.8999 || got.Ch2 > 0.9001 {
		t.Fatalf("ch2 magnitude %v", got.Ch2)
	}
	if r.dac.Len() != 0 || r.hv.Len() != 0 {
		t.Fatal("commands issued for nominal reading")
	}
	if v, ok := r.tb.Retained(types.TopicSafetyReading); !ok || v.(types.SenseReading) != got {
		t.Fatalf("retained = %#v", v)
	}
}

func TestWarningOnlyLogs(t *testing.T) {
	var buf bytes.Buffer
	logx.SetOutput(&buf)
	t.Cleanup(func() { logx.SetOutput(nil) })

	r := newRig(t, 8)
	r.adc.SetVolts(1, 1.6)
	for i := 0; i < 3; i++ {
		got, _ := r.svc.Check(context.Background())
		if !got.Warn || got.Emergency {
			t.Fatalf("flags %+v", got)
		}
	}
	if r.dac.Len() != 0 || r.hv.Len() != 0 {
		t.Fatal("warning must not act")
	}
	if n := strings.Count(buf.String(), "over-voltage warning"); n != 1 {
		t.Fatalf("warning logged %d times, want 1", n)
	}
}

func TestEmergencyIssuesBothCommands(t *testing.T) {
	r := newRig(t, 8)
	r.adc.SetVolts(2, -1.8)
	got, _ := r.svc.Check(context.Background())
	if !got.Emergency || !got.Warn {
		t.Fatalf("flags %+v", got)
	}
	dc, ok := r.dac.Receiver().TryRecv()
	if !ok || dc != types.SetVoltage(0) {
		t.Fatalf("dac cmd %+v %v", dc, ok)
	}
	hc, ok := r.hv.Receiver().TryRecv()
	if !ok || hc != types.ForceStop {
		t.Fatalf("hv cmd %+v %v", hc, ok)
	}
}

func TestEmergencyDoesNotWaitOnFullHvQueue(t *testing.T) {
	r := newRig(t, 1)
	r.hv.Sender().TrySend(types.RequestPolarityToggle)
	r.adc.SetVolts(1, 2.0)

	start := time.Now()
	r.svc.Check(context.Background())
	if el := time.Since(start); el > 200*time.Millisecond {
		t.Fatalf("check blocked for %v", el)
	}
	if r.dac.Len() != 1 {
		t.Fatal("dac zero must still be issued")
	}

	// Next cycle retries once the queue has room.
	r.hv.Receiver().TryRecv()
	r.svc.Check(context.Background())
	if hc, _ := r.hv.Receiver().TryRecv(); hc != types.ForceStop {
		t.Fatalf("retry not issued: %+v", hc)
	}
}

func TestReadFailureIsNotAnEmergency(t *testing.T) {
	r := newRig(t, 8)
	conn := r.tb.NewConnection("test")
	faults := conn.Subscribe(types.TopicSafetyFault)

	r.adc.SetVolts(1, 5.0)
	r.adc.SetFailing(2, true)
	if _, ok := r.svc.Check(context.Background()); ok {
		t.Fatal("expected read failure")
	}
	if r.dac.Len() != 0 || r.hv.Len() != 0 {
		t.Fatal("read failure triggered action")
	}
	select {
	case m := <-faults.Channel():
		if f := m.Payload.(types.SenseFault); f.Channel != 2 {
			t.Fatalf("fault %+v", f)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no fault published")
	}
}

func TestFirstChannelFailureStillReadsSecond(t *testing.T) {
	r := newRig(t, 8)
	conn := r.tb.NewConnection("test")
	faults := conn.Subscribe(types.TopicSafetyFault)

	r.adc.SetFailing(1, true)
	r.adc.SetFailing(2, true)
	if _, ok := r.svc.Check(context.Background()); ok {
		t.Fatal("expected read failure")
	}
	for _, want := range []uint8{1, 2} {
		select {
		case m := <-faults.Channel():
			if f := m.Payload.(types.SenseFault); f.Channel != want {
				t.Fatalf("fault %+v, want ch%d", f, want)
			}
		case <-time.After(200 * time.Millisecond):
			t.Fatalf("no fault for ch%d", want)
		}
	}

	// ch1 down, ch2 over the emergency level: logged, no action.
	r.adc.SetFailing(2, false)
	r.adc.SetVolts(2, 5.0)
	if _, ok := r.svc.Check(context.Background()); ok {
		t.Fatal("expected read failure")
	}
	if r.dac.Len() != 0 || r.hv.Len() != 0 {
		t.Fatal("partial reading triggered action")
	}
}

func TestDischargedFlag(t *testing.T) {
	r := newRig(t, 8)
	r.adc.SetVolts(1, 0.01)
	r.adc.SetVolts(2, -0.02)
	if got, _ := r.svc.Check(context.Background()); !got.Discharged {
		t.Fatalf("flags %+v", got)
	}
}

func TestLoopActsWithinOnePeriod(t *testing.T) {
	r := newRig(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.svc.Start(ctx)

	time.Sleep(30 * time.Millisecond)
	r.adc.SetVolts(1, 1.9)
	select {
	case hc := <-r.hv.Receiver().C():
		if hc != types.ForceStop {
			t.Fatalf("got %+v", hc)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("no force stop")
	}
}
