//go:build rp2040

// bus/cmd/selftest/main.go
//
// On-target check of the command queues and the telemetry bus. Runs on the
// bare Pico; results go to the USB console and the onboard LED.
package main

import (
	"context"
	"errors"
	"strconv"
	"time"

	"hvsupply/bus"

	"machine"
)

// --- output ------------------------------------------------------------------

func logln(s string) { println(s) }

// --- helpers -----------------------------------------------------------------

func expectPayload(sub *bus.Subscription, want string, timeout time.Duration) (bool, string) {
	select {
	case got := <-sub.Channel():
		s, ok := got.Payload.(string)
		if !ok || s != want {
			return false, "unexpected payload"
		}
		return true, ""
	case <-time.After(timeout):
		return false, "timeout"
	}
}

func expectNoMessage(sub *bus.Subscription, timeout time.Duration) bool {
	select {
	case <-sub.Channel():
		return false
	case <-time.After(timeout):
		return true
	}
}

// --- queue tests -------------------------------------------------------------

func TestQueue_FIFO() bool {
	q := bus.NewQueue[int]("fifo", 4)
	tx, rx := q.Sender(), q.Receiver()
	for i := 1; i <= 3; i++ {
		if !tx.TrySend(i) {
			logln("TestQueue_FIFO: send " + strconv.Itoa(i) + " refused")
			return false
		}
	}
	for want := 1; want <= 3; want++ {
		got, ok := rx.TryRecv()
		if !ok || got != want {
			logln("TestQueue_FIFO: got " + strconv.Itoa(got) + " want " + strconv.Itoa(want))
			return false
		}
	}
	return true
}

func TestQueue_FullDrops() bool {
	q := bus.NewQueue[int]("full", 2)
	tx := q.Sender()
	tx.TrySend(1)
	tx.TrySend(2)
	if tx.TrySend(3) {
		logln("TestQueue_FullDrops: third send accepted")
		return false
	}
	if q.Drops() != 1 || q.Len() != 2 {
		logln("TestQueue_FullDrops: drops=" + strconv.Itoa(int(q.Drops())) + " len=" + strconv.Itoa(q.Len()))
		return false
	}
	return true
}

func TestQueue_SendTimeout() bool {
	q := bus.NewQueue[int]("timeout", 1)
	tx, rx := q.Sender(), q.Receiver()
	tx.TrySend(1)
	start := time.Now()
	if err := tx.SendTimeout(2, 20*time.Millisecond); err == nil {
		logln("TestQueue_SendTimeout: send into full queue succeeded")
		return false
	}
	if time.Since(start) < 15*time.Millisecond {
		logln("TestQueue_SendTimeout: returned early")
		return false
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		rx.TryRecv()
	}()
	if err := tx.SendTimeout(2, 200*time.Millisecond); err != nil {
		logln("TestQueue_SendTimeout: send after drain failed")
		return false
	}
	return true
}

func TestQueue_RecvCancel() bool {
	q := bus.NewQueue[int]("cancel", 1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := q.Receiver().Recv(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		logln("TestQueue_RecvCancel: expected deadline")
		return false
	}
	return true
}

func TestQueue_Drain() bool {
	q := bus.NewQueue[int]("drain", 8)
	tx := q.Sender()
	for i := 0; i < 5; i++ {
		tx.TrySend(i)
	}
	got := q.Receiver().Drain(nil)
	if len(got) != 5 || got[0] != 0 || got[4] != 4 || q.Len() != 0 {
		logln("TestQueue_Drain: drained " + strconv.Itoa(len(got)))
		return false
	}
	return true
}

// --- bus tests ---------------------------------------------------------------

func TestBus_PubSub() bool {
	b := bus.NewBus(4)
	c := b.NewConnection("test")
	sub := c.Subscribe(bus.T("hv", "state"))
	c.Publish(&bus.Message{Topic: bus.T("hv", "state"), Payload: "off"})
	ok, why := expectPayload(sub, "off", 100*time.Millisecond)
	if !ok {
		logln("TestBus_PubSub: " + why)
	}
	return ok
}

func TestBus_ExactMatchOnly() bool {
	b := bus.NewBus(4)
	c := b.NewConnection("test")
	sub := c.Subscribe(bus.T("safety"))
	c.Publish(&bus.Message{Topic: bus.T("safety", "reading"), Payload: "x"})
	if !expectNoMessage(sub, 50*time.Millisecond) {
		logln("TestBus_ExactMatchOnly: parent topic received child message")
		return false
	}
	return true
}

func TestBus_Retained() bool {
	b := bus.NewBus(4)
	c := b.NewConnection("test")
	c.PublishRetained(bus.T("freq", "state"), "60")
	sub := c.Subscribe(bus.T("freq", "state"))
	ok, why := expectPayload(sub, "60", 100*time.Millisecond)
	if !ok {
		logln("TestBus_Retained: " + why)
		return false
	}
	if v, ok := b.Retained(bus.T("freq", "state")); !ok || v != "60" {
		logln("TestBus_Retained: lookup missed")
		return false
	}
	return true
}

func TestBus_RetainedClear() bool {
	b := bus.NewBus(4)
	c := b.NewConnection("test")
	c.PublishRetained(bus.T("dac", "setpoint"), "1.5")
	c.PublishRetained(bus.T("dac", "setpoint"), nil)
	if _, ok := b.Retained(bus.T("dac", "setpoint")); ok {
		logln("TestBus_RetainedClear: value survived nil publish")
		return false
	}
	sub := c.Subscribe(bus.T("dac", "setpoint"))
	if !expectNoMessage(sub, 50*time.Millisecond) {
		logln("TestBus_RetainedClear: cleared value delivered")
		return false
	}
	return true
}

func TestBus_SlowSubscriberKeepsNewest() bool {
	b := bus.NewBus(2)
	c := b.NewConnection("test")
	sub := c.Subscribe(bus.T("t"))
	for _, p := range []string{"a", "b", "c"} {
		c.Publish(&bus.Message{Topic: bus.T("t"), Payload: p})
	}
	if ok, _ := expectPayload(sub, "b", 50*time.Millisecond); !ok {
		logln("TestBus_SlowSubscriberKeepsNewest: oldest not dropped")
		return false
	}
	if ok, _ := expectPayload(sub, "c", 50*time.Millisecond); !ok {
		logln("TestBus_SlowSubscriberKeepsNewest: newest missing")
		return false
	}
	return true
}

func TestBus_DisconnectCloses() bool {
	b := bus.NewBus(2)
	c := b.NewConnection("test")
	s1 := c.Subscribe(bus.T("a"))
	s2 := c.Subscribe(bus.T("b"))
	c.Disconnect()
	_, ok1 := <-s1.Channel()
	_, ok2 := <-s2.Channel()
	if ok1 || ok2 {
		logln("TestBus_DisconnectCloses: channel still open")
		return false
	}
	return true
}

// --- main: run all tests, report, and blink LED on failure --------------------

type testFn struct {
	name string
	fn   func() bool
}

func main() {
	// Give the USB CDC time to enumerate so logs show up reliably.
	time.Sleep(250 * time.Millisecond)

	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	led.High()

	tests := []testFn{
		{"TestQueue_FIFO", TestQueue_FIFO},
		{"TestQueue_FullDrops", TestQueue_FullDrops},
		{"TestQueue_SendTimeout", TestQueue_SendTimeout},
		{"TestQueue_RecvCancel", TestQueue_RecvCancel},
		{"TestQueue_Drain", TestQueue_Drain},
		{"TestBus_PubSub", TestBus_PubSub},
		{"TestBus_ExactMatchOnly", TestBus_ExactMatchOnly},
		{"TestBus_Retained", TestBus_Retained},
		{"TestBus_RetainedClear", TestBus_RetainedClear},
		{"TestBus_SlowSubscriberKeepsNewest", TestBus_SlowSubscriberKeepsNewest},
		{"TestBus_DisconnectCloses", TestBus_DisconnectCloses},
	}

	passed, failed := 0, 0
	logln("== bus self-test starting ==")
	for _, tc := range tests {
		if tc.fn() {
			logln("[PASS] " + tc.name)
			passed++
		} else {
			logln("[FAIL] " + tc.name)
			failed++
		}
		time.Sleep(10 * time.Millisecond)
	}
	logln("== done: " + strconv.Itoa(passed) + " passed, " + strconv.Itoa(failed) + " failed ==")

	// LED: solid ON if all passed, otherwise fast blink forever.
	if failed == 0 {
		for {
			led.High()
			time.Sleep(2 * time.Second)
		}
	}
	for {
		led.High()
		time.Sleep(250 * time.Millisecond)
		led.Low()
		time.Sleep(250 * time.Millisecond)
	}
}
