//go:build !rp2040

package platform

import (
	"context"
	"testing"

	"hvsupply/drivers/mcp23017"
	"hvsupply/drivers/mcp3424"
	"hvsupply/hw"
	"hvsupply/types"
)

func TestFakePinIRQOnFallingEdge(t *testing.T) {
	p := NewFakePin(3)
	_ = p.ConfigureInput(hw.PullUp)
	if !p.Get() {
		t.Fatal("pull-up should idle high")
	}
	fired := 0
	_ = p.SetIRQ(hw.EdgeFalling, func() { fired++ })
	p.Drive(false)
	p.Drive(true)
	p.Drive(false)
	if fired != 2 {
		t.Fatalf("fired = %d, want 2", fired)
	}
	_ = p.ClearIRQ()
	p.Drive(true)
	p.Drive(false)
	if fired != 2 {
		t.Fatal("handler fired after ClearIRQ")
	}
}

func TestDrivenLevelSurvivesConfigure(t *testing.T) {
	s := NewSim(2)
	_ = s.ID0.ConfigureInput(hw.PullDown)
	_ = s.ID1.ConfigureInput(hw.PullDown)
	if s.ID0.Get() || !s.ID1.Get() {
		t.Fatalf("id straps = %v %v", s.ID0.Get(), s.ID1.Get())
	}
}

func TestSimBoardButtons(t *testing.T) {
	s := NewSim(0)
	b := s.Board()
	s.Press(types.ButtonFrequency)
	if b.Buttons[types.ButtonFrequency].Get() {
		t.Fatal("pressed button should read low")
	}
	s.Release(types.ButtonFrequency)
	if !b.Buttons[types.ButtonFrequency].Get() {
		t.Fatal("released button should read high")
	}
}

func TestSimExpanderWithDriver(t *testing.T) {
	e := NewSimExpander()
	d := mcp23017.New(e)
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if e.Reg(mcp23017.RegIODIRA) != 0 || e.Reg(mcp23017.RegIODIRB) != 0 {
		t.Fatal("directions not outputs")
	}
	_ = d.WriteGPB(0x49)
	if _, gpb := e.Latches(); gpb != 0x49 {
		t.Fatalf("gpb = %#x", gpb)
	}
	e.FailNext(1)
	if err := d.WriteGPA(1); err == nil {
		t.Fatal("expected injected failure")
	}
	if err := d.WriteGPA(1); err != nil {
		t.Fatal(err)
	}
}

func TestSimADCWithDriver(t *testing.T) {
	a := NewSimADC()
	a.BusyReads = 2
	a.SetVolts(1, -1.6)
	a.SetVolts(2, 0.5)
	d := mcp3424.New(a)
	d.Configure(mcp3424.Config{Poll: 1})

	uv, err := d.ReadMicrovolts(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if v := mcp3424.UVToVolts(uv); v > -1.5999 || v < -1.6001 {
		t.Fatalf("ch1 = %v", v)
	}
	uv, _ = d.ReadMicrovolts(context.Background(), 2)
	if v := mcp3424.UVToVolts(uv); v < 0.4999 || v > 0.5001 {
		t.Fatalf("ch2 = %v", v)
	}

	a.SetFailing(2, true)
	if _, err := d.ReadMicrovolts(context.Background(), 2); err == nil {
		t.Fatal("expected failure")
	}
}

func TestRecordingDAC(t *testing.T) {
	d := &RecordingDAC{}
	_ = d.SetCode(5000)
	if c, _ := d.Last(); c != hw.MaxCode {
		t.Fatalf("code = %d", c)
	}
}
