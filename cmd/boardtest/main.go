// cmd/boardtest/main.go
//
// Bench bring-up for a bare board with the HV stage disconnected. Each cycle
// walks the relay latches through the select patterns, sweeps the analog
// output and reads both sense channels, then reports PASS or FAIL.
package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"hvsupply/drivers/mcp23017"
	"hvsupply/drivers/mcp3424"
	"hvsupply/platform"
	"hvsupply/services/dac"
	"hvsupply/services/hv"
	"hvsupply/types"
)

// ---------- Configuration ----------

type timing struct {
	stepDelay time.Duration
	dwell     time.Duration
}

var defaultTiming = timing{
	stepDelay: 300 * time.Millisecond,
	dwell:     2 * time.Second,
}

const (
	// Cycles: 0 = loop forever
	cyclesToRun = 0
)

// Setpoints swept each cycle, in HV volts.
var dacSweep = []float32{0, 2.5, 5, 10, 0}

// ---------- Minimal output ----------

type out struct{ w io.Writer }

func (o *out) println(a ...any) {
	line := fmt.Sprintln(a...)
	if o.w == nil {
		print(line)
		return
	}
	_, _ = io.WriteString(o.w, line)
}

func (o *out) printf(format string, a ...any) {
	o.println(fmt.Sprintf(format, a...))
}

// ---------- Checks ----------

type rig struct {
	board *platform.Board
	exp   *mcp23017.Device
	adc   *mcp3424.Device
	t     timing
	o     *out
}

// relays writes each legal select pattern, pulses the transfer pair and
// reads the latch back.
func (r *rig) relays() []string {
	var miss []string
	for _, p := range []types.Polarity{types.Positive, types.Negative} {
		sel := hv.SelectBits(p)
		if err := hv.CheckInterlock(sel); err != nil {
			miss = append(miss, "interlock "+p.String())
			continue
		}
		for _, v := range []byte{sel, sel | hv.BitStepPos | hv.BitCTGP, sel} {
			if err := r.exp.WriteGPB(v); err != nil {
				miss = append(miss, "expander write")
				return miss
			}
			got, err := r.exp.ReadReg(mcp23017.RegOLATB)
			if err != nil || got != v {
				miss = append(miss, fmt.Sprintf("latch readback %#02x", v))
			}
			r.o.printf("gpb %08b (%s)", v, p)
			time.Sleep(r.t.stepDelay)
		}
	}
	if err := r.exp.WriteGPB(0); err != nil {
		miss = append(miss, "expander clear")
	}
	return miss
}

// sweep steps the analog output and reads both channels at each point.
func (r *rig) sweep(ctx context.Context) []string {
	var miss []string
	for _, v := range dacSweep {
		code := dac.Code(v)
		if err := r.board.DAC.SetCode(code); err != nil {
			miss = append(miss, "dac write")
			break
		}
		time.Sleep(r.t.dwell)
		for ch := uint8(1); ch <= 2; ch++ {
			uv, err := r.adc.ReadMicrovolts(ctx, ch)
			if err != nil {
				miss = append(miss, fmt.Sprintf("adc ch%d", ch))
				continue
			}
			r.o.printf("dac %.2f V code %d: ch%d %.6f V", v, code, ch, mcp3424.UVToVolts(uv))
		}
	}
	_ = r.board.DAC.SetCode(0)
	return miss
}

func (r *rig) cycle(ctx context.Context, n int) bool {
	r.o.println("=== boardtest: cycle ", n, " ===")
	miss := append(r.relays(), r.sweep(ctx)...)
	if len(miss) == 0 {
		r.o.println("[PASS] relays latched; analog loop read back")
		return true
	}
	r.o.println("[FAIL] ", fmt.Sprintf("%v", miss))
	return false
}

// ---------- Main ----------

func newRig(b *platform.Board, t timing) *rig {
	return &rig{
		board: b,
		exp:   mcp23017.New(b.ExpanderBus),
		adc:   mcp3424.New(b.ADCBus),
		t:     t,
		o:     &out{w: b.Console},
	}
}

// prepare holds KILL_N high and brings the expander out of reset.
func (r *rig) prepare() error {
	if err := r.board.KillN.ConfigureOutput(true); err != nil {
		return err
	}
	if err := r.board.ExpanderReset.ConfigureOutput(false); err != nil {
		return err
	}
	time.Sleep(time.Millisecond)
	r.board.ExpanderReset.Set(true)
	time.Sleep(time.Millisecond)
	return r.exp.Init()
}

func main() {
	time.Sleep(2 * time.Second)
	ctx := context.Background()

	b, err := platform.Open()
	if err != nil {
		println("[boardtest] board open failed:", err.Error())
		return
	}
	r := newRig(b, defaultTiming)
	if err := r.prepare(); err != nil {
		r.o.println("[boardtest] expander init failed; continuing: ", err.Error())
	}

	for n := 1; ; n++ {
		r.cycle(ctx, n)
		if cyclesToRun > 0 && n >= cyclesToRun {
			r.o.println("completed ", n, " cycles; halting")
			return
		}
	}
}
