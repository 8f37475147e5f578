//go:build !rp2040

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"hvsupply/bus"
	"hvsupply/platform"
	"hvsupply/services/bridge"
	"hvsupply/types"
)

// Script steps, one per line:
//
//	press  <button> [duration]   short press (default 100ms)
//	hold   <button> <duration>
//	sense  <channel> <volts>
//	fail   <channel> on|off
//	expander online|offline
//	wait   <duration>
//	status
//
// Buttons are primary, polarity and frequency. '#' starts a comment.

type opKind uint8

const (
	opPress opKind = iota
	opSense
	opFail
	opExpander
	opWait
	opStatus
)

type step struct {
	line   int
	op     opKind
	button types.Button
	ch     uint8
	volts  float32
	on     bool
	dur    time.Duration
}

const (
	defaultPress = 100 * time.Millisecond
	settle       = 60 * time.Millisecond
)

var errSyntax = errors.New("syntax")

func parseScript(r io.Reader) ([]step, error) {
	var steps []step
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		words, err := shlex.Split(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if len(words) == 0 {
			continue
		}
		st, err := parseStep(words)
		if err != nil {
			return nil, fmt.Errorf("line %d: %q: %w", n, line, err)
		}
		st.line = n
		steps = append(steps, st)
	}
	return steps, sc.Err()
}

func parseStep(w []string) (step, error) {
	var st step
	var err error
	verb := strings.ToLower(w[0])
	switch verb {
	case "press", "hold":
		st.op = opPress
		if len(w) < 2 || len(w) > 3 || (verb == "hold" && len(w) != 3) {
			return st, errSyntax
		}
		if st.button, err = parseButton(w[1]); err != nil {
			return st, err
		}
		st.dur = defaultPress
		if len(w) == 3 {
			st.dur, err = time.ParseDuration(w[2])
		}
	case "sense":
		st.op = opSense
		if len(w) != 3 {
			return st, errSyntax
		}
		if st.ch, err = parseChannel(w[1]); err != nil {
			return st, err
		}
		var v float64
		v, err = strconv.ParseFloat(w[2], 32)
		st.volts = float32(v)
	case "fail":
		st.op = opFail
		if len(w) != 3 {
			return st, errSyntax
		}
		if st.ch, err = parseChannel(w[1]); err != nil {
			return st, err
		}
		st.on, err = parseOnOff(w[2], "on", "off")
	case "expander":
		st.op = opExpander
		if len(w) != 2 {
			return st, errSyntax
		}
		st.on, err = parseOnOff(w[1], "online", "offline")
	case "wait":
		st.op = opWait
		if len(w) != 2 {
			return st, errSyntax
		}
		st.dur, err = time.ParseDuration(w[1])
	case "status":
		st.op = opStatus
	default:
		return st, fmt.Errorf("unknown step %q", w[0])
	}
	return st, err
}

func parseButton(s string) (types.Button, error) {
	switch strings.ToLower(s) {
	case "primary":
		return types.ButtonPrimary, nil
	case "polarity":
		return types.ButtonPolarity, nil
	case "frequency", "freq":
		return types.ButtonFrequency, nil
	}
	return 0, fmt.Errorf("unknown button %q", s)
}

func parseChannel(s string) (uint8, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 2 {
		return 0, fmt.Errorf("sense channel must be 1 or 2, got %q", s)
	}
	return uint8(n), nil
}

func parseOnOff(s, on, off string) (bool, error) {
	switch strings.ToLower(s) {
	case on:
		return true, nil
	case off:
		return false, nil
	}
	return false, fmt.Errorf("want %s or %s, got %q", on, off, s)
}

// runScript executes steps against sim, printing status lines to out.
func runScript(steps []step, sim *platform.Sim, status func() string, out io.Writer) {
	for _, st := range steps {
		switch st.op {
		case opPress:
			sim.Press(st.button)
			time.Sleep(st.dur)
			sim.Release(st.button)
			time.Sleep(settle)
		case opSense:
			sim.ADC.SetVolts(st.ch, st.volts)
		case opFail:
			sim.ADC.SetFailing(st.ch, st.on)
		case opExpander:
			sim.Expander.SetOffline(!st.on)
		case opWait:
			time.Sleep(st.dur)
		case opStatus:
			fmt.Fprintln(out, status())
		}
	}
}

// statusLine formats the retained telemetry as one line.
func statusLine(get func(topic bus.Topic) (any, bool)) string {
	var b strings.Builder
	if v, ok := get(types.TopicHvState); ok {
		st := v.(types.HvStatus)
		fmt.Fprintf(&b, "hv=%s pol=%s gpa=%#02x gpb=%#02x hv_on=%t", st.State, st.Polarity, st.GPA, st.GPB, st.HVEnabled)
	}
	if v, ok := get(types.TopicFreqState); ok {
		fmt.Fprintf(&b, " hz=%d", v.(types.FreqStatus).Hz)
	}
	if v, ok := get(types.TopicDacSetpoint); ok {
		d := v.(types.DacStatus)
		fmt.Fprintf(&b, " volts=%.3f code=%d", d.Volts, d.Code)
	}
	if v, ok := get(types.TopicSafetyReading); ok {
		r := v.(types.SenseReading)
		fmt.Fprintf(&b, " ch1=%.4f ch2=%.4f warn=%t emergency=%t", r.Ch1, r.Ch2, r.Warn, r.Emergency)
	}
	if v, ok := get(bridge.TopicState); ok {
		fmt.Fprintf(&b, " bridge=%s", v.(bridge.State).Level)
	}
	return strings.TrimSpace(b.String())
}
