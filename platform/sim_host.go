//go:build !rp2040

package platform

import (
	"errors"
	"math"
	"sync"

	"hvsupply/drivers/mcp23017"
	"hvsupply/drivers/mcp3424"
	"hvsupply/hw"
	"hvsupply/types"
)

var ErrSimNack = errors.New("sim: nack")

// ----------------------------- expander -------------------------------------

// LatchWrite is one observed write to an output latch.
type LatchWrite struct {
	Reg byte
	Val byte
}

// SimExpander models the MCP23017 register file on the drivers.I2C surface.
type SimExpander struct {
	mu       sync.Mutex
	regs     [0x16]byte
	writes   []LatchWrite
	failNext int
	failAll  bool
}

func NewSimExpander() *SimExpander {
	e := &SimExpander{}
	e.regs[mcp23017.RegIODIRA] = 0xFF
	e.regs[mcp23017.RegIODIRB] = 0xFF
	return e
}

func (e *SimExpander) Tx(addr uint16, w, r []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if addr != mcp23017.Address {
		return ErrSimNack
	}
	if e.failAll {
		return ErrSimNack
	}
	if len(w) == 2 {
		if e.failNext > 0 {
			e.failNext--
			return ErrSimNack
		}
		if int(w[0]) >= len(e.regs) {
			return ErrSimNack
		}
		e.regs[w[0]] = w[1]
		if w[0] == mcp23017.RegOLATA || w[0] == mcp23017.RegOLATB {
			e.writes = append(e.writes, LatchWrite{Reg: w[0], Val: w[1]})
		}
		return nil
	}
	if len(w) == 1 && len(r) == 1 && int(w[0]) < len(e.regs) {
		r[0] = e.regs[w[0]]
		return nil
	}
	return ErrSimNack
}

// Latches returns OLATA and OLATB.
func (e *SimExpander) Latches() (gpa, gpb byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.regs[mcp23017.RegOLATA], e.regs[mcp23017.RegOLATB]
}

func (e *SimExpander) Reg(reg byte) byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.regs[reg]
}

// Writes returns a copy of every latch write so far.
func (e *SimExpander) Writes() []LatchWrite {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]LatchWrite(nil), e.writes...)
}

// FailNext makes the next n register writes fail.
func (e *SimExpander) FailNext(n int) {
	e.mu.Lock()
	e.failNext = n
	e.mu.Unlock()
}

// SetOffline makes every transaction fail until cleared.
func (e *SimExpander) SetOffline(off bool) {
	e.mu.Lock()
	e.failAll = off
	e.mu.Unlock()
}

// -------------------------------- ADC ---------------------------------------

// SimADC models the MCP3424: a config write selects the channel and starts
// a conversion that reports busy for BusyReads reads.
type SimADC struct {
	mu        sync.Mutex
	uv        [4]int32
	fail      [4]bool
	ch        int
	busyLeft  int
	BusyReads int
	Conversions uint32
}

func NewSimADC() *SimADC { return &SimADC{} }

// SetVolts sets the sensed voltage on channel 1..4.
func (a *SimADC) SetVolts(ch uint8, v float32) {
	a.mu.Lock()
	a.uv[(ch-1)&3] = int32(math.Round(float64(v) * 1e6))
	a.mu.Unlock()
}

// SetFailing makes reads of channel ch fail.
func (a *SimADC) SetFailing(ch uint8, fail bool) {
	a.mu.Lock()
	a.fail[(ch-1)&3] = fail
	a.mu.Unlock()
}

func (a *SimADC) Tx(addr uint16, w, r []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if addr != mcp3424.Address {
		return ErrSimNack
	}
	if len(w) == 1 {
		a.ch = int(w[0]>>5) & 3
		a.busyLeft = a.BusyReads
		a.Conversions++
		return nil
	}
	if len(r) < 4 {
		return ErrSimNack
	}
	if a.fail[a.ch] {
		return ErrSimNack
	}
	cfg := byte(a.ch<<5) | 0x0C
	if a.busyLeft > 0 {
		a.busyLeft--
		r[0], r[1], r[2], r[3] = 0, 0, 0, cfg|0x80
		return nil
	}
	lsb := int32(math.Round(float64(a.uv[a.ch]) * 1000 / 15625))
	if lsb > 131071 {
		lsb = 131071
	} else if lsb < -131072 {
		lsb = -131072
	}
	raw := uint32(lsb) & 0xFFFFFF
	r[0], r[1], r[2], r[3] = byte(raw>>16), byte(raw>>8), byte(raw), cfg
	return nil
}

// -------------------------------- DAC ---------------------------------------

// RecordingDAC keeps every code written.
type RecordingDAC struct {
	mu    sync.Mutex
	codes []uint16
	err   error
}

func (d *RecordingDAC) SetCode(code uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if code > hw.MaxCode {
		code = hw.MaxCode
	}
	d.codes = append(d.codes, code)
	return nil
}

// Fail makes subsequent writes return err; nil restores success.
func (d *RecordingDAC) Fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *RecordingDAC) Codes() []uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint16(nil), d.codes...)
}

// Last returns the most recent code, ok=false before any write.
func (d *RecordingDAC) Last() (uint16, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.codes) == 0 {
		return 0, false
	}
	return d.codes[len(d.codes)-1], true
}

// ------------------------------- board --------------------------------------

// Sim is a complete simulated board.
type Sim struct {
	Buttons  [3]*FakePin
	ID0, ID1 *FakePin
	Drive    *FakePin
	Capture  *FakePin
	Reset    *FakePin
	KillN    *FakePin

	Expander *SimExpander
	ADC      *SimADC
	DAC      *RecordingDAC
}

// NewSim builds a board whose ID straps read as id (0..3).
func NewSim(id uint8) *Sim {
	s := &Sim{
		Buttons: [3]*FakePin{
			NewFakePin(PinBtnPrimary),
			NewFakePin(PinBtnPolarity),
			NewFakePin(PinBtnFrequency),
		},
		ID0:      NewFakePin(PinBoardID0),
		ID1:      NewFakePin(PinBoardID1),
		Drive:    NewFakePin(PinDrive),
		Capture:  NewFakePin(PinCapture),
		Reset:    NewFakePin(PinExpanderReset),
		KillN:    NewFakePin(PinKillN),
		Expander: NewSimExpander(),
		ADC:      NewSimADC(),
		DAC:      &RecordingDAC{},
	}
	for _, b := range s.Buttons {
		b.Drive(true)
	}
	s.ID0.Drive(id&1 != 0)
	s.ID1.Drive(id&2 != 0)
	return s
}

func (s *Sim) Board() *Board {
	b := &Board{
		ID0:           s.ID0,
		ID1:           s.ID1,
		Drive:         s.Drive,
		Capture:       s.Capture,
		ExpanderReset: s.Reset,
		KillN:         s.KillN,
		DAC:           s.DAC,
		ExpanderBus:   s.Expander,
		ADCBus:        s.ADC,
	}
	for i, p := range s.Buttons {
		b.Buttons[i] = p
	}
	return b
}

// Press pulls the button low; Release lets it float back high.
func (s *Sim) Press(b types.Button)   { s.Buttons[b].Drive(false) }
func (s *Sim) Release(b types.Button) { s.Buttons[b].Drive(true) }

// Open returns a fresh simulated board with ID 0.
func Open() (*Board, error) { return NewSim(0).Board(), nil }
