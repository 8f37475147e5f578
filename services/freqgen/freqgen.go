// Package freqgen drives the square-wave output from a fixed frequency
// table. It owns the drive pin; commands arrive on its queue and every
// effective frequency change is reported to the HV task so the HV-enable
// relay can follow it.
package freqgen

import (
	"context"
	"time"

	"hvsupply/bus"
	"hvsupply/hw"
	"hvsupply/types"
	"hvsupply/x/logx"
	"hvsupply/x/timex"
)

var log = logx.New("freq")

// Table is cycled by Next. The final 0 Hz slot disables the output.
var Table = [...]uint32{1, 2, 5, 10, 20, 50, 60, 100, 200, 400, 0}

// bootIndex selects the disable slot, so the first Next gives 1 Hz.
const bootIndex = len(Table) - 1

type Config struct {
	// Idle is the loop period while the output is disabled.
	Idle time.Duration
	// CapturePin is reported by EnterCaptureMode.
	CapturePin int
}

type Service struct {
	drive hw.GPIOPin
	cfg   Config
	in    bus.Receiver[types.FrequencyCommand]
	hv    bus.Sender[types.HvCommand]
	conn  *bus.Connection

	idx int
	hz  uint32
}

func New(drive hw.GPIOPin, cfg Config, in bus.Receiver[types.FrequencyCommand], hv bus.Sender[types.HvCommand], conn *bus.Connection) *Service {
	if cfg.Idle <= 0 {
		cfg.Idle = 50 * time.Millisecond
	}
	return &Service{drive: drive, cfg: cfg, in: in, hv: hv, conn: conn, idx: bootIndex}
}

func (s *Service) Start(ctx context.Context) error {
	if err := s.drive.ConfigureOutput(false); err != nil {
		return err
	}
	s.publish()
	go s.run(ctx)
	return nil
}

func (s *Service) run(ctx context.Context) {
	t := time.NewTimer(time.Hour)
	defer t.Stop()
	for {
		for {
			cmd, ok := s.in.TryRecv()
			if !ok {
				break
			}
			s.apply(cmd)
		}

		wait := s.cfg.Idle
		if s.hz > 0 {
			s.drive.Toggle()
			wait = timex.HalfPeriod(s.hz)
		} else {
			s.drive.Set(false)
		}

		resetTimer(t, wait)
		select {
		case <-ctx.Done():
			s.drive.Set(false)
			log.Info("stopping")
			return
		case cmd := <-s.in.C():
			s.apply(cmd)
		case <-t.C:
		}
	}
}

func (s *Service) apply(cmd types.FrequencyCommand) {
	switch cmd.Kind {
	case types.FreqNext:
		s.idx = (s.idx + 1) % len(Table)
		hz := Table[s.idx]
		log.Info("frequency", "hz", hz)
		s.set(hz)
		if hz == 0 {
			if !s.hv.TrySend(types.ForceStop) {
				log.Warn("force stop dropped")
			}
		}
	case types.FreqSet:
		if i, ok := indexOf(cmd.Hz); ok {
			s.idx = i
		}
		log.Debug("set", "hz", cmd.Hz)
		s.set(cmd.Hz)
	case types.FreqEnterCapture:
		log.Info("input capture mode not available", "pin", s.cfg.CapturePin)
	}
}

func (s *Service) set(hz uint32) {
	if hz == 0 {
		s.drive.Set(false)
	}
	if hz == s.hz {
		return
	}
	s.hz = hz
	if !s.hv.TrySend(types.FrequencyChanged(hz)) {
		log.Debug("frequency notice dropped", "hz", hz)
	}
	s.publish()
}

func (s *Service) publish() {
	if s.conn == nil {
		return
	}
	s.conn.PublishRetained(types.TopicFreqState, types.FreqStatus{Index: s.idx, Hz: s.hz, Enabled: s.hz > 0})
}

func indexOf(hz uint32) (int, bool) {
	for i, v := range Table {
		if v == hz {
			return i, true
		}
	}
	return 0, false
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
