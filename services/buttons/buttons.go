// Package buttons turns the three active-low push buttons into
// ButtonEvents. Each button has its own watcher goroutine, woken by the
// pin's falling-edge interrupt, so a long hold on one button never delays
// another.
//
// Per press: debounce, confirm still low, then poll while held. Crossing
// the long threshold emits Long at once and swallows the release; an
// earlier release emits Short. Exactly one event per confirmed press.
package buttons

import (
	"context"
	"sync/atomic"
	"time"

	"hvsupply/bus"
	"hvsupply/hw"
	"hvsupply/services/config"
	"hvsupply/types"
	"hvsupply/x/logx"
	"hvsupply/x/timex"
)

var log = logx.New("buttons")

type Config struct {
	Debounce time.Duration
	Poll     time.Duration
	// Long is the long-press threshold per types.Button.
	Long [3]time.Duration
}

func ConfigFrom(c config.ButtonsConfig) Config {
	return Config{
		Debounce: timex.Ms(c.DebounceMS),
		Poll:     timex.Ms(c.PollMS),
		Long: [3]time.Duration{
			types.ButtonPrimary:   timex.Ms(c.PrimaryLongMS),
			types.ButtonPolarity:  timex.Ms(c.PolarityLongMS),
			types.ButtonFrequency: timex.Ms(c.FrequencyLongMS),
		},
	}
}

type Service struct {
	pins [3]hw.IRQPin
	cfg  Config
	out  bus.Sender[types.ButtonEvent]

	irqDrops uint32
}

func New(pins [3]hw.IRQPin, cfg Config, out bus.Sender[types.ButtonEvent]) *Service {
	return &Service{pins: pins, cfg: cfg, out: out}
}

// Start configures the pins and launches one watcher per button. The
// watchers stop when ctx ends.
func (s *Service) Start(ctx context.Context) error {
	for i, p := range s.pins {
		b := types.Button(i)
		if err := p.ConfigureInput(hw.PullUp); err != nil {
			return err
		}
		wake := make(chan struct{}, 1)
		// ISR path: non-blocking, edges during a press cycle coalesce.
		handler := func() {
			select {
			case wake <- struct{}{}:
			default:
				atomic.AddUint32(&s.irqDrops, 1)
			}
		}
		if err := p.SetIRQ(hw.EdgeFalling, handler); err != nil {
			return err
		}
		go s.watch(ctx, b, p, wake)
	}
	log.Info("started", "debounce", s.cfg.Debounce)
	return nil
}

// CoalescedEdges counts edges that arrived while a wake was already pending.
func (s *Service) CoalescedEdges() uint32 { return atomic.LoadUint32(&s.irqDrops) }

func (s *Service) watch(ctx context.Context, b types.Button, p hw.IRQPin, wake <-chan struct{}) {
	defer func() { _ = p.ClearIRQ() }()
	done := ctx.Done()
	for {
		select {
		case <-done:
			return
		case <-wake:
		}
		s.press(done, b, p)
	}
}

func (s *Service) emit(ev types.ButtonEvent) {
	if !s.out.TrySend(ev) {
		log.Debug("event dropped", "event", ev)
	}
}

// press runs one press cycle. Bounces and shutdown emit nothing.
func (s *Service) press(done <-chan struct{}, b types.Button, p hw.IRQPin) {
	if !timex.Sleep(done, s.cfg.Debounce) {
		return
	}
	if p.Get() {
		return
	}
	t0 := time.Now()
	for !p.Get() {
		if time.Since(t0) >= s.cfg.Long[b] {
			s.emit(b.Long())
			// Swallow the release.
			for !p.Get() {
				if !timex.Sleep(done, s.cfg.Poll) {
					return
				}
			}
			return
		}
		if !timex.Sleep(done, s.cfg.Poll) {
			return
		}
	}
	s.emit(b.Short())
}
