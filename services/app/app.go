// Package app boots the board and wires the tasks together. Each hardware
// handle is given to exactly one task; everything else talks through the
// command queues.
package app

import (
	"context"
	"errors"
	"time"

	"hvsupply/bus"
	"hvsupply/drivers/mcp23017"
	"hvsupply/drivers/mcp3424"
	"hvsupply/errcode"
	"hvsupply/hw"
	"hvsupply/platform"
	"hvsupply/services/boardid"
	"hvsupply/services/buttons"
	"hvsupply/services/config"
	"hvsupply/services/dac"
	"hvsupply/services/dispatch"
	"hvsupply/services/freqgen"
	"hvsupply/services/heartbeat"
	"hvsupply/services/hv"
	"hvsupply/services/safety"
	"hvsupply/types"
	"hvsupply/x/logx"
	"hvsupply/x/timex"
)

var log = logx.New("main")

// resetPulse is the width of each phase of the expander reset.
const resetPulse = time.Millisecond

// System is a booted board with its configuration. Config may be adjusted
// between Boot and Start.
type System struct {
	Board     *platform.Board
	BoardID   uint8
	Config    config.Config
	Telemetry *bus.Bus

	expander *mcp23017.Device
	adc      *mcp3424.Device

	Dispatcher *dispatch.Dispatcher
	Buttons    *buttons.Service
}

// Boot brings the hardware to a safe state and loads the board profile:
// KILL_N released, expander reset and cleared, DAC at code 0. Hardware
// failures are logged; only a missing board is an error.
func Boot(board *platform.Board) (*System, error) {
	if board == nil {
		return nil, errors.New("app: no board")
	}
	if board.Console != nil {
		logx.SetOutput(board.Console)
	}
	log.Info("boot")

	if err := board.KillN.ConfigureOutput(true); err != nil {
		log.Error("kill_n", "err", err)
	}

	if err := board.ExpanderReset.ConfigureOutput(false); err != nil {
		log.Error("expander reset", "err", err)
	}
	time.Sleep(resetPulse)
	board.ExpanderReset.Set(true)
	time.Sleep(resetPulse)

	exp := mcp23017.New(board.ExpanderBus)
	if err := exp.Init(); err != nil {
		log.Error("expander init", "err", errcode.Wrap(errcode.BusFault, "expander.init", err))
	}

	if err := board.DAC.SetCode(0); err != nil {
		log.Error("dac zero", "err", errcode.Wrap(errcode.BusFault, "dac.set", err))
	}

	if err := board.Capture.ConfigureInput(hw.PullNone); err != nil {
		log.Warn("capture pin", "err", err)
	}

	id := boardid.Read(board.ID0, board.ID1)
	cfg, err := config.Load(id)
	switch errcode.Of(err) {
	case errcode.OK:
	case errcode.UnknownBoard:
		log.Warn("no profile for board, using defaults", "id", id)
	default:
		log.Error("profile rejected, using defaults", "id", id, "err", err)
		cfg = config.Default()
	}
	logx.SetLevel(logx.ParseLevel(cfg.LogLevel))
	log.Info("board", "id", id, "profile", cfg.Board)

	return &System{
		Board:     board,
		BoardID:   id,
		Config:    cfg,
		Telemetry: bus.NewBus(8),
		expander:  exp,
		adc:       mcp3424.New(board.ADCBus),
	}, nil
}

// Start creates the queues and launches every task except the dispatcher.
func (s *System) Start(ctx context.Context) error {
	c := s.Config
	n := c.QueueCap

	buttonQ := bus.NewQueue[types.ButtonEvent]("buttons", n)
	dacQ := bus.NewQueue[types.DacCommand]("dac", n)
	freqQ := bus.NewQueue[types.FrequencyCommand]("freq", n)
	hvQ := bus.NewQueue[types.HvCommand]("hv", n)

	config.Publish(s.Telemetry.NewConnection("config"), c)

	s.Buttons = buttons.New(s.Board.Buttons, buttons.ConfigFrom(c.Buttons), buttonQ.Sender())
	if err := s.Buttons.Start(ctx); err != nil {
		return err
	}

	fg := freqgen.New(s.Board.Drive, freqgen.Config{
		Idle:       timex.Ms(c.Freq.IdleMS),
		CapturePin: s.Board.Capture.Number(),
	}, freqQ.Receiver(), hvQ.Sender(), s.Telemetry.NewConnection("freq"))
	if err := fg.Start(ctx); err != nil {
		return err
	}

	dac.New(s.Board.DAC, dac.ConfigFrom(c.Dac), dacQ.Receiver(), s.Telemetry.NewConnection("dac")).Start(ctx)

	s.adc.Configure(mcp3424.Config{
		Poll:     timex.Ms(c.Safety.ADCPollMS),
		Attempts: c.Safety.ADCAttempts,
	})
	safety.New(s.adc, safety.ConfigFrom(c.Safety), dacQ.Sender(), hvQ.Sender(), s.Telemetry.NewConnection("safety")).Start(ctx)

	period := timex.Ms(c.Safety.PeriodMS)
	hv.New(s.expander, hv.ConfigFrom(c.HV, period), hvQ.Receiver(), dacQ.Sender(), freqQ.Sender(), s.Telemetry.NewConnection("hv")).Start(ctx)

	hb := heartbeat.New(s.Telemetry.NewConnection("heartbeat"), timex.Ms(c.Heartbeat.IntervalMS))
	if err := hb.CountEdges(s.Buttons.CoalescedEdges).Start(ctx); err != nil {
		return err
	}

	s.Dispatcher = dispatch.New(buttonQ.Receiver(), dispatch.Targets{
		Dac:  dacQ.Sender(),
		Freq: freqQ.Sender(),
		HV:   hvQ.Sender(),
	})
	log.Info("tasks started", "queue_capacity", n)
	return nil
}

// Run starts the tasks and dispatches button events on the calling
// goroutine until ctx ends.
func (s *System) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.Dispatcher.Run(ctx)
}

// Run boots board and runs until ctx ends.
func Run(ctx context.Context, board *platform.Board) error {
	sys, err := Boot(board)
	if err != nil {
		return err
	}
	return sys.Run(ctx)
}
