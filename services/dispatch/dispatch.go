// Package dispatch turns button events into commands for the owning tasks.
package dispatch

import (
	"context"
	"sync/atomic"

	"hvsupply/bus"
	"hvsupply/types"
	"hvsupply/x/logx"
)

var log = logx.New("dispatch")

// Targets holds the send ends the dispatcher forwards to.
type Targets struct {
	Dac  bus.Sender[types.DacCommand]
	Freq bus.Sender[types.FrequencyCommand]
	HV   bus.Sender[types.HvCommand]
}

type Dispatcher struct {
	in  bus.Receiver[types.ButtonEvent]
	out Targets

	dropped uint32
}

func New(in bus.Receiver[types.ButtonEvent], out Targets) *Dispatcher {
	return &Dispatcher{in: in, out: out}
}

// Run forwards events until ctx ends. It blocks the caller.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		ev, err := d.in.Recv(ctx)
		if err != nil {
			log.Info("stopping")
			return err
		}
		d.Dispatch(ev)
	}
}

// Dispatch forwards one event. It reports false when the event was ignored
// or the target queue was full.
func (d *Dispatcher) Dispatch(ev types.ButtonEvent) bool {
	log.Debug("button", "ev", ev)
	var ok bool
	switch ev {
	case types.PrimaryShort:
		ok = d.out.Dac.TrySend(types.DacCommand{Kind: types.DacStepUp})
	case types.PrimaryLong:
		ok = d.out.Dac.TrySend(types.DacCommand{Kind: types.DacStartRamp})
	case types.PolarityShort:
		ok = d.out.HV.TrySend(types.RequestPolarityToggle)
	case types.FrequencyShort:
		ok = d.out.Freq.TrySend(types.FrequencyCommand{Kind: types.FreqNext})
	case types.FrequencyLong:
		ok = d.out.Freq.TrySend(types.FrequencyCommand{Kind: types.FreqEnterCapture})
	case types.PolarityLong:
		log.Info("no action bound", "ev", ev)
		return false
	default:
		log.Warn("unknown event", "ev", ev)
		return false
	}
	if !ok {
		atomic.AddUint32(&d.dropped, 1)
		log.Warn("command dropped", "ev", ev)
	}
	return ok
}

// Dropped counts events lost to full queues.
func (d *Dispatcher) Dropped() uint32 { return atomic.LoadUint32(&d.dropped) }
