// Package heartbeat logs a periodic status line assembled from the retained
// telemetry of the other tasks.
package heartbeat

import (
	"context"
	"time"

	"hvsupply/bus"
	"hvsupply/services/config"
	"hvsupply/types"
	"hvsupply/x/logx"
	"hvsupply/x/timex"
)

var log = logx.New("heartbeat")

type Service struct {
	conn     *bus.Connection
	interval time.Duration

	hv    types.HvStatus
	freq  types.FreqStatus
	dac   types.DacStatus
	sense types.SenseReading
	fault types.SenseFault

	edges func() uint32
}

func New(conn *bus.Connection, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Service{conn: conn, interval: interval}
}

// CountEdges adds the coalesced button edge count to each beat.
func (s *Service) CountEdges(f func() uint32) *Service {
	s.edges = f
	return s
}

func (s *Service) serviceLoop(ctx context.Context) {
	cfgSub := s.conn.Subscribe(config.TopicHeartbeat)
	hvSub := s.conn.Subscribe(types.TopicHvState)
	freqSub := s.conn.Subscribe(types.TopicFreqState)
	dacSub := s.conn.Subscribe(types.TopicDacSetpoint)
	senseSub := s.conn.Subscribe(types.TopicSafetyReading)
	faultSub := s.conn.Subscribe(types.TopicSafetyFault)
	defer s.conn.Disconnect()

	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping")
			return
		case t := <-tick.C:
			s.beat(t)
		case msg := <-cfgSub.Channel():
			hb, ok := msg.Payload.(config.HeartbeatConfig)
			if !ok || hb.IntervalMS <= 0 {
				continue
			}
			if iv := timex.Ms(hb.IntervalMS); iv != s.interval {
				s.interval = iv
				tick.Reset(iv)
				log.Info("interval set", "every", iv)
			}
		case msg := <-hvSub.Channel():
			s.hv, _ = msg.Payload.(types.HvStatus)
		case msg := <-freqSub.Channel():
			s.freq, _ = msg.Payload.(types.FreqStatus)
		case msg := <-dacSub.Channel():
			s.dac, _ = msg.Payload.(types.DacStatus)
		case msg := <-senseSub.Channel():
			s.sense, _ = msg.Payload.(types.SenseReading)
		case msg := <-faultSub.Channel():
			s.fault, _ = msg.Payload.(types.SenseFault)
		}
	}
}

func (s *Service) beat(t time.Time) {
	kv := []any{
		"t", t.Format("15:04:05"),
		"hv", s.hv.State,
		"pol", s.hv.Polarity,
		"hz", s.freq.Hz,
		"volts", s.dac.Volts,
		"ch1", s.sense.Ch1,
		"ch2", s.sense.Ch2,
	}
	if s.edges != nil {
		kv = append(kv, "edges", s.edges())
	}
	log.Info("heartbeat", kv...)
	if s.fault.Err != "" {
		log.Warn("last sense fault", "ch", s.fault.Channel, "err", s.fault.Err)
		s.fault = types.SenseFault{}
	}
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context) error {
	go s.serviceLoop(ctx)
	return nil
}
