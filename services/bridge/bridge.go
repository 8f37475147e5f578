// Package bridge forwards retained telemetry from the local bus to an
// external link. Traffic is outbound only: nothing received over a link is
// routed back onto the bus.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"hvsupply/bus"
	"hvsupply/x/logx"
)

var log = logx.New("bridge")

var TopicState = bus.T("bridge", "state")

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

type Config struct {
	// Transport names a registered transport ("stream" is built in).
	Transport string `koanf:"transport" yaml:"transport"`
	// URL is handed to the transport unchanged.
	URL string `koanf:"url" yaml:"url"`
	// Exchange or prefix used by transports that support one.
	Exchange string `koanf:"exchange" yaml:"exchange"`

	RetryMin time.Duration `koanf:"retry_min" yaml:"retry_min"`
	RetryMax time.Duration `koanf:"retry_max" yaml:"retry_max"`
}

// State is published retained on bridge/state.
type State struct {
	Level  string // "idle", "up", "degraded", "error"
	Status string
	Err    string
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn   *bus.Connection
	cfg    Config
	topics []bus.Topic

	mu   sync.Mutex
	sent uint32
}

func New(conn *bus.Connection, cfg Config, topics []bus.Topic) *Service {
	if cfg.RetryMin <= 0 {
		cfg.RetryMin = 250 * time.Millisecond
	}
	if cfg.RetryMax < cfg.RetryMin {
		cfg.RetryMax = 5 * time.Second
	}
	return &Service{conn: conn, cfg: cfg, topics: topics}
}

// Sent counts envelopes handed to a link.
func (s *Service) Sent() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Run blocks until ctx is cancelled, redialling the link whenever it fails.
func (s *Service) Run(ctx context.Context) error {
	tr, err := newTransport(s.cfg)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return err
	}

	in := make(chan *bus.Message, 16)
	subs := make([]*bus.Subscription, 0, len(s.topics))
	for _, t := range s.topics {
		subs = append(subs, s.conn.Subscribe(t))
	}
	defer func() {
		for _, sub := range subs {
			s.conn.Unsubscribe(sub)
		}
	}()
	for _, sub := range subs {
		go fanIn(ctx, sub, in)
	}

	s.publishState("idle", "dialling", nil)
	for {
		var link Link
		op := func() error {
			l, err := tr.Dial(ctx)
			if err != nil {
				return err
			}
			link = l
			return nil
		}
		notify := func(err error, d time.Duration) {
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, d))
		}
		if err := backoff.RetryNotify(op, backoff.WithContext(s.policy(), ctx), notify); err != nil {
			return ctx.Err()
		}

		s.publishState("up", "link_established", nil)
		log.Info("link up", "via", tr.String())
		err := s.forward(ctx, link, in)
		_ = link.Close()
		if ctx.Err() != nil {
			s.publishState("idle", "stopped", nil)
			return ctx.Err()
		}
		log.Warn("link lost", "err", err)
		s.publishState("degraded", "link_lost_retrying", err)
	}
}

func (s *Service) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryMin
	b.MaxInterval = s.cfg.RetryMax
	b.MaxElapsedTime = 0
	return b
}

// forward owns the active link lifetime.
func (s *Service) forward(ctx context.Context, link Link, in <-chan *bus.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-in:
			body, err := Encode(msg)
			if err != nil {
				log.Warn("encode failed", "topic", msg.Topic, "err", err)
				continue
			}
			if err := link.Send(msg.Topic.String(), body); err != nil {
				return err
			}
			s.mu.Lock()
			s.sent++
			s.mu.Unlock()
		}
	}
}

func fanIn(ctx context.Context, sub *bus.Subscription, out chan<- *bus.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Envelope is the wire form of one telemetry message.
type Envelope struct {
	Topic    string          `json:"topic"`
	TsMs     int64           `json:"ts_ms"`
	Retained bool            `json:"retained,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

func Encode(msg *bus.Message) ([]byte, error) {
	p, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Topic:    msg.Topic.String(),
		TsMs:     time.Now().UnixMilli(),
		Retained: msg.Retained,
		Payload:  p,
	})
}

func (s *Service) publishState(level, status string, err error) {
	st := State{Level: level, Status: status}
	if err != nil {
		st.Err = err.Error()
	}
	s.conn.PublishRetained(TopicState, st)
}

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Link carries encoded envelopes to the far side.
type Link interface {
	Send(topic string, body []byte) error
	Close() error
}

// Transport is a pluggable link dialler.
type Transport interface {
	Dial(ctx context.Context) (Link, error)
	String() string
}

type transportFactory func(Config) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]transportFactory{}

	errNoDial = errors.New("bridge: StreamDial not set")
)

// RegisterTransport allows external packages to add transports.
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg Config) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Transport]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	switch cfg.Transport {
	case "stream":
		return streamTransport{url: cfg.URL}, nil
	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Transport)
	}
}

// StreamDial is injected by the host program. It opens the byte stream the
// "stream" transport writes frames to.
var StreamDial func(ctx context.Context, url string) (io.WriteCloser, error)

type streamTransport struct{ url string }

func (t streamTransport) Dial(ctx context.Context) (Link, error) {
	if StreamDial == nil {
		return nil, errNoDial
	}
	w, err := StreamDial(ctx, t.url)
	if err != nil {
		return nil, err
	}
	return &streamLink{fw: newFramedWriter(w), c: w}, nil
}

func (t streamTransport) String() string { return "stream" }

type streamLink struct {
	fw *framedWriter
	c  io.Closer
}

func (l *streamLink) Send(_ string, body []byte) error {
	return l.fw.WriteFrame(Frame{Type: framePub, Payload: body})
}

func (l *streamLink) Close() error {
	_ = l.fw.WriteFrame(Frame{Type: frameClose})
	return l.c.Close()
}

// -----------------------------------------------------------------------------
// Framing
// -----------------------------------------------------------------------------

const (
	framePub   byte = 0x10
	frameClose byte = 0x7f
)

// Frame is a length-prefixed frame: type, 16-bit big-endian length, body.
type Frame struct {
	Type    byte
	Payload []byte
}

type framedWriter struct{ w io.Writer }

func newFramedWriter(w io.Writer) *framedWriter { return &framedWriter{w: w} }

func (fw *framedWriter) WriteFrame(f Frame) error {
	if len(f.Payload) > 0xFFFF {
		return fmt.Errorf("frame too large: %d", len(f.Payload))
	}
	hdr := []byte{f.Type, byte(len(f.Payload) >> 8), byte(len(f.Payload) & 0xFF)}
	if _, err := fw.w.Write(hdr); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		_, err := fw.w.Write(f.Payload)
		return err
	}
	return nil
}
