package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"

	"github.com/annel0/voxel-world/internal/logging"
)

// JetStreamConfig configures the NATS JetStream bus.
type JetStreamConfig struct {
	URL       string        `yaml:"url"`
	Stream    string        `yaml:"stream"`
	Retention time.Duration `yaml:"retention"`
	// Durable names the consumer group. Nodes sharing a name split the
	// stream between them; empty gives every subscription its own consumer.
	Durable string `yaml:"durable"`
}

// JetStreamBus implements EventBus on top of NATS JetStream.
type JetStreamBus struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	stream    string
	durable   string
	logger    *logging.Logger
	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64
}

const subjectPrefix = "voxel.events."

// NewJetStreamBus connects to NATS and makes sure the stream exists.
func NewJetStreamBus(cfg JetStreamConfig) (*JetStreamBus, error) {
	if cfg.Stream == "" {
		cfg.Stream = "VOXEL_EVENTS"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}

	nc, err := nats.Connect(cfg.URL, nats.Name("voxel-world"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if _, err = js.StreamInfo(cfg.Stream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      cfg.Stream,
			Subjects:  []string{subjectPrefix + "*"},
			Retention: nats.LimitsPolicy,
			MaxAge:    cfg.Retention,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("add stream %s: %w", cfg.Stream, err)
		}
	}

	return &JetStreamBus{
		nc:      nc,
		js:      js,
		stream:  cfg.Stream,
		durable: cfg.Durable,
		logger:  logging.GetSyncLogger(),
	}, nil
}

// Publish serialises the envelope to JSON on subject voxel.events.<type>.
func (jb *JetStreamBus) Publish(ctx context.Context, ev *Envelope) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err = jb.js.Publish(subjectPrefix+ev.EventType, data, nats.Context(ctx)); err != nil {
		jb.dropped.Add(1)
		return fmt.Errorf("publish %s: %w", ev.EventType, err)
	}
	jb.published.Add(1)
	return nil
}

// Subscribe creates a durable consumer. A single-type filter narrows the
// subject; anything wider is filtered locally.
func (jb *JetStreamBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	subj := subjectPrefix + "*"
	if len(f.Types) == 1 {
		subj = subjectPrefix + f.Types[0]
	}

	durable := jb.durable
	if durable == "" {
		durable = "sub_" + uuid.NewString()[:8]
	}

	natSub, err := jb.js.Subscribe(subj, func(msg *nats.Msg) {
		var ev Envelope
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			jb.dropped.Add(1)
			jb.logger.Warn("discarding undecodable envelope on %s: %v", msg.Subject, err)
			_ = msg.Term()
			return
		}
		if matchFilter(&ev, f) {
			h(ctx, &ev)
			jb.consumed.Add(1)
		}
		_ = msg.Ack()
	}, nats.ManualAck(), nats.Durable(durable), nats.AckWait(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subj, err)
	}

	sub := &jetSub{s: natSub}
	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()
	return sub, nil
}

type jetSub struct {
	s    *nats.Subscription
	once atomic.Bool
}

func (j *jetSub) Unsubscribe() {
	if j.once.CompareAndSwap(false, true) {
		_ = j.s.Unsubscribe()
	}
}

// Metrics returns current counters. JetStream keeps its own queue, so
// InFlight is always zero.
func (jb *JetStreamBus) Metrics() Stats {
	return Stats{
		Published: jb.published.Load(),
		Consumed:  jb.consumed.Load(),
		Dropped:   jb.dropped.Load(),
	}
}

// Close drains the connection.
func (jb *JetStreamBus) Close() error {
	return jb.nc.Drain()
}
