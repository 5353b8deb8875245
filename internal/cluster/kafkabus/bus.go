// Package kafkabus carries cluster events over a Kafka topic.
package kafkabus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/tile-seeder/internal/cluster"
)

var _ cluster.Bus = (*Bus)(nil)

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
}

type Bus struct {
	log      *slog.Logger
	cfg      Config
	producer sarama.SyncProducer
	ms       *metricSet

	hmu      sync.RWMutex
	handlers []cluster.Handler

	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// New builds a bus around an existing producer. Dial creates the producer from cfg.
func New(cfg Config, producer sarama.SyncProducer, opts Options) *Bus {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bus{
		log:      opts.Logger,
		cfg:      cfg.withDefaults(),
		producer: producer,
		ms:       newMetricSet(opts.Register),
		assign:   map[int32]struct{}{},
	}
}

func Dial(cfg Config, opts Options) (*Bus, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_5_0_0
	sc.ClientID = "tileseed-" + cfg.InstanceID
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Retry.Max = 5
	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("sync producer: %w", err)
	}
	return New(cfg, p, opts), nil
}

func (b *Bus) Subscribe(h cluster.Handler) {
	b.hmu.Lock()
	defer b.hmu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish sends e keyed by its source, so one instance's events stay ordered.
func (b *Bus) Publish(ctx context.Context, e cluster.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := cluster.Encode(e)
	if err != nil {
		return err
	}
	_, _, err = b.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     b.cfg.Topic,
		Key:       sarama.StringEncoder(e.Source),
		Value:     sarama.ByteEncoder(v),
		Timestamp: e.TS,
	})
	if err != nil {
		b.ms.msgs.WithLabelValues("out", "error").Inc()
		return fmt.Errorf("kafka send %s: %w", e.Type, err)
	}
	b.ms.msgs.WithLabelValues("out", "ok").Inc()
	return nil
}

// Start joins this instance's consumer group and dispatches events until Stop.
func (b *Bus) Start(ctx context.Context) error {
	if err := b.cfg.validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = b.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = b.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = b.cfg.RebalanceTimeout
	if b.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(b.cfg.Brokers, b.cfg.GroupID(), cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("consumer group: %w", err)
	}

	h := &groupHandler{
		setup:   b.onAssign,
		cleanup: func(sarama.ConsumerGroupSession) { b.onAssign(nil) },
		process: b.handleMessage,
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				b.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{b.cfg.Topic}, h); err != nil {
				b.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for err := range group.Errors() {
			b.log.Error("kafka group error", "err", err)
		}
	}()

	b.log.Info("kafka cluster bus started",
		"topic", b.cfg.Topic, "group", b.cfg.GroupID(), "brokers", b.cfg.Brokers)
	return nil
}

// Stop ends consumption and closes the producer.
func (b *Bus) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	if b.producer != nil {
		if err := b.producer.Close(); err != nil {
			b.log.Error("kafka producer close", "err", err)
		}
	}
	b.log.Info("kafka cluster bus stopped")
}

func (b *Bus) onAssign(sess sarama.ConsumerGroupSession) {
	b.assignMu.Lock()
	defer b.assignMu.Unlock()
	b.assign = map[int32]struct{}{}
	if sess == nil {
		b.assigned.Store(false)
		return
	}
	for _, parts := range sess.Claims() {
		for _, p := range parts {
			b.assign[p] = struct{}{}
		}
	}
	b.assigned.Store(true)
}

// Readiness reports whether partitions are assigned, and which.
func (b *Bus) Readiness() (ready bool, partitions []int32) {
	if !b.assigned.Load() {
		return false, nil
	}
	b.assignMu.RLock()
	defer b.assignMu.RUnlock()
	for p := range b.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

// handleMessage dispatches one message. Undecodable messages are counted and skipped so
// they never stall the partition.
func (b *Bus) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	defer func() { b.ms.proc.Observe(time.Since(start).Seconds()) }()

	if !msg.Timestamp.IsZero() {
		b.ms.lagGauge.Set(time.Since(msg.Timestamp).Seconds())
	}
	e, err := cluster.Decode(msg.Value)
	if err != nil {
		b.ms.msgs.WithLabelValues("in", "error").Inc()
		b.log.Warn("dropping cluster message",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	b.ms.msgs.WithLabelValues("in", "ok").Inc()

	b.hmu.RLock()
	hs := b.handlers
	b.hmu.RUnlock()
	for _, h := range hs {
		h(ctx, e)
	}
	return nil
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return fmt.Errorf("process failed (topic=%s, part=%d, off=%d): %w",
				msg.Topic, msg.Partition, msg.Offset, err)
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
