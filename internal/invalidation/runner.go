package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/tylerbrawl/rocky/internal/observability"
)

const DriverKafka = "kafka"

type Config struct {
	Enabled          bool
	Driver           string
	Brokers          []string
	Topic            string
	GroupID          string
	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool
}

func ConfigFromEnv() Config {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = "localhost:9092"
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "tile-invalidation"
	}
	group := os.Getenv("KAFKA_GROUP_ID")
	if group == "" {
		group = "tile-invalidator"
	}
	return Config{
		Enabled:          strings.EqualFold(os.Getenv("INVALIDATION_ENABLED"), "true"),
		Driver:           envOr("INVALIDATION_DRIVER", "none"),
		Brokers:          splitCSV(brokers),
		Topic:            topic,
		GroupID:          group,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		InitialOldest:    true,
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RemoteCache is the shared tile cache side of an invalidation: delete every
// cached tile of a layer.
type RemoteCache interface {
	InvalidateLayer(ctx context.Context, layer string) (int, error)
}

// LocalLayers is the in-process side: drop the layer's local caches and bump
// its revision. Unknown layers report false and are not an error, since
// events may concern layers this node does not serve.
type LocalLayers interface {
	InvalidateLayer(name string) bool
}

// Runner consumes invalidation events from a Kafka consumer group and applies
// them to the remote cache and the local layer set.
type Runner struct {
	log    *slog.Logger
	cfg    Config
	remote RemoteCache
	local  LocalLayers
	ver    *versionDedupe

	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func NewRunner(cfg Config, remote RemoteCache, local LocalLayers, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		log:    log,
		cfg:    cfg,
		remote: remote,
		local:  local,
		ver:    newVersionDedupe(8192),
		assign: map[int32]struct{}{},
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if r.cfg.Driver != DriverKafka || !r.cfg.Enabled {
		r.log.Info("invalidation runner disabled", "driver", r.cfg.Driver, "enabled", r.cfg.Enabled)
		return nil
	}
	if r.remote == nil && r.local == nil {
		return errors.New("invalidation runner: nothing to invalidate")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = r.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = r.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = r.cfg.RebalanceTimeout
	if r.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("consumer group: %w", err)
	}

	h := &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			claims := sess.Claims()
			r.assignMu.Lock()
			r.assigned.Store(true)
			r.assign = map[int32]struct{}{}
			for _, parts := range claims {
				for _, p := range parts {
					r.assign[p] = struct{}{}
				}
			}
			r.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(false)
			r.assign = map[int32]struct{}{}
			r.assignMu.Unlock()
		},
		process: r.handleMessage,
		onError: func(err error) {
			r.log.Warn("invalidation event dropped", "err", err)
		},
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error("kafka consumer group close", "err", err)
			}
		}()
		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.Error("kafka consume error", "err", err)
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

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("invalidation runner started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("invalidation runner stopped")
}

func (r *Runner) Readiness() (ready bool, partitions []int32) {
	if !r.assigned.Load() {
		return false, nil
	}
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	for p := range r.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if !msg.Timestamp.IsZero() {
		observability.SetInvalidationLagSeconds(time.Since(msg.Timestamp).Seconds())
	}

	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.ObserveInvalidation(err, 0)
		return fmt.Errorf("decode: %w", err)
	}
	if err := ev.Validate(); err != nil {
		observability.ObserveInvalidation(err, 0)
		return fmt.Errorf("validate: %w", err)
	}
	if !r.ver.shouldApply(ev.Layer, ev.Version) {
		observability.IncInvalidationSkipped()
		return nil
	}

	deleted := 0
	if r.remote != nil {
		n, err := r.remote.InvalidateLayer(ctx, ev.Layer)
		if err != nil {
			observability.ObserveInvalidation(err, 0)
			return fmt.Errorf("remote invalidate %q: %w", ev.Layer, err)
		}
		deleted = n
	}
	known := false
	if r.local != nil {
		known = r.local.InvalidateLayer(ev.Layer)
	}
	observability.ObserveInvalidation(nil, deleted)
	r.log.Info("layer invalidated",
		"layer", ev.Layer, "version", ev.Version, "keys_deleted", deleted, "local", known)
	return nil
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
	onError func(error)
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
		// a bad or failed event is dropped, not retried forever: the message
		// is marked either way so one poison record cannot wedge the claim
		if err := h.process(ctx, msg); err != nil && h.onError != nil {
			h.onError(err)
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
