package invalidation

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
)

// Publisher emits invalidation events, keyed by layer name so all events for
// one layer land on the same partition and stay ordered.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	source   string
	version  atomic.Uint64
}

func NewPublisher(brokers []string, topic, source string) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	pub := &Publisher{producer: p, topic: topic, source: source}
	pub.version.Store(uint64(time.Now().UnixNano()))
	return pub, nil
}

// InvalidateLayer publishes one event for the layer. The version is derived
// from a process-local counter seeded with wall time, which is monotonic
// enough for the consumer-side dedupe.
func (p *Publisher) InvalidateLayer(layer string) error {
	ev := Event{
		Version: p.version.Add(1),
		Op:      OpInvalidate,
		Layer:   layer,
		TS:      time.Now().UTC(),
		Source:  p.source,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(layer),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("publish invalidation for %q: %w", layer, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
