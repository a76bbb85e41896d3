package broadcaster

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"fracx/infra/metrics"
	"fracx/infra/outbox"
)

// Broadcaster forwards outbox records to Kafka in sequence order. Delivery
// is at-least-once: a record left SENT by a crash is sent again.
type Broadcaster struct {
	outbox   *outbox.Outbox
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	log      *zap.Logger
}

// NewProducer builds a sync producer that waits for all in-sync replicas.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	return sarama.NewSyncProducer(brokers, cfg)
}

func New(
	ob *outbox.Outbox,
	producer sarama.SyncProducer,
	topic string,
	interval time.Duration,
	log *zap.Logger,
) *Broadcaster {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Broadcaster{
		outbox:   ob,
		producer: producer,
		topic:    topic,
		interval: interval,
		log:      log.Named("broadcaster"),
	}
}

// Run drains the outbox every interval until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	b.log.Info("started", zap.String("topic", b.topic), zap.Duration("interval", b.interval))

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("stopped")
			return
		case <-ticker.C:
			if _, err := b.DrainOnce(ctx); err != nil {
				b.log.Warn("drain stopped early, will retry", zap.Error(err))
			}
		}
	}
}

// DrainOnce forwards every pending record and compacts the acked ones.
// It stops at the first send failure so ordering is kept.
func (b *Broadcaster) DrainOnce(ctx context.Context) (int, error) {
	var pending []outbox.Record
	collect := func(rec outbox.Record) error {
		pending = append(pending, rec)
		return nil
	}
	// SENT first: those are older than anything still NEW.
	if err := b.outbox.ScanByState(outbox.StateSent, collect); err != nil {
		return 0, err
	}
	if err := b.outbox.ScanByState(outbox.StateNew, collect); err != nil {
		return 0, err
	}

	sent := 0
	for _, rec := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := b.outbox.MarkSent(rec.Seq, rec.Retries+1); err != nil {
			return sent, err
		}

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.StringEncoder(partitionKey(rec.Payload)),
			Value: sarama.ByteEncoder(rec.Payload),
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			metrics.OutboxForwarded.WithLabelValues("error").Inc()
			return sent, err
		}
		metrics.OutboxForwarded.WithLabelValues("ok").Inc()

		if err := b.outbox.MarkAcked(rec.Seq); err != nil {
			return sent, err
		}
		sent++
	}

	if _, err := b.outbox.Compact(); err != nil {
		return sent, err
	}
	return sent, nil
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}

// partitionKey keeps every event of one asset on one partition.
func partitionKey(payload []byte) string {
	var head struct {
		AssetID string `json:"assetId"`
	}
	_ = json.Unmarshal(payload, &head)
	return head.AssetID
}
