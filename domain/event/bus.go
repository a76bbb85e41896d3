package event

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Publisher is what the engine emits through.
type Publisher interface {
	Publish(ctx context.Context, envs ...Envelope)
}

// Sink receives numbered batches from the Bus, in emission order.
type Sink interface {
	Deliver(ctx context.Context, batch []Envelope) error
}

type Sequencer interface {
	Next() uint64
}

// Bus numbers envelopes and hands each batch to every sink. A failing sink
// is logged and does not stop delivery to the others. Sinks observe
// batches in sequence order.
type Bus struct {
	mu    sync.Mutex
	seq   Sequencer
	sinks []Sink
	log   *zap.Logger
}

func NewBus(seq Sequencer, log *zap.Logger, sinks ...Sink) *Bus {
	return &Bus{seq: seq, sinks: sinks, log: log.Named("bus")}
}

func (b *Bus) Publish(ctx context.Context, envs ...Envelope) {
	if len(envs) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range envs {
		envs[i].Seq = b.seq.Next()
	}
	for _, s := range b.sinks {
		if err := s.Deliver(ctx, envs); err != nil {
			b.log.Warn("sink delivery failed",
				zap.Int("events", len(envs)),
				zap.Uint64("first_seq", envs[0].Seq),
				zap.Error(err),
			)
		}
	}
}

// Batch collects envelopes during a compute phase so they can be emitted
// together once the phase is complete.
type Batch struct {
	pending []Envelope
}

func (b *Batch) Add(envs ...Envelope) {
	b.pending = append(b.pending, envs...)
}

func (b *Batch) Len() int { return len(b.pending) }

// Flush publishes everything collected so far and empties the batch.
func (b *Batch) Flush(ctx context.Context, p Publisher) {
	if len(b.pending) == 0 {
		return
	}
	envs := b.pending
	b.pending = nil
	p.Publish(ctx, envs...)
}
