// Package outbox persists published envelopes in pebble until the
// broadcaster has forwarded them to Kafka.
//
// Records move NEW -> SENT -> ACKED and are deleted by Compact. An empty
// directory keeps the store in memory, so nothing survives a restart.
package outbox

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"fracx/domain/event"
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Record is one stored envelope. Payload is the JSON-encoded envelope.
type Record struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

const headerLen = 1 + 4 + 8

// [state:1][retries:4][lastAttempt:8][payload...]
func encodeRecord(r Record) []byte {
	buf := make([]byte, headerLen+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[headerLen:], r.Payload)
	return buf
}

func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) < headerLen {
		return Record{}, errors.New("invalid outbox record length")
	}
	payload := make([]byte, len(b)-headerLen)
	copy(payload, b[headerLen:])
	return Record{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     payload,
	}, nil
}

type Outbox struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
}

// Open opens the outbox under dir, or an in-memory store when dir is empty.
func Open(dir string) (*Outbox, error) {
	opts := &pebble.Options{}
	writeOpts := pebble.Sync
	if dir == "" {
		opts.FS = vfs.NewMem()
		dir = "outbox"
		writeOpts = pebble.NoSync
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	return &Outbox{db: db, writeOpts: writeOpts}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// Deliver implements event.Sink: the batch is written atomically as NEW
// records keyed by sequence number.
func (o *Outbox) Deliver(_ context.Context, batch []event.Envelope) error {
	b := o.db.NewBatch()
	defer b.Close()

	for _, env := range batch {
		payload, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("encode envelope %d: %w", env.Seq, err)
		}
		rec := Record{State: StateNew, Payload: payload}
		if err := b.Set(keyFor(env.Seq), encodeRecord(rec), nil); err != nil {
			return err
		}
	}
	return b.Commit(o.writeOpts)
}

func (o *Outbox) Get(seq uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()
	return decodeRecord(seq, val)
}

// UpdateState rewrites the record header, keeping its payload.
func (o *Outbox) UpdateState(seq uint64, state State, retries uint32) error {
	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	rec.State = state
	rec.Retries = retries
	rec.LastAttempt = time.Now().UnixNano()
	return o.db.Set(keyFor(seq), encodeRecord(rec), o.writeOpts)
}

func (o *Outbox) MarkSent(seq uint64, retries uint32) error {
	return o.UpdateState(seq, StateSent, retries)
}

func (o *Outbox) MarkAcked(seq uint64) error {
	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	return o.UpdateState(seq, StateAcked, rec.Retries)
}

func (o *Outbox) Delete(seq uint64) error {
	return o.db.Delete(keyFor(seq), o.writeOpts)
}

// ScanByState calls fn for every record in state, in sequence order.
func (o *Outbox) ScanByState(state State, fn func(rec Record) error) error {
	return o.scan(func(rec Record) error {
		if rec.State != state {
			return nil
		}
		return fn(rec)
	})
}

// Compact deletes every ACKED record and reports how many were removed.
func (o *Outbox) Compact() (int, error) {
	b := o.db.NewBatch()
	defer b.Close()

	n := 0
	err := o.ScanByState(StateAcked, func(rec Record) error {
		n++
		return b.Delete(keyFor(rec.Seq), nil)
	})
	if err != nil || n == 0 {
		return 0, err
	}
	return n, b.Commit(o.writeOpts)
}

// LastSeq returns the highest stored sequence number, or 0 when empty.
// The event sequencer resumes after it on restart.
func (o *Outbox) LastSeq() (uint64, error) {
	iter, err := o.newIter()
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

func (o *Outbox) scan(fn func(rec Record) error) error {
	iter, err := o.newIter()
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (o *Outbox) newIter() (*pebble.Iterator, error) {
	return o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
}

const keyPrefix = "event/"

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf(keyPrefix+"%020d", seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte(keyPrefix))), "%d", &seq)
	return seq, err
}
