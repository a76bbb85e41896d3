package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fracx/domain/asset"
	"fracx/domain/errs"
	"fracx/domain/event"
	"fracx/domain/orderbook"
	"fracx/infra/sequence"
	"fracx/infra/store"
	"fracx/service"
	"fracx/snapshot"
)

// fakeReader serves queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	fetchErr  error
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if f.fetchErr != nil {
		err := f.fetchErr
		f.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(f.queue) > 0 {
		m := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func (f *fakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

func newService(t *testing.T) (*service.OrderService, *store.OrderLedger) {
	log := zaptest.NewLogger(t)
	assets := asset.NewRegistry(asset.DefaultCatalog())
	orders := store.NewOrderLedger(nil)
	trades := store.NewTradeLedger()
	books := snapshot.NewStore()
	bus := event.NewBus(sequence.New(0), log)
	engine := service.NewMatchingEngine(assets, orders, trades, books, log)
	return service.NewOrderService(engine, assets, orders, trades, books, bus, log), orders
}

func TestHandlePlacesOrders(t *testing.T) {
	svc, orders := newService(t)
	in := NewIntake(&fakeReader{}, svc, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, in.Handle(ctx, []byte(`{"kind":"limit","assetId":"asset_001","side":"buy","quantity":2,"price":4800,"userId":"dave"}`)))
	require.NoError(t, in.Handle(ctx, []byte(`{"kind":"market","assetId":"asset_001","side":"sell","quantity":1,"userId":"dave"}`)))

	got := orders.ListByUser("dave")
	require.Len(t, got, 2)
	kinds := map[orderbook.Kind]orderbook.Status{}
	for _, o := range got {
		kinds[o.Kind] = o.Status
	}
	assert.Equal(t, orderbook.Open, kinds[orderbook.Limit])
	assert.Equal(t, orderbook.Filled, kinds[orderbook.Market])
}

func TestHandleRejects(t *testing.T) {
	svc, orders := newService(t)
	in := NewIntake(&fakeReader{}, svc, zaptest.NewLogger(t))

	cases := map[string]string{
		"malformed":    `{"kind":`,
		"unknown kind": `{"kind":"stop","assetId":"asset_001","side":"buy","quantity":1,"userId":"u"}`,
		"bad quantity": `{"kind":"limit","assetId":"asset_001","side":"buy","quantity":0,"price":1,"userId":"u"}`,
		"bad side":     `{"kind":"market","assetId":"asset_001","side":"hold","quantity":1,"userId":"u"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			err := in.Handle(context.Background(), []byte(raw))
			require.Error(t, err)
			assert.True(t, errs.IsValidation(err), err)
		})
	}
	assert.Empty(t, orders.ListByUser("u"))
}

func TestRunCommitsEveryMessage(t *testing.T) {
	svc, orders := newService(t)
	reader := &fakeReader{queue: []kafka.Message{
		{Offset: 10, Value: []byte(`{"kind":"limit","assetId":"asset_004","side":"sell","quantity":5,"price":7600,"userId":"erin"}`)},
		{Offset: 11, Value: []byte(`not json`)},
		{Offset: 12, Value: []byte(`{"kind":"market","assetId":"asset_004","side":"buy","quantity":1,"userId":"erin"}`)},
	}}
	in := NewIntake(reader, svc, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{10, 11, 12}, reader.commits())
	assert.Len(t, orders.ListByUser("erin"), 2)
}

func TestRunReturnsFetchError(t *testing.T) {
	svc, _ := newService(t)
	boom := errors.New("broker gone")
	in := NewIntake(&fakeReader{fetchErr: boom}, svc, zaptest.NewLogger(t))

	err := in.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}
