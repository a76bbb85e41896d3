// Package kafka feeds order commands published on a Kafka topic into the
// order service. Every message is committed once handled, rejected or not:
// a command that failed validation is never redelivered.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fracx/domain/errs"
	"fracx/domain/orderbook"
	"fracx/service"
)

// Command kinds.
const (
	KindLimit  = "limit"
	KindMarket = "market"
)

// Command is the JSON body of one intake message.
type Command struct {
	Kind     string          `json:"kind"`
	AssetID  string          `json:"assetId"`
	Side     string          `json:"side"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	UserID   string          `json:"userId"`
}

// Placer is the part of service.OrderService the intake drives.
type Placer interface {
	PlaceLimitOrder(ctx context.Context, req service.LimitOrderRequest) (orderbook.Order, error)
	PlaceMarketOrder(ctx context.Context, req service.MarketOrderRequest) (service.MarketResult, error)
}

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Intake struct {
	reader MessageReader
	svc    Placer
	log    *zap.Logger
}

// NewReader builds a consumer-group reader for the order topic.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  500 * time.Millisecond,
	})
}

func NewIntake(reader MessageReader, svc Placer, log *zap.Logger) *Intake {
	return &Intake{reader: reader, svc: svc, log: log.Named("intake")}
}

// Run consumes until ctx is done or the reader fails.
func (in *Intake) Run(ctx context.Context) error {
	for {
		msg, err := in.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch order command: %w", err)
		}

		if err := in.Handle(ctx, msg.Value); err != nil {
			level := in.log.Warn
			if !errs.IsValidation(err) {
				level = in.log.Error
			}
			level("order command rejected",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}

		if err := in.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

// Handle decodes one command and places the order it describes.
func (in *Intake) Handle(ctx context.Context, raw []byte) error {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return errs.Invalid("", "malformed order command")
	}

	switch cmd.Kind {
	case KindLimit:
		o, err := in.svc.PlaceLimitOrder(ctx, service.LimitOrderRequest{
			AssetID:  cmd.AssetID,
			Side:     cmd.Side,
			Quantity: cmd.Quantity,
			Price:    cmd.Price,
			UserID:   cmd.UserID,
		})
		if err != nil {
			return err
		}
		in.log.Debug("limit order placed", zap.String("order", o.ID), zap.String("user", o.UserID))
	case KindMarket:
		res, err := in.svc.PlaceMarketOrder(ctx, service.MarketOrderRequest{
			AssetID:  cmd.AssetID,
			Side:     cmd.Side,
			Quantity: cmd.Quantity,
			UserID:   cmd.UserID,
		})
		if err != nil {
			return err
		}
		in.log.Debug("market order placed",
			zap.String("order", res.Order.ID),
			zap.String("totalCost", res.TotalCost.StringFixed(2)),
		)
	default:
		return errs.Invalid("kind", fmt.Sprintf("unknown kind %q", cmd.Kind))
	}
	return nil
}

func (in *Intake) Close() error { return in.reader.Close() }
