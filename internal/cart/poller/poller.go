package poller

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/logger"
	"github.com/segmentio/kafka-go"
)

const consumerGroup = "cart-purchase-consumer"

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type CartItemRemover interface {
	RemoveItems(ctx context.Context, userID string, productIDs ...string) error
}

// Poller drops purchased products from the buyer's cart.
type Poller struct {
	reader MessageReader
	carts  CartItemRemover
}

func NewKafkaReader(topic string, brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  consumerGroup,
		MaxBytes: 10e6, // 10MB
	})
}

func NewPoller(reader MessageReader, carts CartItemRemover) *Poller {
	return &Poller{reader: reader, carts: carts}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.consumeOne(ctx)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		logger.FromContext(context.Background()).Error().Err(err).Msg("error closing reader")
	}
}

func (p *Poller) consumeOne(ctx context.Context) {
	log := logger.FromContext(ctx)

	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			log.Error().Err(err).Msg("error reading message")
		}
		return
	}

	if eventType := header(m, "event_type"); eventType != "" && eventType != domain.EventPurchaseGranted {
		return
	}

	var event domain.PurchaseGranted
	if err := json.Unmarshal(m.Value, &event); err != nil {
		log.Error().Err(err).Int64("offset", m.Offset).Msg("error parsing purchase event")
		return
	}
	if event.UserID == "" || event.ProductID == "" {
		log.Warn().Int64("offset", m.Offset).Msg("purchase event without user_id or product_id")
		return
	}

	if err := p.carts.RemoveItems(ctx, event.UserID, event.ProductID); err != nil {
		log.Error().Err(err).
			Str("user_id", event.UserID).
			Str("product_id", event.ProductID).
			Msg("failed to remove purchased product from cart")
	}
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
