package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/minhpham/flashsale/internal/core/domain"
)

// KafkaPublisher announces finalized purchases to downstream order and
// shipping consumers.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

type purchaseEvent struct {
	UserID      string    `json:"user_id"`
	ItemID      string    `json:"item_id"`
	Quantity    int       `json:"quantity"`
	PricePaid   string    `json:"price_paid"`
	PurchasedAt time.Time `json:"purchased_at"`
}

func (p *KafkaPublisher) PublishPurchase(ctx context.Context, rec domain.PurchaseRecord) error {
	value, err := json.Marshal(purchaseEvent{
		UserID:      rec.UserID,
		ItemID:      rec.ItemID,
		Quantity:    rec.Quantity,
		PricePaid:   rec.PricePaid.String(),
		PurchasedAt: rec.PurchasedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal purchase event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.UserID),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("write purchase event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher is used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishPurchase(ctx context.Context, rec domain.PurchaseRecord) error {
	return nil
}
