package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/user-discounts/internal/domain/discount"
)

// Topics carrying discount lifecycle events.
const (
	TopicEntitlementAssigned = "discounts.entitlement.assigned"
	TopicEntitlementRevoked  = "discounts.entitlement.revoked"
	TopicDiscountApplied     = "discounts.applied"
)

const publishTimeout = 5 * time.Second

var _ discount.Notifier = (*KafkaNotifier)(nil)

// KafkaNotifier publishes discount lifecycle events to Kafka. Publishing is
// best effort: a broker failure is logged and swallowed, never surfaced to
// the operation that triggered it.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier returns a notifier producing to the given brokers. Topics
// are set per message.
func NewKafkaNotifier(brokers []string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

type entitlementEvent struct {
	EntitlementID string     `json:"user_discount_id"`
	UserID        string     `json:"user_id"`
	DiscountID    string     `json:"discount_id"`
	AssignedAt    time.Time  `json:"assigned_at"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
}

type appliedEvent struct {
	AuditID        string                  `json:"audit_id"`
	UserID         string                  `json:"user_id"`
	OriginalAmount decimal.Decimal         `json:"original_amount"`
	DiscountAmount decimal.Decimal         `json:"discount_amount"`
	FinalAmount    decimal.Decimal         `json:"final_amount"`
	Applied        []discount.Contribution `json:"applied_discounts"`
	TransactionID  string                  `json:"transaction_id,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
}

// EntitlementAssigned implements discount.Notifier.
func (n *KafkaNotifier) EntitlementAssigned(ctx context.Context, ent *discount.Entitlement) {
	n.publish(ctx, TopicEntitlementAssigned, ent.UserID, entitlementEvent{
		EntitlementID: ent.ID,
		UserID:        ent.UserID,
		DiscountID:    ent.DefinitionID,
		AssignedAt:    ent.AssignedAt,
	})
}

// EntitlementRevoked implements discount.Notifier.
func (n *KafkaNotifier) EntitlementRevoked(ctx context.Context, ent *discount.Entitlement) {
	n.publish(ctx, TopicEntitlementRevoked, ent.UserID, entitlementEvent{
		EntitlementID: ent.ID,
		UserID:        ent.UserID,
		DiscountID:    ent.DefinitionID,
		AssignedAt:    ent.AssignedAt,
		RevokedAt:     ent.RevokedAt,
	})
}

// DiscountApplied implements discount.Notifier.
func (n *KafkaNotifier) DiscountApplied(ctx context.Context, rec *discount.AuditRecord) {
	n.publish(ctx, TopicDiscountApplied, rec.UserID, appliedEvent{
		AuditID:        rec.ID,
		UserID:         rec.UserID,
		OriginalAmount: rec.OriginalAmount,
		DiscountAmount: rec.DiscountAmount,
		FinalAmount:    rec.FinalAmount,
		Applied:        rec.Applied,
		TransactionID:  rec.TransactionID,
		CreatedAt:      rec.CreatedAt,
	})
}

func (n *KafkaNotifier) publish(ctx context.Context, topic, key string, payload any) {
	lg := zctx.From(ctx)

	value, err := json.Marshal(payload)
	if err != nil {
		lg.Error("Marshaling event", zap.String("topic", topic), zap.Error(err))
		return
	}

	// The event must outlive the request that produced it, but not hang
	// around forever if the brokers are down.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err = n.writer.WriteMessages(publishCtx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		lg.Error("Publishing event", zap.String("topic", topic), zap.Error(err))
		return
	}

	lg.Debug("Event published", zap.String("topic", topic), zap.String("key", key))
}

// Close flushes pending messages and releases the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
