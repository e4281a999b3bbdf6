package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/models"
)

// KafkaPublisher emits payment.succeeded events for downstream
// consumers (compliance reports, analytics) keyed by transaction id.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

type paymentEvent struct {
	Event         string `json:"event"`
	TransactionID string `json:"transaction_id"`
	Kind          string `json:"kind"`
	Provider      string `json:"provider"`
	PropertyID    string `json:"property_id"`
	PayerID       string `json:"payer_id"`
	PayeeID       string `json:"payee_id"`
	Amount        int64  `json:"amount"`
	OccurredAt    string `json:"occurred_at"`
}

func (p *KafkaPublisher) PaymentSucceeded(ctx context.Context, tx models.Transaction) error {
	value, err := json.Marshal(paymentEvent{
		Event:         "payment.succeeded",
		TransactionID: tx.ID,
		Kind:          string(tx.Kind),
		Provider:      tx.Provider,
		PropertyID:    tx.PropertyID,
		PayerID:       tx.PayerID,
		PayeeID:       tx.PayeeID,
		Amount:        tx.Amount,
		OccurredAt:    tx.UpdatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tx.ID),
		Value: value,
	})
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }
