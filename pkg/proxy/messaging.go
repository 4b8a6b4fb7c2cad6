package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
)

// KafkaConfig returns a producer config that waits for all in-sync replicas.
// Network and ack waits are bounded by timeout.
func KafkaConfig(timeout time.Duration) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	if timeout > 0 {
		cfg.Producer.Timeout = timeout
		cfg.Net.DialTimeout = timeout
		cfg.Net.ReadTimeout = timeout
		cfg.Net.WriteTimeout = timeout
		cfg.Metadata.Timeout = timeout
	}
	return cfg
}

// NewKafkaProducer creates a synchronous producer with KafkaConfig(timeout)
func NewKafkaProducer(brokers []string, timeout time.Duration) (sarama.SyncProducer, error) {
	producer, err := sarama.NewSyncProducer(brokers, KafkaConfig(timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return producer, nil
}

// Messaging proxies the messaging service to a Kafka topic
type Messaging struct {
	producer sarama.SyncProducer
	topic    string
}

// NewMessaging creates the messaging adapter
func NewMessaging(producer sarama.SyncProducer, topic string) *Messaging {
	return &Messaging{producer: producer, topic: topic}
}

func (m *Messaging) ServiceID() string { return domain.ServiceMessaging }

func (m *Messaging) Info() ServiceInfo {
	return ServiceInfo{
		ID:          domain.ServiceMessaging,
		Name:        domain.ServiceName(domain.ServiceMessaging),
		Status:      "active",
		Description: "Message publishing via Kafka",
	}
}

type publishedMessage struct {
	UserID    int64     `json:"user_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Call publishes the "message" parameter keyed by user id.
func (m *Messaging) Call(ctx context.Context, userID int64, req Request) (interface{}, error) {
	if req.Operation != OpPublish {
		return nil, unsupported(domain.ServiceMessaging, req.Operation)
	}
	text := req.Param("message")
	if text == "" {
		return nil, &domain.InvalidInputError{Field: "message", Reason: "a message is required"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(publishedMessage{UserID: userID, Message: text, Timestamp: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: m.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(userID, 10)),
		Value: sarama.ByteEncoder(payload),
	}

	// SendMessage does not take a context; the send keeps running if ctx ends first.
	type sent struct {
		partition int32
		offset    int64
		err       error
	}
	done := make(chan sent, 1)
	go func() {
		partition, offset, err := m.producer.SendMessage(msg)
		done <- sent{partition: partition, offset: offset, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("publish abandoned: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("publish failed: %w", res.err)
		}
		return map[string]interface{}{
			"topic":     m.topic,
			"partition": res.partition,
			"offset":    res.offset,
		}, nil
	}
}
