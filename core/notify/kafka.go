package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/relabs-tech/appseed/core/logger"
	"github.com/segmentio/kafka-go"
)

// KafkaConfiguration configures the Kafka publisher
type KafkaConfiguration struct {
	Brokers string `env:"KAFKA_BROKERS,optional" description:"comma separated list of Kafka brokers"`
	Topic   string `env:"KAFKA_TOPIC,default=resource_notification" description:"the topic resource notifications are written to"`
}

// Kafka publishes messages to a Kafka topic. The message key is the resource, see Message.Key.
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka returns a new Kafka publisher
func NewKafka(config KafkaConfiguration) (*Kafka, error) {
	if config.Brokers == "" {
		return nil, fmt.Errorf("kafka brokers must not be empty")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka topic must not be empty")
	}
	brokers := strings.Split(config.Brokers, ",")
	logger.Default().Infoln("publishing resource notifications to kafka topic", config.Topic, "on", brokers)
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        config.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
	}, nil
}

// Publish writes m synchronously
func (k *Kafka) Publish(ctx context.Context, m Message) error {
	value, err := m.Encode()
	if err != nil {
		return err
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(m.Key()), Value: value})
	if err != nil {
		return fmt.Errorf("cannot write notification %s to kafka: %w", m.Key(), err)
	}
	return nil
}

// Close flushes and closes the writer
func (k *Kafka) Close() error {
	return k.writer.Close()
}
