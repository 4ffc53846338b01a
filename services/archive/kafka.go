package archive

import (
	"encoding/json"
	"sync"

	"peerchat/config"
	"peerchat/pkg/logger"
	"peerchat/pkg/metrics"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

const (
	bufferSize     = 1000
	flushTimeoutMs = 5000
)

// producer is the subset of *kafka.Producer the publisher needs
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// KafkaPublisher buffers records and hands them to a Kafka producer from
// its own goroutine so the dispatcher never waits on the broker.
type KafkaPublisher struct {
	producer producer
	topic    string
	buffer   chan Record
	written  chan struct{}
	drained  chan struct{}
	once     sync.Once
	log      *logger.Logger
}

func NewKafkaPublisher(cfg config.KafkaConfig, clientID string) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Address,
		"client.id":         clientID,
		"acks":              "all",
		"retries":           3,
		"retry.backoff.ms":  100,
		"linger.ms":         50,
	})
	if err != nil {
		return nil, err
	}
	return newKafkaPublisher(p, cfg.Topic), nil
}

func newKafkaPublisher(p producer, topic string) *KafkaPublisher {
	kp := &KafkaPublisher{
		producer: p,
		topic:    topic,
		buffer:   make(chan Record, bufferSize),
		written:  make(chan struct{}),
		drained:  make(chan struct{}),
		log:      logger.WithComponent("archive").WithField("topic", topic),
	}
	go kp.writer()
	go kp.deliveries()
	return kp
}

// Publish queues rec, dropping it when the buffer is full
func (kp *KafkaPublisher) Publish(rec Record) {
	select {
	case kp.buffer <- rec:
	default:
		metrics.IncrementArchiveFailed()
		kp.log.WithField("conversation", rec.Conversation).Warn("archive buffer full, dropping record")
	}
}

func (kp *KafkaPublisher) writer() {
	defer close(kp.written)

	for rec := range kp.buffer {
		value, err := json.Marshal(rec)
		if err != nil {
			metrics.IncrementArchiveFailed()
			kp.log.WithError(err).Error("failed to encode archive record")
			continue
		}

		msg := &kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &kp.topic, Partition: kafka.PartitionAny},
			Key:            []byte(rec.key()),
			Value:          value,
		}
		if err := kp.producer.Produce(msg, nil); err != nil {
			metrics.IncrementArchiveFailed()
			kp.log.WithError(err).Error("failed to produce archive record")
		}
	}
}

// deliveries drains delivery reports from the producer's event channel
func (kp *KafkaPublisher) deliveries() {
	defer close(kp.drained)

	for e := range kp.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				metrics.IncrementArchiveFailed()
				kp.log.WithError(ev.TopicPartition.Error).Warn("archive delivery failed")
				continue
			}
			metrics.IncrementArchivePublished()
		case kafka.Error:
			kp.log.WithError(ev).Warn("kafka client error")
		}
	}
}

// Close flushes outstanding records and shuts the producer down
func (kp *KafkaPublisher) Close() error {
	kp.once.Do(func() {
		close(kp.buffer)
		<-kp.written
		if remaining := kp.producer.Flush(flushTimeoutMs); remaining > 0 {
			kp.log.WithField("remaining", remaining).Warn("archive records left unflushed")
		}
		// Closing the producer closes its event channel
		kp.producer.Close()
		<-kp.drained
	})
	return nil
}
