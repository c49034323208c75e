package feedback

import (
	"context"
	"sync/atomic"

	"github.com/IBM/sarama"
)

// KafkaSink 以 position_id 为 key 同步写入 topic
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	healthy  atomic.Bool
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "signal-engine"
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return newKafkaSink(producer, topic), nil
}

func newKafkaSink(producer sarama.SyncProducer, topic string) *KafkaSink {
	s := &KafkaSink{producer: producer, topic: topic}
	s.healthy.Store(true)
	return s
}

func (s *KafkaSink) SendTradeFeedback(_ context.Context, e Event) (bool, error) {
	data, err := e.Marshal()
	if err != nil {
		return false, err
	}
	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(e.PositionID),
		Value: sarama.ByteEncoder(data),
	})
	s.healthy.Store(err == nil)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *KafkaSink) IsConnected() bool {
	return s.healthy.Load()
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
