package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	events   []Event
	failures int
	reject   bool
	calls    int
}

func (s *recordingSink) SendTradeFeedback(_ context.Context, e Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return false, errors.New("connection refused")
	}
	if s.reject {
		return false, nil
	}
	s.events = append(s.events, e)
	return true, nil
}

func (s *recordingSink) snapshot() ([]Event, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...), s.calls
}

func TestQueueDeliversWithRetry(t *testing.T) {
	sink := &recordingSink{failures: 2}
	q := NewQueue(QueueConfig{Size: 4, MaxRetry: 3, RetryDelay: time.Millisecond}, sink)
	q.Start()

	assert.True(t, q.Emit(Event{PositionID: "p-1", Symbol: "BTCUSDT"}))

	assert.Eventually(t, func() bool {
		events, _ := sink.snapshot()
		return len(events) == 1
	}, time.Second, 5*time.Millisecond)
	q.Stop()

	_, calls := sink.snapshot()
	assert.Equal(t, 3, calls)
}

func TestQueueRejectedNotRetried(t *testing.T) {
	sink := &recordingSink{reject: true}
	q := NewQueue(QueueConfig{Size: 4, MaxRetry: 3, RetryDelay: time.Millisecond}, sink)
	q.Start()
	q.Emit(Event{PositionID: "p-1"})
	q.Stop()

	_, calls := sink.snapshot()
	assert.Equal(t, 1, calls)
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(QueueConfig{Size: 1}, &recordingSink{})
	// 未启动消费者，第二个事件放不进去
	assert.True(t, q.Emit(Event{PositionID: "p-1"}))
	assert.False(t, q.Emit(Event{PositionID: "p-2"}))
	assert.Equal(t, 1, q.Size())
}

func TestQueueDrainsOnStop(t *testing.T) {
	sink := &recordingSink{}
	q := NewQueue(QueueConfig{Size: 8}, sink)
	for i := 0; i < 5; i++ {
		require.True(t, q.Emit(Event{PositionID: "p"}))
	}
	q.Start()
	q.Stop()

	events, _ := sink.snapshot()
	assert.Len(t, events, 5)
	assert.False(t, q.Emit(Event{PositionID: "late"}))
}

func TestKafkaSinkSends(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var e Event
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.PositionID != "p-1" || e.Action != "LONG" {
			return errors.New("unexpected payload")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	s := newKafkaSink(producer, "trade-feedback")
	ok, err := s.SendTradeFeedback(context.Background(), Event{PositionID: "p-1", Action: "LONG", PnlPercent: 10})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, s.IsConnected())

	ok, err = s.SendTradeFeedback(context.Background(), Event{PositionID: "p-2"})
	assert.Error(t, err)
	assert.False(t, ok)
	assert.False(t, s.IsConnected())

	require.NoError(t, s.Close())
}
