package feedback

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

// NATSSink 发布到 NATS subject
type NATSSink struct {
	*nats.Conn
	subject string
	mu      sync.RWMutex
	closed  bool
}

func NewNATSSink(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("signal-engine"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSSink{Conn: conn, subject: subject}, nil
}

func (s *NATSSink) SendTradeFeedback(_ context.Context, e Event) (bool, error) {
	data, err := e.Marshal()
	if err != nil {
		return false, err
	}
	if err = s.Publish(s.subject, data); err != nil {
		return false, err
	}
	return true, nil
}

func (s *NATSSink) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed && s.Conn != nil && s.Conn.IsConnected()
}

func (s *NATSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.Conn != nil {
		if err := s.Conn.Drain(); err != nil {
			s.Conn.Close()
		}
	}
	return nil
}
