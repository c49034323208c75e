package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

const (
	writeWait      = 10 * time.Second // 写入超时
	pongWait       = 60 * time.Second // 读取超时（应大于心跳间隔）
	pingPeriod     = 50 * time.Second // 心跳间隔
	maxMessageSize = 1024 * 1024 * 2  // 最大消息限制 2MB
)

// Client 单条 websocket 连接，消息原样交给 handler
type Client struct {
	url     string
	conn    *websocket.Conn
	mu      sync.RWMutex
	writeMu sync.Mutex

	// 状态控制
	done      chan struct{}
	closeOnce sync.Once

	// 回调
	onMessage    func([]byte) error
	onDisconnect func()
}

func NewClient(url string) *Client {
	if url == "" {
		panic("ws: URL cannot be empty")
	}
	return &Client{
		url:  url,
		done: make(chan struct{}),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil // 已经连接
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	// 币安服务端定期发送 ping，需要回 pong 并刷新读超时
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// 监控 Context 和 done 信号，主动关闭连接以解除 ReadMessage 阻塞
	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
		}
		c.internalClose()
	}()

	go c.readPump(conn)
	go c.pingPump()

	return nil
}

// internalClose 内部关闭方法，不触发通知逻辑
func (c *Client) internalClose() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.internalClose()
	})
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Done 客户端被关闭后返回
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) readPump(conn *websocket.Conn) {
	defer func() {
		c.internalClose()
		c.notifyDisconnect()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error().Err(err).Str("url", c.url).Msg("ws read error")
			}
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if c.onMessage != nil {
			if err = c.onMessage(msg); err != nil {
				logger.Warn().Err(err).Msg("ws message handler error")
			}
		}
	}
}

func (c *Client) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Ping(); err != nil {
				return
			}
		}
	}
}

// Ping 发送标准控制帧
func (c *Client) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("connection closed")
	}
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// WriteJSON 带超时写入
func (c *Client) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("connection closed")
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (c *Client) notifyDisconnect() {
	c.mu.RLock()
	callback := c.onDisconnect
	c.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// SetMessageHandler 需在 Connect 之前设置
func (c *Client) SetMessageHandler(handler func([]byte) error) {
	c.onMessage = handler
}

func (c *Client) SetDisconnectCallback(callback func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = callback
}
