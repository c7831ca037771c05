// Package push 把订单里程碑事件通过 WebSocket 推给在线用户。
package push

import (
	"net/http"
	"sync"
	"time"

	"mall/internal/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 网关前面有接入层做来源控制，这里放开
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub 维护 userID 到活跃连接的映射。同一用户重复连接时
// 新连接顶掉旧连接。
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// ServeWS 把 HTTP 请求升级成 WebSocket 并注册到 Hub。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		userID: userID,
	}
	h.register(client)

	go client.writePump()
	go client.readPump()
}

// SendToUser 推送消息给指定用户。用户不在线返回 false。
// send 通道永远不会被关闭，并发发送方不会踩到 close。
func (h *Hub) SendToUser(userID string, payload []byte) bool {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case <-client.done:
		return false
	case client.send <- payload:
		return true
	default:
		// 发送缓冲打满说明连接已经坏了，踢掉
		h.unregister(client)
		return false
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	old := h.clients[c.userID]
	h.clients[c.userID] = c
	h.mu.Unlock()
	if old != nil {
		old.shutdown()
	}
	log.Info().Str("user_id", c.userID).Msg("websocket client connected")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	current, mine := h.clients[c.userID]
	if mine && current == c {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()
	c.shutdown()
	if mine && current == c {
		log.Info().Str("user_id", c.userID).Msg("websocket client disconnected")
	}
}

// Client 一条 WebSocket 连接。
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	userID string
}

// shutdown 通知 writePump 退出并断开底层连接。send 不关闭，
// 残留缓冲交给 GC 回收。
func (c *Client) shutdown() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// 客户端只发心跳，读到错误即断开
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
