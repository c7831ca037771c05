package push

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHubServer(h *Hub) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(h.ServeWS))
}

func dialUser(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?userId=" + userID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn
}

func TestSendToUserDeliversPayload(t *testing.T) {
	h := NewHub()
	srv := newHubServer(h)
	defer srv.Close()

	conn := dialUser(t, srv, "u1")
	defer conn.Close()

	// 注册发生在握手之后的 handler goroutine 里，轮询到上线为止
	require.Eventually(t, func() bool {
		return h.SendToUser("u1", []byte("order confirmed"))
	}, time.Second, 10*time.Millisecond)

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "order confirmed", string(payload))
}

func TestSendToOfflineUserReturnsFalse(t *testing.T) {
	h := NewHub()
	assert.False(t, h.SendToUser("ghost", []byte("x")))
}

// 同一用户高频重连、多个 goroutine 并发推送：顶掉旧连接的路径
// 和推送路径充分交错，任何 send-on-closed-channel 都会让这里炸掉。
func TestReconnectUnderConcurrentSendDoesNotPanic(t *testing.T) {
	h := NewHub()
	srv := newHubServer(h)
	defer srv.Close()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					h.SendToUser("u1", []byte("payload"))
				}
			}
		}()
	}

	conns := make([]*websocket.Conn, 0, 200)
	for i := 0; i < 200; i++ {
		// 不读消息，让旧连接在被顶掉时仍有在途推送
		conns = append(conns, dialUser(t, srv, "u1"))
	}
	close(stop)
	wg.Wait()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

func TestReplacedConnectionStopsReceiving(t *testing.T) {
	h := NewHub()
	srv := newHubServer(h)
	defer srv.Close()

	first := dialUser(t, srv, "u1")
	defer first.Close()
	require.Eventually(t, func() bool {
		return h.SendToUser("u1", []byte("warmup"))
	}, time.Second, 10*time.Millisecond)

	second := dialUser(t, srv, "u1")
	defer second.Close()

	// 旧连接收到服务器的关闭帧后读取即报错
	require.Eventually(t, func() bool {
		_ = first.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		for {
			if _, _, err := first.ReadMessage(); err != nil {
				return true
			}
		}
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return h.SendToUser("u1", []byte("for the new conn"))
	}, time.Second, 10*time.Millisecond)
	_ = second.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := second.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "for the new conn", string(payload))
}
