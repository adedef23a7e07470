package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"flowscope/internal/metrics"
	"flowscope/internal/models"
)

const (
	clientQueue  = 16
	writeTimeout = 5 * time.Second
)

// FrameHub хранит последний кадр и рассылает кадры WebSocket клиентам.
// Медленный клиент отключается, рендер его не ждет
type FrameHub struct {
	mu       sync.RWMutex
	latest   *models.RenderFrame
	clients  map[*streamClient]struct{}
	closed   bool
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

type streamClient struct {
	conn *websocket.Conn
	send chan models.RenderFrame
}

// NewFrameHub создает хаб кадров
func NewFrameHub(log logrus.FieldLogger) *FrameHub {
	return &FrameHub{
		clients: make(map[*streamClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Render сохраняет кадр и рассылает его подписчикам
func (h *FrameHub) Render(f models.RenderFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = &f
	for c := range h.clients {
		select {
		case c.send <- f:
		default:
			h.log.WithField("remote", c.conn.RemoteAddr().String()).Warn("stream client too slow, dropping")
			h.removeLocked(c)
		}
	}
}

// Latest возвращает последний кадр, ok=false если кадров еще не было
func (h *FrameHub) Latest() (models.RenderFrame, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return models.RenderFrame{}, false
	}
	return *h.latest, true
}

// Clients возвращает количество подписчиков
func (h *FrameHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS подключает WebSocket клиента к потоку кадров
func (h *FrameHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &streamClient{conn: conn, send: make(chan models.RenderFrame, clientQueue)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.latest != nil {
		c.send <- *h.latest
	}
	metrics.StreamClients.Set(float64(len(h.clients)))
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *FrameHub) writeLoop(c *streamClient) {
	defer c.conn.Close()
	for f := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(f); err != nil {
			h.remove(c)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// readLoop нужен только для обработки control-фреймов и обнаружения закрытия
func (h *FrameHub) readLoop(c *streamClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *FrameHub) remove(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *FrameHub) removeLocked(c *streamClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.StreamClients.Set(float64(len(h.clients)))
}

// Close отключает всех клиентов
func (h *FrameHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}
