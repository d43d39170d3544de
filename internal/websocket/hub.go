package websocket

import (
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"riskguard/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const broadcastBufferSize = 256

// Hub рассылает события риска всем подключённым операторам
//
// Все изменения множества клиентов происходят в горутине Run.
// Клиент, чей буфер переполнен, отключается: дашборд переподключится
// и получит актуальный статус breaker в приветственном сообщении.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	welcome func() interface{}

	dropped atomic.Int64
	logger  *zap.Logger
}

// NewHub создает Hub; Run запускается отдельно
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		logger:     logger.Named("ws"),
	}
}

// SetWelcome задает построитель первого сообщения клиенту. Вызывать до Run.
func (h *Hub) SetWelcome(fn func() interface{}) {
	h.welcome = fn
}

// Run обслуживает регистрацию и рассылку до Stop
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				h.detach(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.greet(c)
			h.logger.Debug("operator connected", zap.String("remote", c.remote), zap.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			h.detach(c)
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("operator disconnected", zap.String("remote", c.remote), zap.Int("clients", n))

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// detach удаляет клиента и закрывает его очередь; вызывается под mu
func (h *Hub) detach(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) fanOut(msg []byte) {
	h.mu.RLock()
	var slow []*Client
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		h.detach(c)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Warn("slow operators disconnected", zap.Int("removed", len(slow)), zap.Int("clients", n))
}

func (h *Hub) greet(c *Client) {
	if h.welcome == nil {
		return
	}
	data, err := json.Marshal(h.welcome())
	if err != nil {
		h.logger.Warn("failed to marshal welcome message", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Stop завершает Run; повторный вызов безопасен
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast ставит сообщение в очередь без блокировки
//
// При полной очереди сообщение отбрасывается и учитывается в DroppedMessages.
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hub) BroadcastNotification(n *models.Notification) {
	h.Broadcast(NewNotificationMessage(n))
}

func (h *Hub) BroadcastEmergency(entry models.EmergencyHistoryEntry) {
	h.Broadcast(NewEmergencyMessage(entry))
}

// BroadcastRiskUpdate подходит как observer фоновых проверок движка
func (h *Hub) BroadcastRiskUpdate(address string, res *models.RiskCheckResult) {
	if res == nil {
		return
	}
	h.Broadcast(NewRiskUpdateMessage(address, res))
}

func (h *Hub) BroadcastEmergencyStatus(status models.EmergencyStatus) {
	h.Broadcast(NewEmergencyStatusMessage(status))
}

// ClientCount возвращает число подключенных операторов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages - сообщения, отброшенные из-за полной очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
