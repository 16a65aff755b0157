package websocket

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"
	jsoniter "github.com/json-iterator/go"

	"tvtrader/internal/events"
	"tvtrader/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrHubClosed - hub остановлен, события не принимаются
var ErrHubClosed = errors.New("websocket hub closed")

// ============ sync.Pool для JSON буферов ============

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 1024))
	},
}

// Hub рассылает события исполнения всем подключенным клиентам.
//
// Реализует events.Publisher: исполнитель публикует итог каждого сигнала,
// hub кладёт его в broadcast канал без блокировки. Медленные клиенты
// отключаются, переполнение канала считается в DroppedMessages.
//
// Использование:
//  1. hub := NewHub(origins)
//  2. go hub.Run(ctx)
//  3. router.HandleFunc("/ws/executions", hub.ServeWS)
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	origins *OriginChecker
	log     *utils.Logger

	mu      sync.RWMutex
	dropped atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

// NewHub создаёт Hub. Пустой список origins разрешает любой Origin.
func NewHub(origins []string) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		origins:    NewOriginChecker(origins),
		log:        utils.L().WithComponent("ws_hub"),
		done:       make(chan struct{}),
	}
}

// Run - главный цикл. Завершается по ctx или Close, закрывая всех клиентов.
//
// Список клиентов копируется под RLock, отправка идёт без блокировки,
// медленные клиенты удаляются под Write Lock.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.Close()
		h.disconnectAll()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", utils.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", utils.Int("clients", total))

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				h.log.Warn("removed slow clients", utils.Int("removed", len(toRemove)), utils.Int("clients", total))
			}
		}
	}
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

// Publish реализует events.Publisher
func (h *Hub) Publish(ctx context.Context, e events.Event) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	return h.Broadcast(NewExecutionMessage(e))
}

// Close останавливает Run. Повторный вызов безопасен.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() { close(h.done) })
	return nil
}

// Broadcast сериализует сообщение и ставит его в очередь рассылки.
// Переполненная очередь не блокирует вызывающего: сообщение отбрасывается.
func (h *Hub) Broadcast(message interface{}) error {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		return err
	}

	data := bytes.TrimRight(buf.Bytes(), "\n")
	msg := make([]byte, len(data))
	copy(msg, data)

	select {
	case h.broadcast <- msg:
		return nil
	default:
		h.dropped.Add(1)
		h.log.Warn("broadcast queue full, message dropped")
		return nil
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages - сколько сообщений отброшено из-за переполнения очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
