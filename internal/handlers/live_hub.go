// checkin/internal/handlers/live_hub.go
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/suslyaev/checkin/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Для разработки разрешаем все источники
	},
}

// GlobalLiveHub - единственный экземпляр хаба для всего приложения.
var GlobalLiveHub = NewLiveHub()

// LiveEvent - сообщение, которое уходит подписчикам мероприятия при
// каждом изменении статуса гостя.
type LiveEvent struct {
	Type          string              `json:"type"`
	ActionID      uint                `json:"actionId"`
	ContactID     uint                `json:"contactId"`
	EventID       uint                `json:"eventId"`
	Status        models.ActionStatus `json:"actionType"`
	StatusDisplay string              `json:"actionTypeDisplay"`
	At            time.Time           `json:"at"`
}

type LiveClient struct {
	hub     *LiveHub
	conn    *websocket.Conn
	send    chan []byte
	userID  uint
	eventID uint
}

// LiveHub раздаёт изменения статусов подписчикам. Подписка идёт на
// конкретное мероприятие: проверяющий на входе видит только свою площадку.
type LiveHub struct {
	clients    map[*LiveClient]struct{}
	broadcast  chan LiveEvent
	register   chan *LiveClient
	unregister chan *LiveClient
	mu         sync.Mutex
}

func NewLiveHub() *LiveHub {
	return &LiveHub{
		broadcast:  make(chan LiveEvent, 64),
		register:   make(chan *LiveClient),
		unregister: make(chan *LiveClient),
		clients:    make(map[*LiveClient]struct{}),
	}
}

func (h *LiveHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			slog.Info("Live client registered", "userID", client.userID, "eventID", client.eventID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			slog.Info("Live client unregistered", "userID", client.userID, "eventID", client.eventID)

		case event := <-h.broadcast:
			h.sendToSubscribers(event)
		}
	}
}

// BroadcastAction публикует свершившееся изменение статуса. Вызывается
// хендлерами после успешного коммита, поэтому подписчики никогда не видят
// откатившихся переходов.
func (h *LiveHub) BroadcastAction(action *models.Action) {
	if action == nil {
		return
	}
	event := LiveEvent{
		Type:          "statusChanged",
		ActionID:      action.ID,
		ContactID:     action.ContactID,
		EventID:       action.ModuleInstanceID,
		Status:        action.Status,
		StatusDisplay: models.StatusDisplay[action.Status],
		At:            time.Now(),
	}
	select {
	case h.broadcast <- event:
	default:
		slog.Warn("Live hub broadcast queue full, dropping event", "actionId", action.ID)
	}
}

func (h *LiveHub) sendToSubscribers(event LiveEvent) {
	messageBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal live event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if client.eventID != event.EventID {
			continue
		}
		select {
		case client.send <- messageBytes:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// readPump только следит за закрытием соединения: входящие сообщения от
// клиентов не обрабатываются, канал односторонний.
func (c *LiveClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("Unexpected websocket close error", "error", err)
			}
			break
		}
	}
}

func (c *LiveClient) writePump() {
	defer func() {
		c.conn.Close()
	}()
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			slog.Error("Failed to write message to websocket", "error", err)
			return
		}
	}
}

// LiveWSEndpoint - подписка на изменения статусов мероприятия:
// GET /api/events/:id/live (после апгрейда до WebSocket).
func LiveWSEndpoint(c *gin.Context) {
	eventID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID мероприятия"})
		return
	}
	userID := currentUserID(c)
	if userID == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	if !userInEventScope(c, uint(eventID)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Нет доступа к этому мероприятию"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}

	client := &LiveClient{
		hub:     GlobalLiveHub,
		conn:    conn,
		send:    make(chan []byte, 256),
		userID:  *userID,
		eventID: uint(eventID),
	}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}
