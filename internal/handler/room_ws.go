package handler

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"studyroom-backend/internal/cache"
	"studyroom-backend/internal/room"
)

// wsConn is the write side of a websocket connection.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

// wsClient is one live socket. Gorilla-style conns allow one concurrent
// writer, so every write goes through writeMu. The write deadline keeps
// a stalled peer from holding writeMu while the engine broadcasts.
type wsClient struct {
	conn         wsConn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// RoomWSHandler owns the socket side of rooms: it assigns connection
// ids, pumps inbound frames into the engine, and implements the
// engine's Publisher by fanning marshaled envelopes out to sockets.
// Chat messages are additionally persisted to Redis off the hot path.
type RoomWSHandler struct {
	engine       *room.Engine
	cache        *cache.RedisClient
	writeTimeout time.Duration

	mu      sync.RWMutex
	clients map[string]*wsClient // connection id -> client
}

// NewRoomWSHandler creates a RoomWSHandler. The engine is attached via
// SetEngine afterwards, since engine and handler reference each other.
func NewRoomWSHandler(redisClient *cache.RedisClient, writeTimeout time.Duration) *RoomWSHandler {
	return &RoomWSHandler{
		cache:        redisClient,
		writeTimeout: writeTimeout,
		clients:      make(map[string]*wsClient),
	}
}

// SetEngine attaches the coordination engine.
func (h *RoomWSHandler) SetEngine(engine *room.Engine) {
	h.engine = engine
}

// Publish implements room.Publisher. Connections that vanished between
// recipient computation and write are skipped; the engine learns about
// them through the read loop's disconnect.
func (h *RoomWSHandler) Publish(connIDs []string, event string, payload any) {
	if len(connIDs) == 0 {
		return
	}

	env := room.Envelope{Type: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			log.Printf("[RoomWS] Marshal %s payload failed: %v", event, err)
			return
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[RoomWS] Marshal %s envelope failed: %v", event, err)
		return
	}

	for _, id := range connIDs {
		h.mu.RLock()
		client, ok := h.clients[id]
		h.mu.RUnlock()
		if !ok {
			continue
		}
		if err := client.write(data); err != nil {
			log.Printf("[RoomWS] Write to %s failed: %v", id, err)
		}
	}
}

// HandleWebSocket runs one connection's lifetime: register, pump frames
// into the engine, and on any read error tear the connection down. A
// dropped socket and an explicit leave take the same engine path.
func (h *RoomWSHandler) HandleWebSocket(c *websocket.Conn) {
	connID := uuid.NewString()
	client := &wsClient{conn: c, writeTimeout: h.writeTimeout}

	h.mu.Lock()
	h.clients[connID] = client
	h.mu.Unlock()

	log.Printf("[RoomWS] Connected: %s", connID)

	defer func() {
		h.mu.Lock()
		delete(h.clients, connID)
		h.mu.Unlock()
		h.engine.Disconnect(connID)
		c.Close()
		log.Printf("[RoomWS] Disconnected: %s", connID)
	}()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			break
		}

		h.persistIfChat(msg)
		h.engine.Dispatch(connID, msg)
	}
}

// persistIfChat writes chat messages to the Redis history list so late
// joiners can fetch them over REST. Persistence is best-effort and off
// the dispatch path; a Redis hiccup never delays the broadcast.
func (h *RoomWSHandler) persistIfChat(raw []byte) {
	if h.cache == nil {
		return
	}

	var env room.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type != room.EventSendMessage {
		return
	}
	var p room.ChatMessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.Room == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		err := h.cache.AddMessage(ctx, p.Room, &cache.RoomMessage{
			RoomCode:  p.Room,
			Author:    p.Author,
			Message:   p.Message,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			log.Printf("[RoomWS] Persist chat for room %s failed: %v", p.Room, err)
		}
	}()
}

// CleanupRoom drops the Redis chat history of a closed room. Wired to
// the engine's room-closed hook.
func (h *RoomWSHandler) CleanupRoom(code string) {
	if h.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.cache.DeleteRoom(ctx, code); err != nil {
		log.Printf("[RoomWS] Cleanup chat history for room %s failed: %v", code, err)
	}
}
