package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// historyTTL is how long a room's chat history survives without writes.
// Rooms themselves expire after 6 hours, so 24h covers any live room.
const historyTTL = 24 * time.Hour

// RoomMessage is one chat message in a room's history.
type RoomMessage struct {
	RoomCode  string    `json:"roomCode"`
	Author    string    `json:"author"`
	UserID    string    `json:"userId"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// RedisClient wraps the Redis client for room chat history.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client.
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Printf("[Redis] Connected to %s", addr)
	return &RedisClient{client: client}, nil
}

func messagesKey(roomCode string) string {
	return "room:" + roomCode + ":messages"
}

// AddMessage appends a chat message to the room's history.
func (r *RedisClient) AddMessage(ctx context.Context, roomCode string, m *RoomMessage) error {
	key := messagesKey(roomCode)
	m.Timestamp = time.Now()

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	if err := r.client.RPush(ctx, key, data).Err(); err != nil {
		log.Printf("[Redis] Failed to add message: %v", err)
		return err
	}

	r.client.Expire(ctx, key, historyTTL)

	return nil
}

// GetMessages retrieves the full chat history for a room.
func (r *RedisClient) GetMessages(ctx context.Context, roomCode string) ([]RoomMessage, error) {
	results, err := r.client.LRange(ctx, messagesKey(roomCode), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]RoomMessage, 0, len(results))
	for _, data := range results {
		var m RoomMessage
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			continue
		}
		messages = append(messages, m)
	}

	return messages, nil
}

// GetRecentMessages retrieves the last N messages for a room.
func (r *RedisClient) GetRecentMessages(ctx context.Context, roomCode string, count int64) ([]RoomMessage, error) {
	results, err := r.client.LRange(ctx, messagesKey(roomCode), -count, -1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]RoomMessage, 0, len(results))
	for _, data := range results {
		var m RoomMessage
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			continue
		}
		messages = append(messages, m)
	}

	return messages, nil
}

// conversationTTL is how long a tutor conversation survives without a
// new turn.
const conversationTTL = 7 * 24 * time.Hour

// ChatTurn is one turn of a tutor conversation.
type ChatTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func conversationKey(contextID string) string {
	return "ai:conversation:" + contextID
}

func userConversationsKey(userID string) string {
	return "ai:conversations:" + userID
}

// AppendConversation appends turns to a tutor conversation and records
// the conversation id under its owner.
func (r *RedisClient) AppendConversation(ctx context.Context, userID, contextID string, turns ...ChatTurn) error {
	key := conversationKey(contextID)
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return err
		}
		if err := r.client.RPush(ctx, key, data).Err(); err != nil {
			log.Printf("[Redis] Failed to append conversation turn: %v", err)
			return err
		}
	}
	r.client.Expire(ctx, key, conversationTTL)

	if userID != "" {
		r.client.SAdd(ctx, userConversationsKey(userID), contextID)
		r.client.Expire(ctx, userConversationsKey(userID), conversationTTL)
	}
	return nil
}

// GetConversation returns a tutor conversation, oldest turn first.
func (r *RedisClient) GetConversation(ctx context.Context, contextID string) ([]ChatTurn, error) {
	results, err := r.client.LRange(ctx, conversationKey(contextID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	turns := make([]ChatTurn, 0, len(results))
	for _, data := range results {
		var t ChatTurn
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// UserConversations lists the conversation ids a user has chatted in.
func (r *RedisClient) UserConversations(ctx context.Context, userID string) ([]string, error) {
	return r.client.SMembers(ctx, userConversationsKey(userID)).Result()
}

// DeleteRoom removes all history for a room. Called on room teardown.
func (r *RedisClient) DeleteRoom(ctx context.Context, roomCode string) error {
	return r.client.Del(ctx, messagesKey(roomCode)).Err()
}

// Close closes the Redis connection.
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Health checks if Redis is reachable.
func (r *RedisClient) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
