package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"studyroom-backend/internal/ai"
	"studyroom-backend/internal/auth"
	"studyroom-backend/internal/cache"
)

const (
	flashcardCount = 10

	// chatHistoryLimit caps how many stored turns are replayed to the
	// model; the system prompt and the new message always go through.
	chatHistoryLimit = 18
)

const tutorSystemPrompt = `You are a highly intelligent academic AI assistant.

Always respond in a clear, structured format using:

• Headings
• Bullet points
• Short paragraphs
• Code blocks when needed
• Step-by-step explanations when helpful

Keep answers clean and professional.
Avoid long messy paragraphs.
Be concise but structured.`

// AIHandler serves standalone content generation outside any live room:
// flashcards and the tutor chat with per-context memory.
type AIHandler struct {
	gen   ai.Generator
	chat  ai.ChatGenerator
	cache *cache.RedisClient
}

// NewAIHandler creates an AIHandler.
func NewAIHandler(gen ai.Generator, chat ai.ChatGenerator, redisClient *cache.RedisClient) *AIHandler {
	return &AIHandler{gen: gen, chat: chat, cache: redisClient}
}

// FlashcardsRequest asks for cards on one topic.
type FlashcardsRequest struct {
	Topic string `json:"topic"`
}

// Flashcard is one question/answer pair.
type Flashcard struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Flashcards generates study flashcards for a topic.
func (h *AIHandler) Flashcards(c *fiber.Ctx) error {
	if h.gen == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "content generation is not configured",
		})
	}

	var req FlashcardsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if strings.TrimSpace(req.Topic) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "topic is required",
		})
	}

	prompt := fmt.Sprintf(`Generate %d study flashcards about "%s".
Respond with ONLY a JSON array, no markdown fences and no explanation. Each element must have this shape:
{"question": "...", "answer": "..."}`, flashcardCount, req.Topic)

	raw, err := h.gen.Generate(c.Context(), prompt)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "flashcard generation failed",
		})
	}

	arr, err := ai.ExtractJSONArray(raw)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "unexpected generation response",
		})
	}

	var cards []Flashcard
	if err := json.Unmarshal(arr, &cards); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "unexpected generation response",
		})
	}

	out := make([]Flashcard, 0, len(cards))
	for _, card := range cards {
		if strings.TrimSpace(card.Question) == "" || strings.TrimSpace(card.Answer) == "" {
			continue
		}
		out = append(out, card)
	}
	if len(out) == 0 {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "no usable flashcards in response",
		})
	}

	return c.JSON(fiber.Map{"flashcards": out})
}

// ChatRequest is one tutor message. RoomID pins the conversation to a
// room; otherwise ContextID continues an earlier thread, and a missing
// ContextID starts a new one.
type ChatRequest struct {
	Message   string `json:"message"`
	RoomID    string `json:"roomId"`
	ContextID string `json:"contextId"`
}

// chatContextID picks the memory context for a tutor message. A room id
// wins, then an explicit context id; a first message derives its context
// id from its own text so the thread has a readable handle.
func chatContextID(req ChatRequest) string {
	if req.RoomID != "" {
		return req.RoomID
	}
	if req.ContextID != "" {
		return req.ContextID
	}

	slug := strings.ToLower(req.Message)
	if len(slug) > 30 {
		slug = slug[:30]
	}
	var b strings.Builder
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Chat answers one tutor message with the conversation's stored turns
// replayed as context, then persists both sides of the exchange.
func (h *AIHandler) Chat(c *fiber.Ctx) error {
	if h.chat == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "content generation is not configured",
		})
	}

	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "message is required",
		})
	}

	claims := c.Locals("claims").(*auth.Claims)
	contextID := chatContextID(req)

	var history []cache.ChatTurn
	if h.cache != nil {
		turns, err := h.cache.GetConversation(c.Context(), contextID)
		if err != nil {
			log.Printf("[AI] Load conversation %s failed: %v", contextID, err)
		} else {
			history = turns
		}
	}
	if len(history) > chatHistoryLimit {
		history = history[len(history)-chatHistoryLimit:]
	}

	messages := make([]ai.Message, 0, len(history)+2)
	messages = append(messages, ai.Message{Role: "system", Content: tutorSystemPrompt})
	for _, turn := range history {
		messages = append(messages, ai.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, ai.Message{Role: "user", Content: req.Message})

	reply, err := h.chat.Chat(c.Context(), messages)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "chat generation failed",
		})
	}

	if h.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		now := time.Now().UTC()
		err := h.cache.AppendConversation(ctx, claims.UserID, contextID,
			cache.ChatTurn{Role: "user", Content: req.Message, Timestamp: now},
			cache.ChatTurn{Role: "assistant", Content: reply, Timestamp: now},
		)
		if err != nil {
			log.Printf("[AI] Persist conversation %s failed: %v", contextID, err)
		}
	}

	return c.JSON(fiber.Map{
		"reply":     reply,
		"contextId": contextID,
	})
}

// ChatHistory returns the stored turns of one conversation, oldest
// first.
func (h *AIHandler) ChatHistory(c *fiber.Ctx) error {
	if h.cache == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "chat history is not configured",
		})
	}

	contextID := c.Params("contextId")
	turns, err := h.cache.GetConversation(c.Context(), contextID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load history",
		})
	}

	return c.JSON(fiber.Map{"history": turns})
}

// Conversations lists the caller's conversation ids.
func (h *AIHandler) Conversations(c *fiber.Ctx) error {
	if h.cache == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "chat history is not configured",
		})
	}

	claims := c.Locals("claims").(*auth.Claims)
	ids, err := h.cache.UserConversations(c.Context(), claims.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch conversations",
		})
	}

	return c.JSON(fiber.Map{"conversations": ids})
}
