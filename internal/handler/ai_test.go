package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroom-backend/internal/ai"
	"studyroom-backend/internal/auth"
)

// stubChat returns a canned reply and remembers what it was asked.
type stubChat struct {
	reply    string
	err      error
	received []ai.Message
}

func (s *stubChat) Chat(_ context.Context, messages []ai.Message) (string, error) {
	s.received = messages
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func newChatApp(h *AIHandler) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("claims", &auth.Claims{UserID: "u1"})
		return c.Next()
	})
	app.Post("/api/ai/chat", h.Chat)
	return app
}

func postChat(t *testing.T, app *fiber.App, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/ai/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestChatRepliesWithContext(t *testing.T) {
	chat := &stubChat{reply: "A B-tree is a balanced search tree."}
	app := newChatApp(NewAIHandler(nil, chat, nil))

	resp := postChat(t, app, `{"message":"What is a B-tree?","contextId":"ctx42"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Reply     string `json:"reply"`
		ContextID string `json:"contextId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, chat.reply, out.Reply)
	assert.Equal(t, "ctx42", out.ContextID)

	// System prompt first, the user's message last.
	require.GreaterOrEqual(t, len(chat.received), 2)
	assert.Equal(t, "system", chat.received[0].Role)
	last := chat.received[len(chat.received)-1]
	assert.Equal(t, "user", last.Role)
	assert.Equal(t, "What is a B-tree?", last.Content)
}

func TestChatValidation(t *testing.T) {
	chat := &stubChat{reply: "ok"}
	app := newChatApp(NewAIHandler(nil, chat, nil))

	resp := postChat(t, app, `{"message":"   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postChat(t, app, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatUnconfigured(t *testing.T) {
	app := newChatApp(NewAIHandler(nil, nil, nil))

	resp := postChat(t, app, `{"message":"hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestChatUpstreamFailure(t *testing.T) {
	chat := &stubChat{err: ai.ErrNoContent}
	app := newChatApp(NewAIHandler(nil, chat, nil))

	resp := postChat(t, app, `{"message":"hello"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestChatContextID(t *testing.T) {
	// A room id pins the context; an explicit context id continues it.
	assert.Equal(t, "483920", chatContextID(ChatRequest{Message: "hi", RoomID: "483920", ContextID: "ctx"}))
	assert.Equal(t, "ctx", chatContextID(ChatRequest{Message: "hi", ContextID: "ctx"}))

	// A first message derives a slug from its own text.
	assert.Equal(t, "what_is_a_btree", chatContextID(ChatRequest{Message: "What is a B-tree?"}))
	assert.Equal(t, strings.Repeat("a", 30), chatContextID(ChatRequest{Message: strings.Repeat("a", 45)}))
}
