package handler

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"studyroom-backend/internal/auth"
	"studyroom-backend/internal/cache"
	"studyroom-backend/internal/model"
)

const (
	roomExpiry     = 6 * time.Hour
	codeGenRetries = 5
)

// RoomHandler serves the scheduling REST surface: thin CRUD over the
// durable room records. Live room behavior is entirely the engine's;
// these endpoints only create, look up, and cancel records.
type RoomHandler struct {
	db    *gorm.DB
	cache *cache.RedisClient
	rand  *rand.Rand
}

// NewRoomHandler creates a RoomHandler.
func NewRoomHandler(db *gorm.DB, redisClient *cache.RedisClient) *RoomHandler {
	return &RoomHandler{
		db:    db,
		cache: redisClient,
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateRoomRequest body for immediate room creation.
type CreateRoomRequest struct {
	Title       string `json:"title"`
	DurationMin int    `json:"duration_min"`
}

// ScheduleRoomRequest body for scheduling a future room.
type ScheduleRoomRequest struct {
	Title        string   `json:"title"`
	ScheduledFor string   `json:"scheduled_for"` // RFC3339
	DurationMin  int      `json:"duration_min"`
	InviteeIDs   []string `json:"invitee_ids,omitempty"`
}

// JoinRoomRequest body for joining by code.
type JoinRoomRequest struct {
	Code string `json:"code"`
}

// RoomResponse is the REST view of a room record.
type RoomResponse struct {
	ID           int64   `json:"id"`
	Code         string  `json:"code"`
	Title        string  `json:"title"`
	HostID       string  `json:"host_id"`
	ScheduledFor *string `json:"scheduled_for,omitempty"`
	DurationMin  int     `json:"duration_min"`
	IsActive     bool    `json:"is_active"`
	ExpiresAt    string  `json:"expires_at"`
	CreatedAt    string  `json:"created_at"`
}

func toRoomResponse(room *model.Room) RoomResponse {
	resp := RoomResponse{
		ID:          room.ID,
		Code:        room.Code,
		Title:       room.Title,
		HostID:      room.HostID,
		DurationMin: room.DurationMin,
		IsActive:    room.IsActive,
		ExpiresAt:   room.ExpiresAt.Format(time.RFC3339),
		CreatedAt:   room.CreatedAt.Format(time.RFC3339),
	}
	if room.ScheduledFor != nil {
		s := room.ScheduledFor.Format(time.RFC3339)
		resp.ScheduledFor = &s
	}
	return resp
}

// newRoomCode returns an unused 6-digit numeric code.
func (h *RoomHandler) newRoomCode() (string, error) {
	for i := 0; i < codeGenRetries; i++ {
		code := fmt.Sprintf("%06d", 100000+h.rand.Intn(900000))
		var count int64
		if err := h.db.Model(&model.Room{}).Where("code = ?", code).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique room code")
}

// CreateRoom creates a room that starts now.
func (h *RoomHandler) CreateRoom(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	var req CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	code, err := h.newRoomCode()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to allocate room code",
		})
	}

	durationMin := req.DurationMin
	if durationMin <= 0 {
		durationMin = 30
	}

	room := model.Room{
		Code:        code,
		HostID:      claims.UserID,
		Title:       sanitizeString(req.Title),
		DurationMin: durationMin,
		IsActive:    true,
		ExpiresAt:   time.Now().Add(roomExpiry),
	}
	if err := h.db.Create(&room).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create room",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(toRoomResponse(&room))
}

// ScheduleRoom creates a room for a future time and invites users.
func (h *RoomHandler) ScheduleRoom(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	var req ScheduleRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	scheduledFor, err := time.Parse(time.RFC3339, req.ScheduledFor)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "scheduled_for must be RFC3339",
		})
	}
	if scheduledFor.Before(time.Now()) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "cannot schedule a room in the past",
		})
	}

	durationMin := req.DurationMin
	if durationMin <= 0 {
		durationMin = 30
	}

	code, err := h.newRoomCode()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to allocate room code",
		})
	}

	// Scheduled rooms stay inactive until the host starts them, so the
	// code is not joinable ahead of time.
	room := model.Room{
		Code:         code,
		HostID:       claims.UserID,
		Title:        sanitizeString(req.Title),
		ScheduledFor: &scheduledFor,
		DurationMin:  durationMin,
		IsActive:     false,
		ExpiresAt:    scheduledFor.Add(roomExpiry),
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		for _, inviteeID := range req.InviteeIDs {
			if inviteeID == claims.UserID {
				continue
			}
			invite := model.RoomInvite{RoomID: room.ID, UserID: inviteeID}
			if err := tx.Create(&invite).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to schedule room",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(toRoomResponse(&room))
}

// StartRoom flips a scheduled room live. Routed behind RequireHost, so
// the room is already resolved and authorized.
func (h *RoomHandler) StartRoom(c *fiber.Ctx) error {
	room := c.Locals("room").(*model.Room)

	if room.IsActive {
		return c.JSON(toRoomResponse(room))
	}

	room.IsActive = true
	room.ExpiresAt = time.Now().Add(roomExpiry)
	if err := h.db.Save(room).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to start room",
		})
	}

	return c.JSON(toRoomResponse(room))
}

// JoinRoom resolves a code to a joinable room.
func (h *RoomHandler) JoinRoom(c *fiber.Ctx) error {
	var req JoinRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "code is required",
		})
	}

	var room model.Room
	err := h.db.Where("code = ? AND is_active = ?", req.Code, true).First(&room).Error
	if err == gorm.ErrRecordNotFound {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "room not found",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "database error",
		})
	}

	if time.Now().After(room.ExpiresAt) {
		return c.Status(fiber.StatusGone).JSON(fiber.Map{
			"error": "room has expired",
		})
	}

	return c.JSON(toRoomResponse(&room))
}

// GetRoom returns one room by code.
func (h *RoomHandler) GetRoom(c *fiber.Ctx) error {
	code := c.Params("code")

	var room model.Room
	err := h.db.Where("code = ?", code).First(&room).Error
	if err == gorm.ErrRecordNotFound {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "room not found",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "database error",
		})
	}

	return c.JSON(toRoomResponse(&room))
}

// UpcomingRooms lists future rooms the caller hosts or is invited to.
func (h *RoomHandler) UpcomingRooms(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	// No is_active filter: scheduled rooms are inactive until started
	// and still belong on the upcoming list.
	var rooms []model.Room
	err := h.db.
		Joins("LEFT JOIN room_invites ON room_invites.room_id = rooms.id").
		Where("rooms.scheduled_for IS NOT NULL AND rooms.scheduled_for > ?", time.Now()).
		Where("rooms.host_id = ? OR room_invites.user_id = ?", claims.UserID, claims.UserID).
		Group("rooms.id").
		Order("rooms.scheduled_for ASC").
		Find(&rooms).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "database error",
		})
	}

	out := make([]RoomResponse, 0, len(rooms))
	for i := range rooms {
		out = append(out, toRoomResponse(&rooms[i]))
	}
	return c.JSON(fiber.Map{"rooms": out})
}

// CancelRoom deletes a scheduled room. Host only.
func (h *RoomHandler) CancelRoom(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid room id",
		})
	}

	var room model.Room
	dbErr := h.db.First(&room, id).Error
	if dbErr == gorm.ErrRecordNotFound {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "room not found",
		})
	}
	if dbErr != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "database error",
		})
	}

	if room.HostID != claims.UserID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "only the host can cancel a room",
		})
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", room.ID).Delete(&model.RoomInvite{}).Error; err != nil {
			return err
		}
		return tx.Delete(&room).Error
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to cancel room",
		})
	}

	return c.JSON(fiber.Map{"message": "room cancelled"})
}

// RoomMessages returns the Redis-backed chat history of a room.
func (h *RoomHandler) RoomMessages(c *fiber.Ctx) error {
	code := c.Params("code")
	if h.cache == nil {
		return c.JSON(fiber.Map{"messages": []cache.RoomMessage{}})
	}

	// count<=0 requests the full history.
	count := int64(c.QueryInt("count", 100))
	var messages []cache.RoomMessage
	var err error
	if count <= 0 {
		messages, err = h.cache.GetMessages(c.Context(), code)
	} else {
		messages, err = h.cache.GetRecentMessages(c.Context(), code, count)
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load messages",
		})
	}
	if messages == nil {
		messages = []cache.RoomMessage{}
	}
	return c.JSON(fiber.Map{"messages": messages})
}

// sanitizeString trims and strips characters that have no business in
// user-facing titles.
func sanitizeString(s string) string {
	s = strings.TrimSpace(s)
	for _, char := range []string{"<", ">", "\"", "\\", "|"} {
		s = strings.ReplaceAll(s, char, "")
	}
	return s
}
