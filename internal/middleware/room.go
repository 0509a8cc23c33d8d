package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"studyroom-backend/internal/auth"
	"studyroom-backend/internal/model"
)

// RoomMiddleware guards room-scoped REST routes.
type RoomMiddleware struct {
	db *gorm.DB
}

// NewRoomMiddleware creates a RoomMiddleware.
func NewRoomMiddleware(db *gorm.DB) *RoomMiddleware {
	return &RoomMiddleware{db: db}
}

func (m *RoomMiddleware) findRoom(c *fiber.Ctx) (*model.Room, error) {
	code := c.Params("code")
	if code == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "room code is required")
	}

	var room model.Room
	if err := m.db.Where("code = ?", code).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "room not found")
		}
		return nil, err
	}
	return &room, nil
}

// RequireLiveRoom resolves :code to an active, unexpired room and
// stores it in the request context.
func (m *RoomMiddleware) RequireLiveRoom() fiber.Handler {
	return func(c *fiber.Ctx) error {
		room, err := m.findRoom(c)
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "database error",
			})
		}

		if !room.IsActive || time.Now().After(room.ExpiresAt) {
			return c.Status(fiber.StatusGone).JSON(fiber.Map{
				"error": "room has expired",
			})
		}

		c.Locals("room", room)
		return c.Next()
	}
}

// RequireHost additionally requires the caller to be the room's host
// per the durable record.
func (m *RoomMiddleware) RequireHost() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := auth.GetClaimsFromContext(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		room, err := m.findRoom(c)
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "database error",
			})
		}

		if room.HostID != claims.UserID {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "host permission required",
			})
		}

		c.Locals("room", room)
		return c.Next()
	}
}
