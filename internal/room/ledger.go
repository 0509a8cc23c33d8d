package room

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"studyroom-backend/internal/model"
)

// roomExpiry matches the ledger's row lifetime for ad-hoc rooms.
const roomExpiry = 6 * time.Hour

// Ledger is the durable room record outside the engine's memory. It is
// the tie-breaker for authorization that must survive a process restart:
// end_room and transfer_host check the ledger's host field, never the
// in-memory copy alone.
type Ledger interface {
	// Find returns the room record for a code, or nil if none exists.
	Find(ctx context.Context, code string) (*model.Room, error)
	// Save creates or updates a room record.
	Save(ctx context.Context, room *model.Room) error
	// Delete removes the room record and its invites.
	Delete(ctx context.Context, code string) error
}

// GormLedger is the Postgres-backed Ledger.
type GormLedger struct {
	db *gorm.DB
}

// NewGormLedger creates a GormLedger.
func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

// Find returns the room record for a code, or nil if none exists.
func (l *GormLedger) Find(ctx context.Context, code string) (*model.Room, error) {
	var room model.Room
	err := l.db.WithContext(ctx).Where("code = ?", code).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &room, nil
}

// Save creates or updates a room record.
func (l *GormLedger) Save(ctx context.Context, room *model.Room) error {
	return l.db.WithContext(ctx).Save(room).Error
}

// Delete removes the room record and its invites.
func (l *GormLedger) Delete(ctx context.Context, code string) error {
	var room model.Room
	err := l.db.WithContext(ctx).Where("code = ?", code).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	if err := l.db.WithContext(ctx).Where("room_id = ?", room.ID).Delete(&model.RoomInvite{}).Error; err != nil {
		return err
	}
	return l.db.WithContext(ctx).Delete(&room).Error
}
