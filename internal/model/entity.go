package model

import (
	"time"
)

// User account record. Created on first Google sign-in.
type User struct {
	ID         string  `gorm:"type:varchar(64);primaryKey" json:"id"`
	Email      string  `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Nickname   string  `gorm:"type:varchar(100);not null" json:"nickname"`
	ProfileImg *string `gorm:"type:text" json:"profile_img,omitempty"`
	Provider   *string `gorm:"type:varchar(50)" json:"provider,omitempty"`
	ProviderID *string `gorm:"type:varchar(255)" json:"provider_id,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// Room is the durable ledger record for a study room. The coordination
// engine owns the live in-memory state; this row carries what must
// survive a process restart: the code, the current host, and the
// schedule. Deleted when the room ends.
type Room struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Code         string     `gorm:"type:varchar(16);uniqueIndex;not null" json:"code"`
	HostID       string     `gorm:"type:varchar(64);not null" json:"host_id"`
	Title        string     `gorm:"type:varchar(200)" json:"title"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	DurationMin  int        `gorm:"default:30" json:"duration"` // minutes
	IsActive     bool       `gorm:"default:true" json:"is_active"`
	ExpiresAt    time.Time  `json:"expires_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Host    User         `gorm:"foreignKey:HostID" json:"host,omitempty"`
	Invites []RoomInvite `gorm:"foreignKey:RoomID" json:"invites,omitempty"`
}

func (Room) TableName() string {
	return "rooms"
}

// RoomInvite links an invited user to a scheduled room.
type RoomInvite struct {
	ID     int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID int64  `gorm:"not null;index" json:"room_id"`
	UserID string `gorm:"type:varchar(64);not null;index" json:"user_id"`

	// Relations
	Room Room `gorm:"foreignKey:RoomID" json:"room,omitempty"`
	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (RoomInvite) TableName() string {
	return "room_invites"
}
