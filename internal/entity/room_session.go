package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RoomSession is one shopper visualization attempt. Storage keys, once set,
// are immutable: they outlive any signed URL generated from them, so a
// session longer than a URL's validity window still resolves. Only keys are
// persisted - URLs are re-signed on every read.
type RoomSession struct {
	ID       uuid.UUID `json:"id"`
	TenantID string    `json:"tenant_id"`

	OriginalRoomImageKey string  `json:"original_room_image_key"`
	CleanedRoomImageKey  *string `json:"cleaned_room_image_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func NewRoomSession(tenantID, originalKey string, now time.Time) *RoomSession {
	return &RoomSession{
		ID:                   uuid.New(),
		TenantID:             tenantID,
		OriginalRoomImageKey: originalKey,
		CreatedAt:            now,
	}
}

// SetCleanedKey records the object-removed variant. The original key is
// never touched, so cleanup can always be redone from it.
func (s *RoomSession) SetCleanedKey(key string) error {
	if key == "" {
		return fmt.Errorf("room session %s: cleaned key must not be empty", s.ID)
	}
	s.CleanedRoomImageKey = &key
	return nil
}

// RenderSourceKey is the room image a render should use: the cleaned
// variant when present, the original otherwise.
func (s *RoomSession) RenderSourceKey() string {
	if s.CleanedRoomImageKey != nil {
		return *s.CleanedRoomImageKey
	}
	return s.OriginalRoomImageKey
}
