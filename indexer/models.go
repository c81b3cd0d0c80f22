package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRecord is one published event. ID is monotonically increasing and
// serves as the pagination cursor.
type EventRecord struct {
	ID           uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID      uuid.UUID         `gorm:"type:uuid;uniqueIndex" json:"eventId"`
	Contract     string            `gorm:"index;not null" json:"contract"`
	Height       uint64            `gorm:"index;not null" json:"height"`
	InvocationID string            `gorm:"index;not null" json:"invocationId"`
	Position     int               `gorm:"not null" json:"index"`
	Type         string            `gorm:"index;not null" json:"type"`
	Attributes   map[string]string `gorm:"serializer:json" json:"attributes"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// TableName pins the table name independent of gorm's naming strategy.
func (EventRecord) TableName() string { return "escrow_events" }

// AutoMigrate creates or updates the index schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{})
}
