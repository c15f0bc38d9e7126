package db

import (
	"time"
)

// Attempt status values as stored in conversion_history
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// AttemptRecord is one completed conversion attempt. Records are written
// once and never updated.
type AttemptRecord struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp  time.Time `gorm:"not null;index:idx_history_timestamp" json:"timestamp"`
	InputFile  string    `gorm:"not null" json:"input_file"`
	OutputFile *string   `json:"output_file"`
	Operation  string    `gorm:"column:operation_type;not null" json:"operation_type"`
	Format     string    `gorm:"not null" json:"format"`
	Quality    int       `json:"quality"`
	Status     string    `gorm:"not null;index:idx_history_status" json:"status"` // success, error
	Message    string    `json:"message"`
	SizeBefore *int64    `gorm:"column:file_size_before" json:"file_size_before"`
	SizeAfter  *int64    `gorm:"column:file_size_after" json:"file_size_after"`
}

func (AttemptRecord) TableName() string { return "conversion_history" }

// Setting is a single user preference stored as text.
type Setting struct {
	Key   string `gorm:"primaryKey" json:"key"`
	Value string `json:"value"`
}

func (Setting) TableName() string { return "settings" }

// Stats is derived from the full history on demand.
type Stats struct {
	Total       int64            `json:"total" yaml:"total"`
	Success     int64            `json:"success" yaml:"success"`
	Error       int64            `json:"error" yaml:"error"`
	SuccessRate float64          `json:"success_rate" yaml:"success_rate"` // percent
	ByOperation map[string]int64 `json:"by_operation" yaml:"by_operation"`
	ByFormat    map[string]int64 `json:"by_format" yaml:"by_format"`
}
