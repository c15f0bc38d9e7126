package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DefaultHistoryLimit is used when List is called with a non-positive limit.
const DefaultHistoryLimit = 100

// Ledger is the append-only history of conversion attempts.
type Ledger struct {
	conn *gorm.DB
	now  func() time.Time
}

func (l *Ledger) clock() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}

// Append inserts rec, assigning its ID and timestamp. Any caller-provided
// ID or timestamp is overwritten.
func (l *Ledger) Append(ctx context.Context, rec *AttemptRecord) error {
	if rec.Status != StatusSuccess && rec.Status != StatusError {
		return fmt.Errorf("invalid attempt status %q", rec.Status)
	}
	rec.ID = 0
	rec.Timestamp = l.clock()
	if err := l.conn.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// List returns up to limit records, newest first.
func (l *Ledger) List(ctx context.Context, limit int) ([]AttemptRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	records := []AttemptRecord{}
	err := l.conn.WithContext(ctx).
		Order("timestamp desc, id desc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return records, nil
}

// Clear irreversibly deletes every record.
func (l *Ledger) Clear(ctx context.Context) error {
	err := l.conn.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&AttemptRecord{}).Error
	if err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// Stats scans the whole history. Grouping keys are the stored strings as is.
func (l *Ledger) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByOperation: map[string]int64{},
		ByFormat:    map[string]int64{},
	}

	rows, err := l.conn.WithContext(ctx).
		Model(&AttemptRecord{}).
		Select("operation_type", "format", "status").
		Rows()
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var op, format, status string
		if err := rows.Scan(&op, &format, &status); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		stats.Total++
		if status == StatusSuccess {
			stats.Success++
		} else {
			stats.Error++
		}
		stats.ByOperation[op]++
		stats.ByFormat[format]++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Success) / float64(stats.Total) * 100
	}
	return stats, nil
}
