package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Well-known settings keys
const (
	KeyEnableLogging     = "enable_logging"
	KeyUseConstantOutput = "use_constant_output"
	KeyOutputFolder      = "output_folder"
	KeyQuality           = "quality"
	KeySaveHistory       = "save_history"
	KeyDeleteOriginal    = "delete_original"
	KeyAutoOpen          = "auto_open"
	KeyShowDetails       = "show_details"
	KeyTheme             = "theme"
)

// Settings is a string key/value store with typed, never-failing readers.
type Settings struct {
	conn *gorm.DB
}

// Set stores value under key, replacing any existing value.
func (s *Settings) Set(ctx context.Context, key string, value any) error {
	if key == "" {
		return errors.New("settings key must not be empty")
	}
	row := Setting{Key: key, Value: fmt.Sprint(value)}
	err := s.conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Get returns the raw value and whether the key exists.
func (s *Settings) Get(ctx context.Context, key string) (string, bool, error) {
	var row Setting
	err := s.conn.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return row.Value, true, nil
}

// GetString returns the stored value or def.
func (s *Settings) GetString(ctx context.Context, key, def string) string {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return def
	}
	return v
}

// GetBool parses the stored value as a boolean, falling back to def.
func (s *Settings) GetBool(ctx context.Context, key string, def bool) bool {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// GetInt parses the stored value as an integer, falling back to def.
func (s *Settings) GetInt(ctx context.Context, key string, def int) int {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return i
}

// All returns every stored setting.
func (s *Settings) All(ctx context.Context) (map[string]string, error) {
	var rows []Setting
	if err := s.conn.WithContext(ctx).Order("key").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// Clear removes every setting.
func (s *Settings) Clear(ctx context.Context) error {
	err := s.conn.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&Setting{}).Error
	if err != nil {
		return fmt.Errorf("clear settings: %w", err)
	}
	return nil
}
