package db

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// History records extraction outcomes.
type History struct {
	db *gorm.DB
}

// NewHistory wraps an opened database.
func NewHistory(conn *gorm.DB) *History {
	return &History{db: conn}
}

// Record stores one outcome.
func (h *History) Record(rec ImportRecord) error {
	if err := h.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to save import record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (h *History) Recent(limit int) ([]ImportRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []ImportRecord
	if err := h.db.Order("id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query import history: %w", err)
	}
	return records, nil
}

// Imported reports whether an archive with this SHA-1 was already imported
// successfully.
func (h *History) Imported(sha1 string) (bool, error) {
	var rec ImportRecord
	err := h.db.Where("archive_sha1 = ? AND status = ?", sha1, StatusImported).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query import history: %w", err)
	}
	return true, nil
}

// Close releases the underlying connection.
func (h *History) Close() error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
