package db

import (
	"gorm.io/gorm"
)

// ImportStatus is the outcome of one extraction attempt.
type ImportStatus string

const (
	StatusImported   ImportStatus = "imported"
	StatusNoPackages ImportStatus = "no_packages"
	StatusFailed     ImportStatus = "failed"
)

// ImportRecord is one archive the relay tried to extract.
type ImportRecord struct {
	gorm.Model
	ArchiveName  string       `json:"archiveName"`
	ArchiveSHA1  string       `gorm:"index" json:"archiveSha1"`
	ProductID    string       `gorm:"index" json:"productId"`
	Subfolder    string       `json:"subfolder,omitempty"`
	PackageCount int          `json:"packageCount"`
	Status       ImportStatus `json:"status"`
	Message      string       `json:"message,omitempty"`
}
