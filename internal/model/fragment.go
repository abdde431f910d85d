package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Fragment is an immutable slice of a Source's text stored with its embedding.
// (SourceID, SnippetHash) is unique; the hash stands in for the snippet itself
// because TEXT columns cannot carry a unique index on every dialect.
type Fragment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SourceID    uint      `gorm:"not null;uniqueIndex:idx_fragments_source_snippet,priority:1" json:"source_id"`
	SnippetHash string    `gorm:"size:64;not null;uniqueIndex:idx_fragments_source_snippet,priority:2" json:"-"`
	Ordinal     int       `gorm:"not null;default:0" json:"ordinal"`
	Snippet     string    `gorm:"type:text;not null" json:"snippet"`
	Embedding   Vector    `gorm:"type:text;not null" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Fragment) TableName() string { return "fragments" }

// HashSnippet returns the hex SHA-256 of snippet, the indexed half of the dedup key.
func HashSnippet(snippet string) string {
	sum := sha256.Sum256([]byte(snippet))
	return hex.EncodeToString(sum[:])
}
