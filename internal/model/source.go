package model

import "time"

// Source is a document identified by a stable key, usually its canonical path.
type Source struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:doc_key;size:512;not null;uniqueIndex" json:"key"`
	CreatedAt time.Time `json:"created_at"`

	Fragments []Fragment `gorm:"foreignKey:SourceID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Source) TableName() string { return "sources" }

// SourceSummary is a Source with its stored fragment count.
type SourceSummary struct {
	ID            uint      `json:"id"`
	Key           string    `gorm:"column:doc_key" json:"key"`
	FragmentCount int64     `json:"fragment_count"`
	CreatedAt     time.Time `json:"created_at"`
}
