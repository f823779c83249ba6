package model

import "time"

// Document is the metadata row for a file in the document store.
type Document struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Filename   string    `gorm:"size:255;not null;uniqueIndex" json:"filename"`
	Extension  string    `gorm:"size:16;not null" json:"extension"`
	Size       int64     `gorm:"not null" json:"size"`
	SHA256     string    `gorm:"column:sha256;size:64" json:"sha256"`
	UploadedAt time.Time `gorm:"index" json:"uploaded_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DocumentEvent is emitted once per successful upload.
type DocumentEvent struct {
	EventID    string    `json:"event_id"`
	Filename   string    `json:"filename"`
	Extension  string    `json:"extension"`
	Size       int64     `json:"size"`
	SHA256     string    `json:"sha256"`
	UploadedAt time.Time `json:"uploaded_at"`
}

func (e DocumentEvent) ToDocument() *Document {
	return &Document{
		Filename:   e.Filename,
		Extension:  e.Extension,
		Size:       e.Size,
		SHA256:     e.SHA256,
		UploadedAt: e.UploadedAt,
	}
}
