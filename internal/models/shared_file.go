package models

import "time"

// SharedFile records a file uploaded into a whiteboard session.
type SharedFile struct {
	BaseModel

	SessionID    string `gorm:"index;size:128;not null" json:"session_id"`
	Key          string `gorm:"uniqueIndex;size:512;not null" json:"key"`
	FileName     string `gorm:"size:512;not null" json:"file_name"`
	ContentType  string `gorm:"size:255" json:"content_type"`
	Size         int64  `json:"size"`
	UploaderID   string `gorm:"size:128" json:"uploader_id,omitempty"`
	UploaderName string `gorm:"size:128" json:"uploader"`
	URL          string `gorm:"size:1024" json:"file_url"`
}

// Age reports how long ago the file was shared.
func (f SharedFile) Age(now time.Time) time.Duration {
	return now.Sub(f.CreatedAt)
}
