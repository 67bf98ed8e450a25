package model

import "time"

// MessageType identifies what a feed entry carries
type MessageType string

const (
	TypeText       MessageType = "text"
	TypeFile       MessageType = "file"
	TypeAIResponse MessageType = "ai_response"
)

// Valid reports whether t is one of the known message types
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeFile, TypeAIResponse:
		return true
	}
	return false
}

// Message represents one entry of the shared feed
type Message struct {
	ID        int64       `json:"id"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	DeviceID  string      `json:"device_id"`
	Timestamp time.Time   `json:"timestamp"`

	// file メッセージのみ設定される
	*FileInfo
}

// FileInfo is the metadata of an uploaded file. The bytes live elsewhere.
type FileInfo struct {
	OriginalName string `json:"original_name,omitempty"`
	FileSize     int64  `json:"file_size,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	StorageKey   string `json:"storage_key,omitempty"`
}

// SameVersion reports whether two messages have the same id and timestamp
func (m Message) SameVersion(o Message) bool {
	return m.ID == o.ID && m.Timestamp.Equal(o.Timestamp)
}

// ClearStats summarizes a clear-all operation
type ClearStats struct {
	DeletedMessages int64 `json:"deletedMessages"`
	DeletedFiles    int64 `json:"deletedFiles"`
	DeletedFileSize int64 `json:"deletedFileSize"`
}
