package model

type SourceKind string

const (
	SourceKindFile SourceKind = "file"
	SourceKindNote SourceKind = "note"
)

type SourceStatus string

const (
	SourceStatusPending    SourceStatus = "pending"
	SourceStatusProcessing SourceStatus = "processing"
	SourceStatusCompleted  SourceStatus = "completed"
	SourceStatusFailed     SourceStatus = "failed"
)

// Terminal reports whether the status only changes through re-ingestion.
func (s SourceStatus) Terminal() bool {
	return s == SourceStatusCompleted || s == SourceStatusFailed
}

type Source struct {
	ID           string       `json:"id"`
	CollectionID string       `json:"collection_id"`
	OwnerID      string       `json:"owner_id"`
	Kind         SourceKind   `json:"kind"`
	FileName     string       `json:"file_name"`
	FileSize     int64        `json:"file_size"`
	MimeType     string       `json:"mime_type"`
	StoragePath  string       `json:"storage_path,omitempty"`
	ContentText  string       `json:"-"`
	Status       SourceStatus `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Ctime        int64        `json:"ctime"`
	Mtime        int64        `json:"mtime"`
}
