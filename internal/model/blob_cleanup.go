package model

type BlobCleanupTask struct {
	ID          string `json:"id"`
	StoragePath string `json:"storage_path"`
	Reason      string `json:"reason"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"last_error"`
	Ctime       int64  `json:"ctime"`
	Mtime       int64  `json:"mtime"`
}
