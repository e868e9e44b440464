package handler

import (
	"errors"
	"net/http"
	"strconv"
)

func formatUploadLimit(bytes int64) string {
	const mb = 1024 * 1024
	if bytes <= 0 {
		return "0MB"
	}
	value := bytes / mb
	if value <= 0 {
		value = 1
	}
	return strconv.FormatInt(value, 10) + "MB"
}

// uploadBodyLimit leaves room for the multipart envelope around the file.
func uploadBodyLimit(maxFileSize int64) int64 {
	const envelope = 1024 * 1024
	if maxFileSize <= 0 {
		return 0
	}
	return maxFileSize + envelope
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
