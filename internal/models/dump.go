package models

import "time"

// DumpInfo describes an uploaded dump file.
type DumpInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
	Compression string    `json:"compression,omitempty"` // gzip, zstd, lz4, bzip2 or empty
}
