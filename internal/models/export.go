package models

import "time"

// ExportInfo describes a finished export on disk. Exports stay available
// after their session is gone, until deleted or pruned by age.
type ExportInfo struct {
	SessionID  string    `json:"sessionId"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
	Directory  bool      `json:"directory,omitempty"` // bleve indexes
}
