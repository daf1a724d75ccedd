package models

// SessionStatus represents the status of a mining session.
type SessionStatus string

const (
	SessionStatusPending SessionStatus = "pending"
	SessionStatusReading SessionStatus = "reading"
	SessionStatusStopped SessionStatus = "stopped"
	SessionStatusDone    SessionStatus = "done"
	SessionStatusFailed  SessionStatus = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusStopped || s == SessionStatusDone || s == SessionStatusFailed
}

// MiningSession is the externally visible state of one scan over one dump.
type MiningSession struct {
	ID               string         `json:"id"`
	Path             string         `json:"path"`
	Handler          string         `json:"handler,omitempty"`
	Status           SessionStatus  `json:"status"`
	Progress         float64        `json:"progress"` // 0-100
	LinesRead        int            `json:"linesRead"`
	Candidates       int            `json:"candidates"`
	Dispatched       int            `json:"dispatched"`
	ErrorCount       int            `json:"errorCount"`
	BytesRead        int64          `json:"bytesRead"`
	TotalBytes       int64          `json:"totalBytes,omitempty"`
	StartTime        int64          `json:"startTime,omitempty"` // Unix ms
	EndTime          int64          `json:"endTime,omitempty"`   // Unix ms
	ProcessingTimeMs int64          `json:"processingTimeMs,omitempty"`
	Failure          string         `json:"failure,omitempty"`
	Output           string         `json:"output,omitempty"` // export path
	Errors           []ParseError   `json:"errors,omitempty"`
	Snippets         *SnippetReport `json:"snippets,omitempty"`
}

// SnippetReport summarises the code snippets seen during a scan.
type SnippetReport struct {
	Posts          int `json:"posts"`
	PostsWithCode  int `json:"postsWithCode"`
	Snippets       int `json:"snippets"`
	UniqueSnippets int `json:"uniqueSnippets"`
}

// ParseError represents a line-local failure encountered during mining.
type ParseError struct {
	Line    int    `json:"line"`
	Content string `json:"content"`
	Reason  string `json:"reason"`
}

// MiningRequest asks for a background scan of one dump, named either by Path
// or by the DumpID of an uploaded dump. Format and Compress select the sink
// of the export handler.
type MiningRequest struct {
	Path     string       `json:"path"`
	DumpID   string       `json:"dumpId,omitempty"`
	Handler  string       `json:"handler,omitempty"` // count, titles, snippets or export
	Format   string       `json:"format,omitempty"`
	Compress bool         `json:"compress,omitempty"`
	Rules    *FilterRules `json:"rules,omitempty"`
	Limit    int          `json:"limit,omitempty"`
}

// NewMiningSession creates a new MiningSession in pending status.
func NewMiningSession(id, path string) *MiningSession {
	return &MiningSession{
		ID:       id,
		Path:     path,
		Status:   SessionStatusPending,
		Progress: 0,
		Errors:   make([]ParseError, 0),
	}
}
