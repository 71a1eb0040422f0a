package recorder

import (
	"time"

	"github.com/mindstream-labs/mindstream/internal/types"
)

// SessionStatus is the session lifecycle state in the store.
type SessionStatus string

const (
	StatusRecording  SessionStatus = "recording"
	StatusCompleted  SessionStatus = "completed"
	StatusProcessing SessionStatus = "processing"
	StatusFailed     SessionStatus = "failed"
)

// Session is one contiguous recorded interval with one device. Sealed
// sessions are never mutated.
type Session struct {
	ID            string        `json:"session_id"`
	Name          string        `json:"session_name"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       *time.Time    `json:"end_time,omitempty"`
	Status        SessionStatus `json:"status"`
	ParticipantID string        `json:"participant_id,omitempty"`
	Condition     string        `json:"condition,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	Tags          []string      `json:"tags"`
	DeviceID      string        `json:"device_id"`
	RootDir       string        `json:"root_dir"`
}

// FileEntry describes one file inside a session directory.
type FileEntry struct {
	SessionID    string           `json:"session_id"`
	Filename     string           `json:"filename"`
	RelativePath string           `json:"relative_path"`
	Sensor       types.SensorKind `json:"sensor_type"`
	DataType     types.DataType   `json:"data_type"`
	SizeBytes    int64            `json:"size_bytes"`
	SampleCount  int64            `json:"sample_count,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Summary is returned by stop and by repeated stops on a sealed session.
type Summary struct {
	SessionID    string                     `json:"session_id"`
	Status       SessionStatus              `json:"status"`
	DurationS    float64                    `json:"duration_s"`
	FileCount    int                        `json:"file_count"`
	TotalBytes   int64                      `json:"total_bytes"`
	SampleCounts map[types.SensorKind]int64 `json:"sample_counts"`
}

// ExportStatus tracks an asynchronous export job.
type ExportStatus string

const (
	ExportPending   ExportStatus = "pending"
	ExportRunning   ExportStatus = "running"
	ExportCompleted ExportStatus = "completed"
	ExportFailed    ExportStatus = "failed"
)

// Export is one export job and its artifact.
type Export struct {
	ID          string       `json:"export_id"`
	SessionID   string       `json:"session_id"`
	Status      ExportStatus `json:"status"`
	Format      string       `json:"format"`
	FilePath    string       `json:"file_path,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// ExportRequest selects what to export. StartTS/EndTS bound the record
// timestamps; zero means unbounded on that side.
type ExportRequest struct {
	SessionID string             `json:"session_id"`
	Format    string             `json:"format"`
	Sensors   []types.SensorKind `json:"sensors"`
	DataTypes []types.DataType   `json:"data_types"`
	StartTS   float64            `json:"start_ts,omitempty"`
	EndTS     float64            `json:"end_ts,omitempty"`
}

// ListFilter narrows and pages ListSessions.
type ListFilter struct {
	Status        SessionStatus
	ParticipantID string
	Search        string
	Offset        int
	Limit         int
}

// Repository persists sessions, their files and export jobs. Implemented by
// the gorm store.
type Repository interface {
	SaveSession(s *Session) error
	UpdateSession(s *Session) error
	GetSession(id string) (*Session, error)
	ListSessions(filter ListFilter) ([]Session, int64, error)
	DeleteSession(id string) error

	AddFile(f *FileEntry) error
	ListFiles(sessionID string) ([]FileEntry, error)

	// FailOpenSessions marks any session still in recording state as failed.
	// Called once at startup for crash recovery.
	FailOpenSessions() (int64, error)

	SaveExport(e *Export) error
	UpdateExport(e *Export) error
	GetExport(id string) (*Export, error)
}
