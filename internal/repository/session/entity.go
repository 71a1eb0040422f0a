package session

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/mindstream-labs/mindstream/internal/domains/recorder"
	"github.com/mindstream-labs/mindstream/internal/types"
)

// TagList stores the session tags as a JSON column.
type TagList []string

// Value implements driver.Valuer for GORM.
func (t TagList) Value() (driver.Value, error) {
	if len(t) == 0 {
		return "[]", nil
	}
	return json.Marshal(t)
}

// Scan implements sql.Scanner for GORM.
func (t *TagList) Scan(value interface{}) error {
	if value == nil {
		*t = TagList{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, t)
	case string:
		return json.Unmarshal([]byte(v), t)
	default:
		*t = TagList{}
		return nil
	}
}

// SessionEntity is the sessions row.
type SessionEntity struct {
	ID            string     `gorm:"primaryKey;column:id"`
	Name          string     `gorm:"column:name"`
	StartTime     time.Time  `gorm:"column:start_time;index"`
	EndTime       *time.Time `gorm:"column:end_time"`
	Status        string     `gorm:"column:status;index"`
	DeviceID      string     `gorm:"column:device_id"`
	RootDir       string     `gorm:"column:root_dir"`
	ParticipantID string     `gorm:"column:participant_id;index"`
	Condition     string     `gorm:"column:condition"`
	Notes         string     `gorm:"column:notes"`
	Tags          TagList    `gorm:"column:tags_json;type:text"`
}

func (SessionEntity) TableName() string { return "sessions" }

// FileEntity is the session_files row.
type FileEntity struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	SessionID   string    `gorm:"column:session_id;index"`
	Filename    string    `gorm:"column:filename"`
	Sensor      string    `gorm:"column:sensor"`
	DataType    string    `gorm:"column:data_type"`
	Size        int64     `gorm:"column:size"`
	SampleCount int64     `gorm:"column:sample_count"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (FileEntity) TableName() string { return "session_files" }

// ExportEntity is the exports row.
type ExportEntity struct {
	ID          string     `gorm:"primaryKey;column:id"`
	SessionID   string     `gorm:"column:session_id;index"`
	Status      string     `gorm:"column:status"`
	Format      string     `gorm:"column:format"`
	FilePath    string     `gorm:"column:file_path"`
	Error       string     `gorm:"column:error"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
}

func (ExportEntity) TableName() string { return "exports" }

func sessionToEntity(s *recorder.Session) SessionEntity {
	return SessionEntity{
		ID:            s.ID,
		Name:          s.Name,
		StartTime:     s.StartTime,
		EndTime:       s.EndTime,
		Status:        string(s.Status),
		DeviceID:      s.DeviceID,
		RootDir:       s.RootDir,
		ParticipantID: s.ParticipantID,
		Condition:     s.Condition,
		Notes:         s.Notes,
		Tags:          TagList(s.Tags),
	}
}

func (e *SessionEntity) toDomain() recorder.Session {
	return recorder.Session{
		ID:            e.ID,
		Name:          e.Name,
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
		Status:        recorder.SessionStatus(e.Status),
		DeviceID:      e.DeviceID,
		RootDir:       e.RootDir,
		ParticipantID: e.ParticipantID,
		Condition:     e.Condition,
		Notes:         e.Notes,
		Tags:          []string(e.Tags),
	}
}

func fileToEntity(f *recorder.FileEntry) FileEntity {
	return FileEntity{
		SessionID:   f.SessionID,
		Filename:    f.Filename,
		Sensor:      string(f.Sensor),
		DataType:    string(f.DataType),
		Size:        f.SizeBytes,
		SampleCount: f.SampleCount,
		CreatedAt:   f.CreatedAt,
	}
}

func (e *FileEntity) toDomain() recorder.FileEntry {
	return recorder.FileEntry{
		SessionID:    e.SessionID,
		Filename:     e.Filename,
		RelativePath: e.Filename,
		Sensor:       types.SensorKind(e.Sensor),
		DataType:     types.DataType(e.DataType),
		SizeBytes:    e.Size,
		SampleCount:  e.SampleCount,
		CreatedAt:    e.CreatedAt,
	}
}

func exportToEntity(x *recorder.Export) ExportEntity {
	return ExportEntity{
		ID:          x.ID,
		SessionID:   x.SessionID,
		Status:      string(x.Status),
		Format:      x.Format,
		FilePath:    x.FilePath,
		Error:       x.Error,
		CreatedAt:   x.CreatedAt,
		CompletedAt: x.CompletedAt,
	}
}

func (e *ExportEntity) toDomain() recorder.Export {
	return recorder.Export{
		ID:          e.ID,
		SessionID:   e.SessionID,
		Status:      recorder.ExportStatus(e.Status),
		Format:      e.Format,
		FilePath:    e.FilePath,
		Error:       e.Error,
		CreatedAt:   e.CreatedAt,
		CompletedAt: e.CompletedAt,
	}
}
