package recorder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/mindstream-labs/mindstream/internal/types"
)

// metaFile is the bit-exact compatibility surface of a session directory.
type metaFile struct {
	SessionID      string             `json:"session_id"`
	SessionName    string             `json:"session_name"`
	StartTime      string             `json:"start_time"`
	EndTime        string             `json:"end_time,omitempty"`
	DurationS      float64            `json:"duration_s"`
	Device         metaDevice         `json:"device"`
	Sensors        []types.SensorKind `json:"sensors"`
	SamplingRates  map[string]float64 `json:"sampling_rates"`
	Files          []metaFileEntry    `json:"files"`
	QualityMetrics map[string]float64 `json:"quality_metrics,omitempty"`
	Notes          string             `json:"notes,omitempty"`
	Tags           []string           `json:"tags"`
}

type metaDevice struct {
	ID       string   `json:"id"`
	Firmware string   `json:"firmware,omitempty"`
	Battery  *float64 `json:"battery,omitempty"`
}

type metaFileEntry struct {
	Filename    string           `json:"filename"`
	Sensor      types.SensorKind `json:"sensor_type"`
	DataType    types.DataType   `json:"data_type"`
	SizeBytes   int64            `json:"size_bytes"`
	SampleCount int64            `json:"sample_count"`
}

const metaTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// writeMeta renders meta.json. Called with nil files at start, and again at
// seal with the full file list and quality summaries.
func writeMeta(session *Session, files []FileEntry, quality map[string]float64) error {
	m := metaFile{
		SessionID:   session.ID,
		SessionName: session.Name,
		StartTime:   session.StartTime.Format(metaTimeLayout),
		Device:      metaDevice{ID: session.DeviceID},
		SamplingRates: map[string]float64{
			"EEG": types.RateEEG,
			"PPG": types.RatePPG,
			"ACC": types.RateACC,
		},
		Files:          []metaFileEntry{},
		QualityMetrics: quality,
		Notes:          session.Notes,
		Tags:           session.Tags,
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if session.EndTime != nil {
		m.EndTime = session.EndTime.Format(metaTimeLayout)
		m.DurationS = session.EndTime.Sub(session.StartTime).Seconds()
	}
	seen := make(map[types.SensorKind]bool)
	for _, f := range files {
		if !seen[f.Sensor] {
			seen[f.Sensor] = true
			m.Sensors = append(m.Sensors, f.Sensor)
		}
		m.Files = append(m.Files, metaFileEntry{
			Filename:    f.Filename,
			Sensor:      f.Sensor,
			DataType:    f.DataType,
			SizeBytes:   f.SizeBytes,
			SampleCount: f.SampleCount,
		})
	}
	if m.Sensors == nil {
		m.Sensors = []types.SensorKind{}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(session.RootDir, "meta.json"), data, 0o644)
}

func parseMetaTime(s string) (time.Time, error) {
	return time.Parse(metaTimeLayout, s)
}

// ReadMeta parses a session directory's meta.json back into a session record.
func ReadMeta(rootDir string) (*Session, error) {
	data, err := os.ReadFile(filepath.Join(rootDir, "meta.json"))
	if err != nil {
		return nil, err
	}
	var m metaFile
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	s := &Session{
		ID:      m.SessionID,
		Name:    m.SessionName,
		Notes:   m.Notes,
		Tags:    m.Tags,
		RootDir: rootDir,
	}
	s.DeviceID = m.Device.ID
	if t, err := parseMetaTime(m.StartTime); err == nil {
		s.StartTime = t
	}
	if m.EndTime != "" {
		if t, err := parseMetaTime(m.EndTime); err == nil {
			s.EndTime = &t
		}
	}
	return s, nil
}
