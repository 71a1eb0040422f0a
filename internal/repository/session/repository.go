package session

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/mindstream-labs/mindstream/internal/domains/recorder"
)

// GormSessionRepo implements recorder.Repository over the local store.
type GormSessionRepo struct {
	db *gorm.DB
}

func NewGormSessionRepo(db *gorm.DB) *GormSessionRepo {
	return &GormSessionRepo{db: db}
}

func (r *GormSessionRepo) SaveSession(s *recorder.Session) error {
	entity := sessionToEntity(s)
	return r.db.Create(&entity).Error
}

func (r *GormSessionRepo) UpdateSession(s *recorder.Session) error {
	entity := sessionToEntity(s)
	return r.db.Save(&entity).Error
}

func (r *GormSessionRepo) GetSession(id string) (*recorder.Session, error) {
	var entity SessionEntity
	if err := r.db.First(&entity, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session %s not found", id)
		}
		return nil, err
	}
	s := entity.toDomain()
	return &s, nil
}

func (r *GormSessionRepo) ListSessions(filter recorder.ListFilter) ([]recorder.Session, int64, error) {
	q := r.db.Model(&SessionEntity{})
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.ParticipantID != "" {
		q = q.Where("participant_id = ?", filter.ParticipantID)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		q = q.Where("name LIKE ? OR notes LIKE ?", like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var entities []SessionEntity
	if err := q.Order("start_time desc").Offset(filter.Offset).Limit(limit).Find(&entities).Error; err != nil {
		return nil, 0, err
	}
	out := make([]recorder.Session, 0, len(entities))
	for i := range entities {
		out = append(out, entities[i].toDomain())
	}
	return out, total, nil
}

func (r *GormSessionRepo) DeleteSession(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&FileEntity{}, "session_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ExportEntity{}, "session_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&SessionEntity{}, "id = ?", id).Error
	})
}

func (r *GormSessionRepo) AddFile(f *recorder.FileEntry) error {
	entity := fileToEntity(f)
	return r.db.Create(&entity).Error
}

func (r *GormSessionRepo) ListFiles(sessionID string) ([]recorder.FileEntry, error) {
	var entities []FileEntity
	if err := r.db.Where("session_id = ?", sessionID).Find(&entities).Error; err != nil {
		return nil, err
	}
	out := make([]recorder.FileEntry, 0, len(entities))
	for i := range entities {
		out = append(out, entities[i].toDomain())
	}
	return out, nil
}

func (r *GormSessionRepo) FailOpenSessions() (int64, error) {
	res := r.db.Model(&SessionEntity{}).
		Where("status = ?", string(recorder.StatusRecording)).
		Update("status", string(recorder.StatusFailed))
	return res.RowsAffected, res.Error
}

func (r *GormSessionRepo) SaveExport(e *recorder.Export) error {
	entity := exportToEntity(e)
	return r.db.Create(&entity).Error
}

func (r *GormSessionRepo) UpdateExport(e *recorder.Export) error {
	entity := exportToEntity(e)
	return r.db.Save(&entity).Error
}

func (r *GormSessionRepo) GetExport(id string) (*recorder.Export, error) {
	var entity ExportEntity
	if err := r.db.First(&entity, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("export %s not found", id)
		}
		return nil, err
	}
	e := entity.toDomain()
	return &e, nil
}
