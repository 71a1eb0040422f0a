package device

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mindstream-labs/mindstream/internal/domains/device"
)

// GormDeviceRegistry implements device.Registry over the local store.
type GormDeviceRegistry struct {
	db *gorm.DB
}

func NewGormDeviceRegistry(db *gorm.DB) *GormDeviceRegistry {
	return &GormDeviceRegistry{db: db}
}

func (r *GormDeviceRegistry) Upsert(d device.Descriptor) error {
	entity := fromDomain(d)
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "last_seen"}),
	}).Create(&entity).Error
}

func (r *GormDeviceRegistry) List() ([]device.Descriptor, error) {
	var entities []RegisteredDevice
	if err := r.db.Order("last_seen desc").Find(&entities).Error; err != nil {
		return nil, err
	}
	out := make([]device.Descriptor, 0, len(entities))
	for i := range entities {
		out = append(out, entities[i].toDomain())
	}
	return out, nil
}

func (r *GormDeviceRegistry) Last() (*device.Descriptor, error) {
	var entity RegisteredDevice
	err := r.db.Order("last_seen desc").First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d := entity.toDomain()
	return &d, nil
}

func (r *GormDeviceRegistry) Remove(address string) error {
	return r.db.Delete(&RegisteredDevice{}, "address = ?", address).Error
}
