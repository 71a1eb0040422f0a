package device

import (
	"time"

	"github.com/mindstream-labs/mindstream/internal/domains/device"
)

// RegisteredDevice is the registered_devices row.
type RegisteredDevice struct {
	Address  string    `gorm:"primaryKey;column:address"`
	Name     string    `gorm:"column:name"`
	LastSeen time.Time `gorm:"column:last_seen;index"`
}

func (RegisteredDevice) TableName() string { return "registered_devices" }

func (e *RegisteredDevice) toDomain() device.Descriptor {
	return device.Descriptor{
		Address:  e.Address,
		Name:     e.Name,
		LastSeen: e.LastSeen,
	}
}

func fromDomain(d device.Descriptor) RegisteredDevice {
	return RegisteredDevice{
		Address:  d.Address,
		Name:     d.Name,
		LastSeen: d.LastSeen,
	}
}
