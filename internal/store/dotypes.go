package store

import (
	"time"

	"gorm.io/gorm"
)

type CycleDO struct {
	gorm.Model
	Sku          string `gorm:"index:idx_cycle_sku_created,priority:1;type:VARCHAR(32);not null"`
	Seq          int    `gorm:"not null"`
	TargetVolume float64
	ActualVolume *float64
	ActuationMs  *float64
	Error        *float64
	SpcState     *string   `gorm:"type:VARCHAR(32)"`
	RecordedAt   time.Time `gorm:"index:idx_cycle_sku_created,priority:2;not null"`
}

func (CycleDO) TableName() string { return "cycles" }

// SpcStateDO 每个SKU仅一条，按SKU更新
type SpcStateDO struct {
	gorm.Model
	Sku        string  `gorm:"uniqueIndex;type:VARCHAR(32);not null"`
	SpcState   string  `gorm:"type:VARCHAR(32);not null"`
	AlarmType  *string `gorm:"type:VARCHAR(32)"`
	Mean       *float64
	Std        *float64
	CusumPos   *float64
	CusumNeg   *float64
	NSamples   *int
	RecordedAt time.Time
}

func (SpcStateDO) TableName() string { return "spc_states" }

type AlarmDO struct {
	gorm.Model
	Sku        string    `gorm:"index:idx_alarm_sku_created,priority:1;type:VARCHAR(32);not null"`
	Level      string    `gorm:"type:VARCHAR(16);not null"`
	AlarmType  *string   `gorm:"type:VARCHAR(32)"`
	Message    *string   `gorm:"type:VARCHAR(255)"`
	CycleId    *string   `gorm:"type:VARCHAR(64)"`
	SpcStateId *string   `gorm:"type:VARCHAR(64)"`
	RecordedAt time.Time `gorm:"index:idx_alarm_sku_created,priority:2;not null"`
}

func (AlarmDO) TableName() string { return "alarms" }
