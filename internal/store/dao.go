package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/packagewjx/spc-monitor/pkg/core"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSqlite = "sqlite"
	DriverMysql  = "mysql"
)

type UpdateDao interface {
	SaveCycle(ctx context.Context, c *core.Cycle) error
	SaveAlarm(ctx context.Context, a *core.Alarm) error
	// 按SKU覆盖当前状态
	SaveState(ctx context.Context, s *core.SpcState) error

	// 永久删除before之前的周期数据
	RemoveCyclesBefore(ctx context.Context, before time.Time) (int64, error)
}

type QueryDao interface {
	// 返回最近limit条，按创建时间从旧到新
	QueryRecentCycles(ctx context.Context, sku string, limit int) ([]core.Cycle, error)
	// 不存在时返回nil, nil
	QueryState(ctx context.Context, sku string) (*core.SpcState, error)
	QueryRecentAlarms(ctx context.Context, sku string, limit int) ([]core.Alarm, error)
}

type Dao interface {
	DB() *gorm.DB
	UpdateDao
	QueryDao
}

type daoImpl struct {
	db     *gorm.DB
	logger *log.Logger
}

var _ Dao = &daoImpl{}

// MysqlDsn 由主机端口构造MySQL连接串。host为空时读取环境变量MYSQL_SERVICE_HOST与MYSQL_SERVICE_PORT。
func MysqlDsn(host, user, password, database string) string {
	if host == "" {
		host = fmt.Sprintf("%s:%s", os.Getenv("MYSQL_SERVICE_HOST"), os.Getenv("MYSQL_SERVICE_PORT"))
	}
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", user, password, host, database)
}

func NewDao(driver, dsn string) (Dao, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSqlite:
		dialector = sqlite.Open(dsn)
	case DriverMysql:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动%s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(log.New(os.Stdout, "", 0), logger.Config{
			LogLevel: logger.Silent,
		}),
	})
	if err != nil {
		return nil, errors.Wrap(err, "连接数据库错误")
	}

	// 创建表格等
	err = db.AutoMigrate(&CycleDO{}, &SpcStateDO{}, &AlarmDO{})
	if err != nil {
		return nil, errors.Wrap(err, "创建表格时出现异常")
	}

	return &daoImpl{
		db:     db,
		logger: log.New(os.Stdout, "Dao: ", log.LstdFlags|log.Lshortfile|log.Lmsgprefix),
	}, nil
}

func (d *daoImpl) SaveCycle(ctx context.Context, c *core.Cycle) error {
	if c.Sku == "" {
		return fmt.Errorf("周期数据的SKU不能为空")
	}
	do := &CycleDO{
		Sku:          c.Sku,
		Seq:          c.Seq,
		TargetVolume: c.TargetVolume,
		ActualVolume: c.ActualVolume,
		ActuationMs:  c.ActuationMs,
		Error:        c.Error,
		SpcState:     c.Classification,
		RecordedAt:   recordedAt(c.CreatedAt),
	}
	err := d.db.WithContext(ctx).Create(do).Error
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("保存SKU为%s，序号为%d的周期出错", c.Sku, c.Seq))
	}
	c.ID = strconv.FormatUint(uint64(do.ID), 10)
	return nil
}

func (d *daoImpl) SaveAlarm(ctx context.Context, a *core.Alarm) error {
	if a.Sku == "" {
		return fmt.Errorf("报警的SKU不能为空")
	}
	do := &AlarmDO{
		Sku:        a.Sku,
		Level:      a.Level,
		AlarmType:  a.AlarmType,
		Message:    a.Message,
		CycleId:    a.CycleID,
		SpcStateId: a.SpcStateID,
		RecordedAt: recordedAt(a.CreatedAt),
	}
	err := d.db.WithContext(ctx).Create(do).Error
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("保存SKU为%s的报警出错", a.Sku))
	}
	a.ID = strconv.FormatUint(uint64(do.ID), 10)
	return nil
}

func (d *daoImpl) SaveState(ctx context.Context, s *core.SpcState) error {
	db := d.db.WithContext(ctx)
	dest := &SpcStateDO{}
	err := db.First(dest, &SpcStateDO{Sku: s.Sku}).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(err, fmt.Sprintf("查询SKU为%s的状态出错", s.Sku))
	}

	dest.Sku = s.Sku
	dest.SpcState = s.Classification
	dest.AlarmType = s.AlarmType
	dest.Mean = s.Mean
	dest.Std = s.Std
	dest.CusumPos = s.CusumPos
	dest.CusumNeg = s.CusumNeg
	dest.NSamples = s.NSamples
	dest.RecordedAt = recordedAt(s.CreatedAt)

	err = db.Save(dest).Error
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("保存SKU为%s的状态出错", s.Sku))
	}
	return nil
}

func (d *daoImpl) RemoveCyclesBefore(ctx context.Context, before time.Time) (int64, error) {
	result := d.db.WithContext(ctx).Unscoped().Where("recorded_at < ?", before.UTC()).Delete(&CycleDO{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "删除过期周期数据出错")
	}
	d.logger.Printf("删除了%d条%s之前的周期数据", result.RowsAffected, before.Format(time.RFC3339))
	return result.RowsAffected, nil
}

func (d *daoImpl) QueryRecentCycles(ctx context.Context, sku string, limit int) ([]core.Cycle, error) {
	doarr := []*CycleDO{}
	err := d.db.WithContext(ctx).Where(&CycleDO{Sku: sku}).
		Order("recorded_at desc").Order("id desc").Limit(limit).Find(&doarr).Error
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("查询SKU为%s的周期出错", sku))
	}

	// 倒序转换为从旧到新
	result := make([]core.Cycle, len(doarr))
	for i, do := range doarr {
		result[len(doarr)-1-i] = core.Cycle{
			ID:             strconv.FormatUint(uint64(do.ID), 10),
			Sku:            do.Sku,
			Seq:            do.Seq,
			TargetVolume:   do.TargetVolume,
			ActualVolume:   do.ActualVolume,
			ActuationMs:    do.ActuationMs,
			Error:          do.Error,
			Classification: do.SpcState,
			CreatedAt:      core.FormatTime(do.RecordedAt),
		}
	}
	return result, nil
}

func (d *daoImpl) QueryState(ctx context.Context, sku string) (*core.SpcState, error) {
	record := &SpcStateDO{}
	err := d.db.WithContext(ctx).First(record, &SpcStateDO{Sku: sku}).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("查询SKU为%s的状态出错", sku))
	}

	return &core.SpcState{
		Sku:            record.Sku,
		Classification: record.SpcState,
		AlarmType:      record.AlarmType,
		Mean:           record.Mean,
		Std:            record.Std,
		CusumPos:       record.CusumPos,
		CusumNeg:       record.CusumNeg,
		NSamples:       record.NSamples,
		CreatedAt:      core.FormatTime(record.RecordedAt),
	}, nil
}

func (d *daoImpl) QueryRecentAlarms(ctx context.Context, sku string, limit int) ([]core.Alarm, error) {
	doarr := []*AlarmDO{}
	err := d.db.WithContext(ctx).Where(&AlarmDO{Sku: sku}).
		Order("recorded_at desc").Order("id desc").Limit(limit).Find(&doarr).Error
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("查询SKU为%s的报警出错", sku))
	}

	result := make([]core.Alarm, len(doarr))
	for i, do := range doarr {
		result[len(doarr)-1-i] = core.Alarm{
			ID:         strconv.FormatUint(uint64(do.ID), 10),
			Sku:        do.Sku,
			Level:      do.Level,
			AlarmType:  do.AlarmType,
			Message:    do.Message,
			CycleID:    do.CycleId,
			SpcStateID: do.SpcStateId,
			CreatedAt:  core.FormatTime(do.RecordedAt),
		}
	}
	return result, nil
}

func (d *daoImpl) DB() *gorm.DB {
	return d.db
}

func recordedAt(createdAt string) time.Time {
	if t, ok := core.ParseTime(createdAt); ok {
		return t.UTC()
	}
	return time.Now().UTC()
}
