package core

import "time"

// SPC classifications reported by the line.
const (
	InControl    = "IN_CONTROL"
	OutOfControl = "OUT_OF_CONTROL"
	Unknown      = "UNKNOWN"
	Corrected    = "CORRECTED"
)

const (
	MaxCycles = 30
	MaxAlarms = 20
)

const DefaultSku = "COKE_355"

// TimeLayout 固定宽度，按字符串排序即按时间排序
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime 解析常见的创建时间格式
func ParseTime(s string) (time.Time, bool) {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CorrectionFailedMessage is shown to the operator when a correction write is rejected.
const CorrectionFailedMessage = "correction failed"

type Cycle struct {
	ID             string   `json:"id"`
	Sku            string   `json:"sku"`
	Seq            int      `json:"seq"`
	TargetVolume   float64  `json:"targetVolume"`
	ActualVolume   *float64 `json:"actualVolume,omitempty"`
	ActuationMs    *float64 `json:"actuationMs,omitempty"`
	Error          *float64 `json:"error,omitempty"`
	Classification *string  `json:"spcState,omitempty"`
	CreatedAt      string   `json:"createdAt"`
}

// SpcState is the latest control-chart state of one SKU. There is at most one per SKU.
type SpcState struct {
	Sku            string   `json:"sku"`
	Classification string   `json:"spcState"`
	AlarmType      *string  `json:"alarmType,omitempty"`
	Mean           *float64 `json:"mean,omitempty"`
	Std            *float64 `json:"std,omitempty"`
	CusumPos       *float64 `json:"cusumPos,omitempty"`
	CusumNeg       *float64 `json:"cusumNeg,omitempty"`
	NSamples       *int     `json:"nSamples,omitempty"`
	CreatedAt      string   `json:"createdAt"`
}

type Alarm struct {
	ID         string  `json:"id"`
	Sku        string  `json:"sku"`
	Level      string  `json:"level"`
	AlarmType  *string `json:"alarmType,omitempty"`
	Message    *string `json:"message,omitempty"`
	CycleID    *string `json:"cycleId,omitempty"`
	SpcStateID *string `json:"spcStateId,omitempty"`
	CreatedAt  string  `json:"createdAt"`
}

// DashboardSnapshot is replaced wholesale on every fetch, never patched field by field.
type DashboardSnapshot struct {
	IsLoading  bool      `json:"isLoading"`
	Error      *string   `json:"error,omitempty"`
	SpcState   *SpcState `json:"spcState,omitempty"`
	Alarms     []Alarm   `json:"alarms"`
	Cycles     []Cycle   `json:"cycles"`
	CurrentSku string    `json:"currentSku"`
}

func InitialSnapshot() DashboardSnapshot {
	return DashboardSnapshot{
		IsLoading: true,
		Alarms:    []Alarm{},
		Cycles:    []Cycle{},
	}
}

func LoadingSnapshot(sku string) DashboardSnapshot {
	s := InitialSnapshot()
	s.CurrentSku = sku
	return s
}

// ErrorSnapshot carries the SKU it pertains to so stale errors can be told apart from current ones.
func ErrorSnapshot(sku string, err error) DashboardSnapshot {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return DashboardSnapshot{
		Error:      &msg,
		Alarms:     []Alarm{},
		Cycles:     []Cycle{},
		CurrentSku: sku,
	}
}

// NewSnapshot expects cycles and alarms oldest first and keeps the newest MaxCycles and MaxAlarms.
func NewSnapshot(sku string, cycles []Cycle, state *SpcState, alarms []Alarm) DashboardSnapshot {
	if len(cycles) > MaxCycles {
		cycles = cycles[len(cycles)-MaxCycles:]
	}
	if len(alarms) > MaxAlarms {
		alarms = alarms[len(alarms)-MaxAlarms:]
	}
	return DashboardSnapshot{
		SpcState:   state,
		Alarms:     append(make([]Alarm, 0, len(alarms)), alarms...),
		Cycles:     append(make([]Cycle, 0, len(cycles)), cycles...),
		CurrentSku: sku,
	}
}

// Clone copies the collections so the result shares no backing arrays with s.
func (s DashboardSnapshot) Clone() DashboardSnapshot {
	c := s
	c.Alarms = append(make([]Alarm, 0, len(s.Alarms)), s.Alarms...)
	c.Cycles = append(make([]Cycle, 0, len(s.Cycles)), s.Cycles...)
	if s.SpcState != nil {
		st := *s.SpcState
		c.SpcState = &st
	}
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	return c
}

func (s DashboardSnapshot) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}

func Float(v float64) *float64 { return &v }

func Int(v int) *int { return &v }

func String(v string) *string { return &v }
