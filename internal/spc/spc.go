// Package spc 根据最近的灌装误差计算CUSUM控制图状态
package spc

import (
	"fmt"
	"math"
	"time"

	"github.com/packagewjx/spc-monitor/pkg/core"
)

// Window 参与计算的最近误差个数
const Window = core.MaxCycles

const (
	// 标准化后的参考偏移量
	DefaultK      = 0.5
	DefaultHWarn  = 1.0
	DefaultHAlarm = 2.0
)

const (
	LevelWarn  = "WARN"
	LevelAlarm = "ALARM"

	PosDrift = "POS_DRIFT"
	NegDrift = "NEG_DRIFT"
)

// 防止标准差为0
const epsilon = 1e-6

type Result struct {
	State core.SpcState
	// 为空表示没有越界
	Level string
}

// Evaluate 对按时间从旧到新排列的误差计算均值、标准差与CUSUM。
// 累积量超过HAlarm时立即判定为ALARM，超过HWarn时为WARN。两者都算失控。
func Evaluate(sku string, errs []float64, now time.Time) Result {
	state := core.SpcState{
		Sku:       sku,
		NSamples:  core.Int(len(errs)),
		CusumPos:  core.Float(0),
		CusumNeg:  core.Float(0),
		CreatedAt: core.FormatTime(now),
	}
	if len(errs) == 0 {
		state.Classification = core.Unknown
		return Result{State: state}
	}

	n := float64(len(errs))
	var sum float64
	for _, e := range errs {
		sum += e
	}
	mean := sum / n
	var sq float64
	for _, e := range errs {
		sq += (e - mean) * (e - mean)
	}
	std := math.Sqrt(sq/n) + epsilon

	var (
		pos, neg  float64
		level     string
		alarmType string
	)
	for _, e := range errs {
		z := (e - mean) / std
		pos = math.Max(0, pos+z-DefaultK)
		neg = math.Min(0, neg+z+DefaultK)

		if pos > DefaultHAlarm || neg < -DefaultHAlarm {
			level = LevelAlarm
			alarmType = NegDrift
			if pos > DefaultHAlarm {
				alarmType = PosDrift
			}
			break
		}
		if pos > DefaultHWarn || neg < -DefaultHWarn {
			level = LevelWarn
			alarmType = NegDrift
			if pos > DefaultHWarn {
				alarmType = PosDrift
			}
		}
	}

	state.Mean = core.Float(mean)
	state.Std = core.Float(std)
	state.CusumPos = core.Float(pos)
	state.CusumNeg = core.Float(neg)
	if level == "" {
		state.Classification = core.InControl
	} else {
		state.Classification = core.OutOfControl
		state.AlarmType = core.String(alarmType)
	}
	return Result{State: state, Level: level}
}

// Alarm 在越界时构造一条报警，否则返回nil
func (r Result) Alarm(cycleID string) *core.Alarm {
	if r.Level == "" {
		return nil
	}
	alarm := &core.Alarm{
		Sku:       r.State.Sku,
		Level:     r.Level,
		AlarmType: r.State.AlarmType,
		Message:   core.String(fmt.Sprintf("SPC %s (%s) for SKU %s", r.Level, *r.State.AlarmType, r.State.Sku)),
		CreatedAt: r.State.CreatedAt,
	}
	if cycleID != "" {
		alarm.CycleID = core.String(cycleID)
	}
	return alarm
}

// Errors 取出带误差的周期的误差，保持原有顺序
func Errors(cycles []core.Cycle) []float64 {
	result := make([]float64, 0, len(cycles))
	for _, c := range cycles {
		if c.Error != nil {
			result = append(result, *c.Error)
		}
	}
	return result
}
