package model

import "time"

// Reading は1回分の血糖値測定を表す。作成後は変更されない。
type Reading struct {
	ID        int64
	UserID    string
	Level     int     // mg/dL
	Analysis  *string // 解析に失敗した場合もフォールバック文言が入る
	CreatedAt time.Time
}

// 血糖値のリスク判定の閾値（mg/dL）。
const (
	LowLevelThreshold  = 70
	HighLevelThreshold = 180
)

// RiskStatus は患者の最新測定値に基づくリスク状態を表す。
type RiskStatus string

const (
	// RiskStatusAtRisk は最新値が閾値外であることを示す。
	RiskStatusAtRisk RiskStatus = "at_risk"
	// RiskStatusNormal は最新値が閾値内であることを示す。
	RiskStatusNormal RiskStatus = "normal"
	// RiskStatusNoData は測定値が1件もないことを示す。
	RiskStatusNoData RiskStatus = "no_data"
)

// Severity は最新値の区分（低値・正常・高値）を表す。
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityNormal Severity = "normal"
	SeverityHigh   Severity = "high"
	SeverityNone   Severity = "none"
)

// ClassifySeverity は血糖値を低値・正常・高値に区分する。
// 全ての整数に対して定義された純粋関数。
func ClassifySeverity(level int) Severity {
	switch {
	case level < LowLevelThreshold:
		return SeverityLow
	case level > HighLevelThreshold:
		return SeverityHigh
	default:
		return SeverityNormal
	}
}

// IsAtRisk は level < 70 または level > 180 のときtrueを返す。
func IsAtRisk(level int) bool {
	return ClassifySeverity(level) != SeverityNormal
}

// ClassifyLevel は血糖値をリスク状態に分類する。
func ClassifyLevel(level int) RiskStatus {
	if IsAtRisk(level) {
		return RiskStatusAtRisk
	}
	return RiskStatusNormal
}

// ClassifyLatest は最新値（なければnil）からリスク状態と区分を返す。
func ClassifyLatest(latest *int) (RiskStatus, Severity) {
	if latest == nil {
		return RiskStatusNoData, SeverityNone
	}
	return ClassifyLevel(*latest), ClassifySeverity(*latest)
}
