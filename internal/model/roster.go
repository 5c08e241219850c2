package model

import "time"

// PatientWithReadings は医師に紐づく患者プロフィールとその測定値一覧。
// Readingsは作成日時の降順（同時刻はID降順）で並ぶ。
type PatientWithReadings struct {
	Profile  Profile
	Readings []Reading
}

// PatientSummary は医師向け患者一覧の1行を表す。
type PatientSummary struct {
	PatientID    string
	FullName     string
	LatestLevel  *int
	LatestAt     *time.Time
	ReadingCount int
	Status       RiskStatus
	Severity     Severity
}

// RosterSummary は医師ダッシュボードの集計値。
type RosterSummary struct {
	TotalPatients  int
	AtRiskPatients int
}
