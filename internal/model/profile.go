package model

import "time"

// Role はプロフィールのロールを表す。作成後に変更されることはない。
type Role string

const (
	// RolePatient は患者ロール。
	RolePatient Role = "patient"
	// RoleDoctor は医師ロール。
	RoleDoctor Role = "doctor"
)

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// DashboardPath はロールごとのダッシュボードのパスを返す。
func (r Role) DashboardPath() string {
	switch r {
	case RolePatient:
		return "/dashboard-patient"
	case RoleDoctor:
		return "/dashboard-doctor"
	default:
		return ""
	}
}

// Profile はアプリケーション上のユーザー情報を表す。
// IDはIdentityのIDと同一。DoctorIDは患者の場合のみ設定される。
type Profile struct {
	ID        string
	FullName  string
	Role      Role
	DoctorID  *string
	CreatedAt time.Time
}
