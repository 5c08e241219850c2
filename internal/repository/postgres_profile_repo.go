package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/glucotrack/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// Create はプロフィールを作成する。
// doctor_idが医師以外を指している場合はトリガーによりCHECK違反となる。
func (r *PostgresProfileRepo) Create(ctx context.Context, profile *model.Profile) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO profiles (id, full_name, role, doctor_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		profile.ID, profile.FullName, string(profile.Role), nullString(profile.DoctorID),
	).Scan(&profile.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", translatePQError(err))
	}
	return nil
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	var (
		profile  model.Profile
		role     string
		doctorID sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, full_name, role, doctor_id, created_at FROM profiles WHERE id = $1`,
		id,
	).Scan(&profile.ID, &profile.FullName, &role, &doctorID, &profile.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}

	profile.Role = model.Role(role)
	if doctorID.Valid {
		profile.DoctorID = &doctorID.String
	}
	return &profile, nil
}

// ListPatientsWithReadings は医師に紐づく患者とその測定値をLEFT JOINで一括取得する。
func (r *PostgresProfileRepo) ListPatientsWithReadings(ctx context.Context, doctorID string) ([]model.PatientWithReadings, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.full_name, p.created_at,
		        g.id, g.glucose_level, g.analysis_result, g.created_at
		 FROM profiles p
		 LEFT JOIN readings g ON g.user_id = p.id
		 WHERE p.doctor_id = $1 AND p.role = 'patient'
		 ORDER BY p.full_name ASC, p.id ASC, g.created_at DESC, g.id DESC`,
		doctorID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	defer rows.Close()

	var result []model.PatientWithReadings
	for rows.Next() {
		var (
			profile   model.Profile
			readingID sql.NullInt64
			level     sql.NullInt64
			analysis  sql.NullString
			createdAt sql.NullTime
		)
		if err := rows.Scan(
			&profile.ID, &profile.FullName, &profile.CreatedAt,
			&readingID, &level, &analysis, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan patient row: %w", err)
		}

		if len(result) == 0 || result[len(result)-1].Profile.ID != profile.ID {
			profile.Role = model.RolePatient
			profile.DoctorID = &doctorID
			result = append(result, model.PatientWithReadings{Profile: profile})
		}

		if readingID.Valid {
			current := &result[len(result)-1]
			current.Readings = append(current.Readings, model.Reading{
				ID:        readingID.Int64,
				UserID:    profile.ID,
				Level:     int(level.Int64),
				Analysis:  stringPtr(analysis),
				CreatedAt: timeOrZero(createdAt),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patient rows: %w", err)
	}

	return result, nil
}

// nullString は*stringをsql.NullStringに変換する。
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// stringPtr はsql.NullStringを*stringに変換する。
func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timeOrZero(nt sql.NullTime) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
