package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/glucotrack/internal/model"
)

// PostgresReadingRepo はPostgreSQLを使用した血糖値測定リポジトリ。
type PostgresReadingRepo struct {
	db *sql.DB
}

// NewPostgresReadingRepo はPostgresReadingRepoを生成する。
func NewPostgresReadingRepo(db *sql.DB) *PostgresReadingRepo {
	return &PostgresReadingRepo{db: db}
}

// Create は測定値を作成する。IDと作成日時はDB側で採番する。
func (r *PostgresReadingRepo) Create(ctx context.Context, reading *model.Reading) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO readings (user_id, glucose_level, analysis_result)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		reading.UserID, reading.Level, nullString(reading.Analysis),
	).Scan(&reading.ID, &reading.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reading: %w", translatePQError(err))
	}
	return nil
}

// ListByUserID はユーザーの測定値を作成日時の降順で返す。
func (r *PostgresReadingRepo) ListByUserID(ctx context.Context, userID string) ([]model.Reading, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, glucose_level, analysis_result, created_at
		 FROM readings
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}
	defer rows.Close()

	var readings []model.Reading
	for rows.Next() {
		var (
			reading  model.Reading
			analysis sql.NullString
		)
		if err := rows.Scan(&reading.ID, &reading.UserID, &reading.Level, &analysis, &reading.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		reading.Analysis = stringPtr(analysis)
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}

	return readings, nil
}

// compile-time interface check
var _ ReadingRepository = (*PostgresReadingRepo)(nil)
