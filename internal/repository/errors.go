package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgreSQLのSQLSTATE
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqCheckViolation      = "23514"
	pqNotNullViolation    = "23502"
)

// translatePQError はlib/pqのエラーをリポジトリのセンチネルエラーでラップする。
// 該当しないエラーはそのまま返す。
func translatePQError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case pqUniqueViolation:
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Message)
	case pqForeignKeyViolation, pqCheckViolation, pqNotNullViolation:
		return fmt.Errorf("%w: %s", ErrConstraint, pqErr.Message)
	default:
		return err
	}
}
