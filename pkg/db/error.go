package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ErrStaleVersion is returned when an optimistic version check matches no row.
var ErrStaleVersion = errors.New("stale_version")

// SQLState returns the Postgres SQLSTATE carried by err, or "".
func SQLState(err error) string {
	if err == nil {
		return ""
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if SQLState(err) == "23505" {
		return true
	}

	msg := err.Error()
	// PostgreSQL without a typed error
	if strings.Contains(msg, "duplicate key value violates unique constraint") {
		return true
	}
	// MySQL (error code 1062)
	if strings.Contains(msg, "Error 1062") {
		return true
	}
	// SQLite (error code 2067)
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return true
	}

	return false
}

func IsLockTimeout(err error) bool {
	return SQLState(err) == "55P03"
}

// IsSerializationFailure covers serialization failures and deadlocks.
func IsSerializationFailure(err error) bool {
	switch SQLState(err) {
	case "40001", "40P01":
		return true
	}
	return false
}

// IsRetryable reports whether rerunning the same transaction may succeed.
func IsRetryable(err error) bool {
	return IsLockTimeout(err) || IsSerializationFailure(err)
}
