package utils

import (
	"database/sql"
	"time"
)

func Ptr[T any](v T) *T {
	return &v
}

// MillisToTime converts a nullable unix millisecond column into a time
// pointer, nil when the column is NULL.
func MillisToTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	return Ptr(time.UnixMilli(v.Int64))
}
