package db

import (
	"database/sql"
	"fmt"
	"time"
)

const timeLayout = time.RFC3339Nano

// formatTime renders an optional timestamp as stored TEXT ('' when unset)
func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// parseTime reverses formatTime
func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return nil, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return &t, nil
}

// timeField pairs a scanned TEXT column with its destination
type timeField struct {
	raw string
	dst **time.Time
}

// parseTimeFields parses several stored timestamps into their destinations
func parseTimeFields(fields []timeField) error {
	for _, f := range fields {
		t, err := parseTime(f.raw)
		if err != nil {
			return err
		}
		*f.dst = t
	}
	return nil
}

func nowPtr() *time.Time {
	t := time.Now().UTC()
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
