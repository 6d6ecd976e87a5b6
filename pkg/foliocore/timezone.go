package foliocore

import (
	"fmt"
	"time"
)

// executedAtLayout is the canonical persisted timestamp form. All executed_at
// values are stored in UTC so lexical ordering matches chronological order.
const executedAtLayout = "2006-01-02T15:04:05Z"

const dateLayout = "2006-01-02"

// nowUTC returns the current instant in canonical storage form.
func nowUTC() string {
	return time.Now().UTC().Format(executedAtLayout)
}

// loadLocation resolves an IANA timezone name, falling back to UTC for the
// empty string.
func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, NewFieldError("executed_tz", fmt.Sprintf("unknown timezone: %s", name))
	}
	return loc, nil
}

// normalizeExecutedAt parses a client timestamp and converts it to canonical
// UTC storage form. Accepted inputs are RFC3339 (with offset), a bare
// datetime, or a bare date; bare forms are interpreted in tz.
func normalizeExecutedAt(raw, tz string) (string, error) {
	s := raw
	if s == "" {
		return "", NewFieldError("executed_at", "executed_at is required")
	}
	loc, err := loadLocation(tz)
	if err != nil {
		return "", err
	}

	if t, perr := time.Parse(time.RFC3339, s); perr == nil {
		return t.UTC().Format(executedAtLayout), nil
	}
	if t, perr := time.ParseInLocation("2006-01-02T15:04:05", s, loc); perr == nil {
		return t.UTC().Format(executedAtLayout), nil
	}
	if t, perr := time.ParseInLocation("2006-01-02 15:04:05", s, loc); perr == nil {
		return t.UTC().Format(executedAtLayout), nil
	}
	if t, perr := time.ParseInLocation(dateLayout, s, loc); perr == nil {
		return t.UTC().Format(executedAtLayout), nil
	}
	return "", NewFieldError("executed_at", fmt.Sprintf("unparseable timestamp: %s", raw))
}

// parseExecutedAt reads a stored canonical timestamp back into a time.Time.
func parseExecutedAt(stored string) (time.Time, error) {
	t, err := time.Parse(executedAtLayout, stored)
	if err != nil {
		return time.Time{}, WrapError(ErrCodeInternal, "corrupt stored timestamp", err)
	}
	return t, nil
}
