package repository

import (
	"errors"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// ErrStaleVersion is returned when an optimistic update finds the row at a different version.
var ErrStaleVersion = errors.New("row version changed")

var qb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds an ILIKE pattern matching value anywhere in the column.
func containsPattern(value string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(value)) + "%"
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
