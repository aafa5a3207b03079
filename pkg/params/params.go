// Package params resolves caller-supplied list parameters (ordering and
// pagination) into values that are safe to hand to a query builder. Anything
// invalid is rejected here, before any query is constructed.
package params

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
)

// ResolveOrderBy maps an order_by token onto ORDER BY clauses. A leading '-'
// selects descending order, so the one string carries both field and
// direction. Fields outside the allow-list are a 400; nothing is ever
// interpolated into SQL that did not come from the allow-list.
//
// The tie-breaker column is appended so that pagination is deterministic even
// when the sort key has duplicates. An empty orderBy falls back to the
// tie-breaker itself.
func ResolveOrderBy(allowed []string, orderBy string, tieBreaker string) ([]string, error) {
	if orderBy == "" {
		return []string{tieBreaker + " ASC"}, nil
	}

	direction := "ASC"
	field := orderBy
	if strings.HasPrefix(orderBy, "-") {
		direction = "DESC"
		field = orderBy[1:]
	}

	if !contains(allowed, field) {
		return nil, httperror.NewHTTPError(
			http.StatusBadRequest,
			fmt.Sprintf("ordering with '%s' is disallowed or the attribute does not exist on the model", field),
		)
	}

	clauses := []string{field + " " + direction}
	if field != tieBreaker {
		clauses = append(clauses, tieBreaker+" ASC")
	}
	return clauses, nil
}

// CheckLimit validates a page limit against the configured maximum. Zero means
// "not requested" and resolves to the fallback. Exceeding the maximum is an
// error rather than a silent clamp so callers learn about the bound.
func CheckLimit(limit, fallback, maximum int) (int, error) {
	if limit == 0 {
		limit = fallback
	}
	if limit < 1 {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "limit must be a positive integer, got %d", limit)
	}
	if limit > maximum {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "limit exceeds the maximum page size of %d", maximum)
	}
	return limit, nil
}

// CheckOffset validates a page offset.
func CheckOffset(offset int) (int, error) {
	if offset < 0 {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "offset must be non-negative, got %d", offset)
	}
	return offset, nil
}

func contains(fields []string, field string) bool {
	for _, f := range fields {
		if f == field {
			return true
		}
	}
	return false
}
