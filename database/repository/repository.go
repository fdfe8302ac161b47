// Package repository carries the query-building helpers shared by the
// entity repositories.
package repository

import (
	"fmt"
	"strings"
)

// OrderBy builds an ORDER BY clause from a user-supplied ordering parameter.
// A leading '-' selects descending order. Columns not present in the allowed
// map fall back to the given column ascending.
func OrderBy(allowed map[string]string, ordering, fallback string) string {
	dir := " ASC"
	if strings.HasPrefix(ordering, "-") {
		dir = " DESC"
		ordering = ordering[1:]
	}
	col, ok := allowed[ordering]
	if !ok {
		return " ORDER BY " + fallback
	}
	return " ORDER BY " + col + dir
}

// Page appends LIMIT/OFFSET arguments and returns the matching clause
func Page(args *[]any, limit, offset int) string {
	out := ""
	if limit > 0 {
		*args = append(*args, limit)
		out += fmt.Sprintf(" LIMIT $%d", len(*args))
	}
	if offset > 0 {
		*args = append(*args, offset)
		out += fmt.Sprintf(" OFFSET $%d", len(*args))
	}
	return out
}

// Where joins the collected clauses into a WHERE fragment, or returns the
// empty string when unfiltered
func Where(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}
