// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package schema

import (
	"regexp"
	"strings"
	"unicode"
)

// identifierRE is the single source of truth for what may appear as a SQL
// identifier (table or column name) anywhere in ragline.
var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s is safe to interpolate as a SQL
// identifier.
func ValidIdentifier(s string) bool {
	return identifierRE.MatchString(s)
}

// QuoteIdentifier wraps s in double quotes, doubling any embedded quotes.
// Callers must still validate s first; quoting is belt on top of the regex.
func QuoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// snakeCase converts a camelCase field name to its default physical column
// name, e.g. repositoryIndexDbId -> repository_index_db_id.
func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (i > 0 && nextLower) {
				b.WriteRune('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
