// Package enums holds the string enums mirrored by Postgres enum types.
package enums

import (
	"fmt"
	"slices"
)

// parse returns the member of known equal to value, or an error naming kind.
func parse[T ~string](kind, value string, known []T) (T, error) {
	if i := slices.Index(known, T(value)); i >= 0 {
		return known[i], nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, value)
}
