package enums

import (
	"fmt"
	"slices"
)

// parse returns the member of valid equal to value, or an error naming kind.
func parse[T ~string](kind, value string, valid []T) (T, error) {
	if i := slices.Index(valid, T(value)); i >= 0 {
		return valid[i], nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, value)
}
