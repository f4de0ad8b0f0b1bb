package schema

import (
	"strconv"
	"strings"
)

// parseVersion splits a dotted version string into major, minor, patch.
// Missing components default to zero.
func parseVersion(v string) (major, minor, patch int, ok bool) {
	parts := strings.Split(v, ".")
	if len(parts) == 0 || len(parts) > 3 {
		return 0, 0, 0, false
	}
	nums := [3]int{}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, 0, 0, false
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], true
}

// IsValidSchemaVersion reports whether v appears in the supported set.
func IsValidSchemaVersion(v string, supported []string) bool {
	for _, s := range supported {
		if v == s {
			return true
		}
	}
	return false
}

// CanMigrate reports whether a document at version from can be migrated
// to version to. Migration is permitted within the same major version or
// when the target is exactly one major version ahead.
func CanMigrate(from, to string) bool {
	fromMajor, _, _, ok := parseVersion(from)
	if !ok {
		return false
	}
	toMajor, _, _, ok := parseVersion(to)
	if !ok {
		return false
	}
	return fromMajor == toMajor || toMajor == fromMajor+1
}
