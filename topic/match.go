package topic

import "strings"

// NormalizeFilter strips a leading "$share/<group>/" prefix from a
// subscription filter so that topic matching operates on the underlying
// filter, per the matcher's shared-subscription extension.
func NormalizeFilter(filter string) string {
	if !strings.HasPrefix(filter, "$share/") {
		return filter
	}
	rest := strings.TrimPrefix(filter, "$share/")
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[idx+1:]
	}
	return rest
}

// ShareGroup returns the group name and true if filter is a shared
// subscription filter ("$share/<group>/<filter>").
func ShareGroup(filter string) (string, bool) {
	if !strings.HasPrefix(filter, "$share/") {
		return "", false
	}
	rest := strings.TrimPrefix(filter, "$share/")
	idx := strings.Index(rest, "/")
	if idx < 0 {
		return "", false
	}
	return rest[:idx], true
}

// Matches reports whether the published topic name matches filter, using
// standard MQTT filter semantics ("+" matches exactly one level, "#"
// matches the rest of the levels, including zero), after stripping any
// "$share/<group>/" prefix from filter.
func Matches(filter, name string) bool {
	filter = NormalizeFilter(filter)

	// Per the MQTT spec, topics beginning with "$" are never matched by a
	// leading wildcard unless the filter explicitly starts with "$".
	if strings.HasPrefix(name, "$") && !strings.HasPrefix(filter, "$") {
		return false
	}

	fLevels := strings.Split(filter, "/")
	nLevels := strings.Split(name, "/")

	for i, fl := range fLevels {
		if fl == "#" {
			return true
		}
		if i >= len(nLevels) {
			return false
		}
		if fl == "+" {
			continue
		}
		if fl != nLevels[i] {
			return false
		}
	}
	return len(fLevels) == len(nLevels)
}
