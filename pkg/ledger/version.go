package ledger

import (
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// VersionMarker precedes the version tag in module source headers.
const VersionMarker = "@custom:version"

// ResolveVersion returns the text following the first version marker on its
// line, trimmed.
func ResolveVersion(source string) (string, error) {
	_, rest, ok := strings.Cut(source, VersionMarker)
	if !ok {
		return "", ErrVersionTagMissing
	}
	line, _, _ := strings.Cut(rest, "\n")
	v := strings.TrimSpace(line)
	if v == "" {
		return "", ErrVersionTagMissing
	}
	return v, nil
}

// SortVersions orders tags by semantic version. Tags that do not parse sort
// after the others, lexically.
func SortVersions(tags []string) {
	parsed := make(map[string]*semver.Version, len(tags))
	for _, t := range tags {
		if v, err := semver.NewVersion(t); err == nil {
			parsed[t] = v
		}
	}
	sort.SliceStable(tags, func(i, j int) bool {
		a, aok := parsed[tags[i]]
		b, bok := parsed[tags[j]]
		switch {
		case aok && bok:
			if c := a.Compare(b); c != 0 {
				return c < 0
			}
			return tags[i] < tags[j]
		case aok != bok:
			return aok
		default:
			return tags[i] < tags[j]
		}
	})
}
