package addon

import "regexp"

// VersionMatcher returns a func reporting whether a file name or URL names
// version as a whole token, so "1.21.1" does not match "foo-1.21.10.jar".
// An empty version matches nothing.
func VersionMatcher(version string) func(string) bool {
	if version == "" {
		return func(string) bool { return false }
	}
	re := regexp.MustCompile(`(?:^|[^0-9.])` + regexp.QuoteMeta(version) + `(?:$|[^0-9.]|\.[^0-9])`)
	return re.MatchString
}
