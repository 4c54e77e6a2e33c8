package config

import "strings"

type IgnoredRepos []string

// IgnoredRepositories are catalog entries that are never offered, even when verified.
var IgnoredRepositories = IgnoredRepos{
	"meteordevelopment/meteor-addon-template",
}

func (l IgnoredRepos) Contains(repoID string) bool {
	for _, r := range l {
		if strings.EqualFold(r, repoID) {
			return true
		}
	}
	return false
}
