package release

import (
	"strings"

	"github.com/meteor-addons/addon-updater/pkg/addon"
)

const archiveExt = ".jar"

// SelectAsset picks the archive to install from a release. A single archive is
// accepted as version-agnostic; among several, the first one naming
// gameVersion wins and no match means no asset.
func SelectAsset(release *addon.ReleaseInfo, gameVersion string) *addon.AssetInfo {
	if release == nil {
		return nil
	}
	candidates := make([]*addon.AssetInfo, 0, len(release.Assets))
	for _, a := range release.Assets {
		if a != nil && strings.HasSuffix(strings.ToLower(a.FileName), archiveExt) {
			candidates = append(candidates, a)
		}
	}
	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return candidates[0]
	}
	matches := addon.VersionMatcher(gameVersion)
	for _, a := range candidates {
		if matches(a.FileName) {
			return a
		}
	}
	return nil
}
