package addon

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Module is a module as reported by the host runtime.
type Module struct {
	ID          string
	Name        string
	Version     string
	Description string
	Authors     []string
	Contact     map[string]string
	// RootPaths are URI strings, e.g. "jar:file:/game/mods/foo.jar!/".
	RootPaths   []string
	Entrypoints []string
}

func (m Module) HasEntrypoint(key string) bool {
	for _, e := range m.Entrypoints {
		if e == key {
			return true
		}
	}
	return false
}

// InstalledAddonRef identifies an addon currently loaded by the host.
type InstalledAddonRef struct {
	ID          string
	Name        string
	Version     string
	Description string
	Authors     []string
	Contact     map[string]string
	RootPaths   []string
}

func NewInstalledAddonRef(m Module) *InstalledAddonRef {
	contact := make(map[string]string, len(m.Contact))
	for k, v := range m.Contact {
		contact[k] = v
	}
	return &InstalledAddonRef{
		ID:          m.ID,
		Name:        m.Name,
		Version:     m.Version,
		Description: m.Description,
		Authors:     append([]string(nil), m.Authors...),
		Contact:     contact,
		RootPaths:   append([]string(nil), m.RootPaths...),
	}
}

// GitHubURL returns the sources or homepage contact link if it points at github.com.
func (r *InstalledAddonRef) GitHubURL() string {
	for _, key := range []string{"sources", "homepage"} {
		if u := r.Contact[key]; strings.Contains(u, "github.com") {
			return u
		}
	}
	return ""
}

type AssetInfo struct {
	FileName    string `json:"fileName"`
	DownloadURL string `json:"downloadUrl"`
	// Digest as reported by GitHub ("sha256:<hex>"), empty if not computed yet.
	Digest string `json:"digest,omitempty"`
	Size   int64  `json:"size"`
}

type ReleaseInfo struct {
	TagName   string       `json:"tagName"`
	Name      string       `json:"name"`
	Changelog string       `json:"changelog"`
	Assets    []*AssetInfo `json:"assets"`
}

// Version prefers the tag name without a leading "v" and falls back to the release name.
func (r *ReleaseInfo) Version() string {
	if r.TagName != "" {
		return strings.TrimPrefix(r.TagName, "v")
	}
	return r.Name
}

type UpdateInfo struct {
	Installed      *InstalledAddonRef `json:"-"`
	AddonName      string             `json:"addonName"`
	CurrentVersion string             `json:"currentVersion"`
	NewVersion     string             `json:"newVersion"`
	Changelog      string             `json:"changelog"`
	DownloadURL    string             `json:"downloadUrl"`
	RemoteDigest   string             `json:"remoteDigest"`
	LocalDigest    string             `json:"localDigest"`
	LocalPath      string             `json:"localPath"`
}

func (u *UpdateInfo) VersionChange() string {
	if u.CurrentVersion != "" && u.NewVersion != "" && u.CurrentVersion != u.NewVersion {
		return fmt.Sprintf("%s → %s", u.CurrentVersion, u.NewVersion)
	}
	return "Update available"
}

// IsDowngrade reports whether the new version is semantically lower than the
// installed one. Versions that are not valid semver never count as a downgrade.
func (u *UpdateInfo) IsDowngrade() bool {
	cur, err := semver.NewVersion(u.CurrentVersion)
	if err != nil {
		return false
	}
	next, err := semver.NewVersion(u.NewVersion)
	if err != nil {
		return false
	}
	return next.LessThan(cur)
}

type StagedUpdate struct {
	*UpdateInfo
	TempPath string `json:"tempPath"`
}

func (s *StagedUpdate) TempDir() string {
	return filepath.Dir(s.TempPath)
}

type StagedUpdates []*StagedUpdate

func (l StagedUpdates) Names() []string {
	names := make([]string, 0, len(l))
	for _, s := range l {
		names = append(names, s.AddonName)
	}
	return names
}
