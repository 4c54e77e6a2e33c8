package addon

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Metadata is one entry of the remote addon catalog.
type Metadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	MCVersion   string      `json:"mc_version"`
	Authors     []string    `json:"authors"`
	Features    *Features   `json:"features,omitempty"`
	Verified    bool        `json:"verified"`
	Repo        *Repository `json:"repo,omitempty"`
	Links       *Links      `json:"links,omitempty"`
	Custom      *Custom     `json:"custom,omitempty"`
}

type Features struct {
	Modules       []string `json:"modules"`
	Commands      []string `json:"commands"`
	CustomScreens []string `json:"custom_screens"`
	HudElements   []string `json:"hud_elements"`
	FeatureCount  int      `json:"feature_count"`
}

type Repository struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	Name         string `json:"name"`
	Archived     bool   `json:"archived"`
	Fork         bool   `json:"fork"`
	Stars        int    `json:"stars"`
	Downloads    int    `json:"downloads"`
	LastUpdate   string `json:"last_update"`
	CreationDate string `json:"creation_date"`
}

type Links struct {
	GitHub    string   `json:"github"`
	Downloads []string `json:"downloads"`
	Discord   string   `json:"discord"`
	Homepage  string   `json:"homepage"`
	Icon      string   `json:"icon"`
}

type Custom struct {
	Description       string   `json:"description"`
	Tags              []string `json:"tags"`
	SupportedVersions []string `json:"supported_versions"`
	Icon              string   `json:"icon"`
	Discord           string   `json:"discord"`
	Homepage          string   `json:"homepage"`
}

// ID derives the catalog id the same way installed module ids are usually formed.
func (m *Metadata) ID() string {
	return strings.ReplaceAll(strings.ToLower(m.Name), " ", "-")
}

// SupportsVersion checks custom.supported_versions first and falls back to mc_version.
// Supported version entries may also be semver constraints such as "1.21.x".
func (m *Metadata) SupportsVersion(gameVersion string) bool {
	if m.Custom != nil && len(m.Custom.SupportedVersions) > 0 {
		for _, v := range m.Custom.SupportedVersions {
			if versionMatches(v, gameVersion) {
				return true
			}
		}
		return false
	}
	return m.MCVersion != "" && m.MCVersion == gameVersion
}

func versionMatches(supported, gameVersion string) bool {
	if supported == gameVersion {
		return true
	}
	if !strings.ContainsAny(supported, "xX*^~<>=") {
		return false
	}
	constraint, err := semver.NewConstraint(supported)
	if err != nil {
		return false
	}
	v, err := semver.NewVersion(gameVersion)
	if err != nil {
		return false
	}
	return constraint.Check(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (m *Metadata) DisplayDescription() string {
	if m.Custom != nil && m.Custom.Description != "" {
		return m.Custom.Description
	}
	return m.Description
}

func (m *Metadata) IconURL() string {
	var custom, link string
	if m.Custom != nil {
		custom = m.Custom.Icon
	}
	if m.Links != nil {
		link = m.Links.Icon
	}
	return firstNonEmpty(custom, link)
}

func (m *Metadata) DiscordURL() string {
	var custom, link string
	if m.Custom != nil {
		custom = m.Custom.Discord
	}
	if m.Links != nil {
		link = m.Links.Discord
	}
	return firstNonEmpty(custom, link)
}

func (m *Metadata) HomepageURL() string {
	var custom, link string
	if m.Custom != nil {
		custom = m.Custom.Homepage
	}
	if m.Links != nil {
		link = m.Links.Homepage
	}
	return firstNonEmpty(custom, link)
}

// GitHubURL returns links.github, falling back to the scanned repository id.
func (m *Metadata) GitHubURL() string {
	if m.Links != nil && m.Links.GitHub != "" {
		return m.Links.GitHub
	}
	if m.Repo != nil && m.Repo.ID != "" {
		return "https://github.com/" + m.Repo.ID
	}
	return ""
}

// DownloadURLs returns the download links naming the game version as a whole token.
func (m *Metadata) DownloadURLs(gameVersion string) []string {
	if m.Links == nil {
		return nil
	}
	matches := VersionMatcher(gameVersion)
	ret := make([]string, 0, len(m.Links.Downloads))
	for _, u := range m.Links.Downloads {
		if u != "" && matches(u) {
			ret = append(ret, u)
		}
	}
	return ret
}

type MetadataList []*Metadata

// Find looks an entry up by name, case-insensitively.
func (l MetadataList) Find(name string) *Metadata {
	for _, m := range l {
		if strings.EqualFold(m.Name, name) {
			return m
		}
	}
	return nil
}
