// Package api holds the request and response types of the local control API.
package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/meteor-addons/addon-updater/pkg/addon"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type OKResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type Addon struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Authors     []string `json:"authors"`
	Verified    bool     `json:"verified"`
	GitHubURL   string   `json:"githubUrl,omitempty"`
	HomepageURL string   `json:"homepageUrl,omitempty"`
	DiscordURL  string   `json:"discordUrl,omitempty"`
	IconURL     string   `json:"iconUrl,omitempty"`
	Downloads   []string `json:"downloads"`
	Installed   bool     `json:"installed"`
}

func NewAddon(m *addon.Metadata, gameVersion string, installed bool) *Addon {
	return &Addon{
		ID:          m.ID(),
		Name:        m.Name,
		Description: m.DisplayDescription(),
		Authors:     m.Authors,
		Verified:    m.Verified,
		GitHubURL:   m.GitHubURL(),
		HomepageURL: m.HomepageURL(),
		DiscordURL:  m.DiscordURL(),
		IconURL:     m.IconURL(),
		Downloads:   m.DownloadURLs(gameVersion),
		Installed:   installed,
	}
}

type InstalledAddon struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Version         string `json:"version"`
	ArchivePath     string `json:"archivePath,omitempty"`
	UpdateAvailable bool   `json:"updateAvailable"`
}

type InstallResponse struct {
	Path string `json:"path"`
}

type UpdatesResponse struct {
	Checking bool                `json:"checking"`
	Complete bool                `json:"complete"`
	Updates  []*addon.UpdateInfo `json:"updates"`
}

type DownloadRequest struct {
	Addons []string `json:"addons"`
}

// Validate rejects blank and duplicate names. An empty list selects every update.
func (r *DownloadRequest) Validate() error {
	seen := make(map[string]bool, len(r.Addons))
	for _, name := range r.Addons {
		if strings.TrimSpace(name) == "" {
			return errors.New("addon name must not be empty")
		}
		key := strings.ToLower(name)
		if seen[key] {
			return fmt.Errorf("addon %s requested multiple times", name)
		}
		seen[key] = true
	}
	return nil
}

type StagedResponse struct {
	Downloading bool                `json:"downloading"`
	LastResult  *DownloadResult     `json:"lastResult,omitempty"`
	Staged      addon.StagedUpdates `json:"staged"`
}

type DownloadResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type InstallStagedResponse struct {
	Script string   `json:"script"`
	Addons []string `json:"addons"`
}

type ServiceInfo struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	GameVersion string `json:"gameVersion"`
	ModsDir     string `json:"modsDir"`
}
