package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("GAME_DIR", "/games/mc")
	t.Setenv("GAME_VERSION", "1.21.10")
	t.Setenv("HTTP_TIMEOUT", "5s")
	cfg, err := NewConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, "1.21.10", cfg.GameVersion)
	require.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	require.Equal(t, 4, cfg.CheckConcurrency)
	require.Equal(t, "meteor-addons", cfg.SelfAddonID)
	require.Equal(t, filepath.Join("/games/mc", "mods"), cfg.GetModsDir())
	require.Equal(t, "127.0.0.1:8765", cfg.GetServerAddr())
}

func TestModsDirOverride(t *testing.T) {
	cfg := &Config{GameDir: "/games/mc", ModsDir: "/elsewhere/mods"}
	require.Equal(t, "/elsewhere/mods", cfg.GetModsDir())
}

func TestCreateGitHubClient(t *testing.T) {
	cfg := &Config{GitHubAPIURL: "https://ghe.example.com/api/v3", HTTPTimeout: time.Second}
	c, err := cfg.CreateGitHubClient()
	require.NoError(t, err)
	require.Equal(t, "https://ghe.example.com/api/v3/", c.BaseURL.String())

	cfg.GitHubToken = "ghp_test"
	c, err = cfg.CreateGitHubClient()
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestIgnoredRepositories(t *testing.T) {
	require.True(t, IgnoredRepositories.Contains("MeteorDevelopment/meteor-addon-template"))
	require.False(t, IgnoredRepositories.Contains("someone/addon"))
}
