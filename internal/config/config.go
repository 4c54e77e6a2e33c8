package config

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/oauth2"
)

type Config struct {
	CatalogURL        string        `envconfig:"CATALOG_URL" default:"https://raw.githubusercontent.com/cqb13/meteor-addon-scanner/refs/heads/addons/addons.json"`
	GitHubAPIURL      string        `envconfig:"GITHUB_API_URL" default:"https://api.github.com/"`
	GitHubToken       string        `envconfig:"GITHUB_TOKEN"`
	GameDir           string        `envconfig:"GAME_DIR" default:"."`
	ModsDir           string        `envconfig:"MODS_DIR"`
	GameVersion       string        `envconfig:"GAME_VERSION"`
	SelfAddonID       string        `envconfig:"SELF_ADDON_ID" default:"meteor-addons"`
	AddonEntrypoint   string        `envconfig:"ADDON_ENTRYPOINT" default:"meteor"`
	CheckConcurrency  int           `envconfig:"CHECK_CONCURRENCY" default:"4"`
	GitHubConcurrency int64         `envconfig:"GITHUB_CONCURRENCY" default:"2"`
	HTTPTimeout       time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
	DownloadTimeout   time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"60s"`
	HTTPRetryMax      int           `envconfig:"HTTP_RETRY_MAX" default:"2"`
	HTTPRetryWaitMin  time.Duration `envconfig:"HTTP_RETRY_WAIT_MIN" default:"1s"`
	ReleaseCacheTTL   time.Duration `envconfig:"RELEASE_CACHE_TTL" default:"10m"`
	InstallerWait     time.Duration `envconfig:"INSTALLER_WAIT" default:"3s"`
	ShutdownGrace     time.Duration `envconfig:"SHUTDOWN_GRACE" default:"500ms"`
	TempDir           string        `envconfig:"TEMP_DIR"`
	BindAddress       string        `envconfig:"BIND_ADDRESS" default:"127.0.0.1"`
	Port              string        `envconfig:"PORT" default:"8765"`
	APIToken          string        `envconfig:"API_TOKEN"`
	DisableMetrics    bool          `envconfig:"DISABLE_METRICS"`
	Version           string        `ignored:"true"`
}

func NewConfigFromEnv() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) GetServerAddr() string {
	return c.BindAddress + ":" + c.Port
}

func (c *Config) GetModsDir() string {
	if c.ModsDir != "" {
		return c.ModsDir
	}
	return filepath.Join(c.GameDir, "mods")
}

// CreateGitHubClient returns an unauthenticated client unless a token is configured.
func (c *Config) CreateGitHubClient() (*github.Client, error) {
	httpClient := &http.Client{Timeout: c.HTTPTimeout}
	if c.GitHubToken != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.GitHubToken}))
	}
	ghClient := github.NewClient(httpClient)
	if c.GitHubAPIURL != "" {
		apiURL := c.GitHubAPIURL
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		baseURL, err := url.Parse(apiURL)
		if err != nil {
			return nil, err
		}
		ghClient.BaseURL = baseURL
	}
	return ghClient, nil
}
