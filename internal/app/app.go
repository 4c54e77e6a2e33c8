// Package app wires the update pipeline together for a host.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/meteor-addons/addon-updater/internal/batch"
	"github.com/meteor-addons/addon-updater/internal/catalog"
	"github.com/meteor-addons/addon-updater/internal/config"
	"github.com/meteor-addons/addon-updater/internal/detector"
	"github.com/meteor-addons/addon-updater/internal/installer"
	"github.com/meteor-addons/addon-updater/internal/locator"
	"github.com/meteor-addons/addon-updater/internal/mainthread"
	"github.com/meteor-addons/addon-updater/internal/release"
	"github.com/meteor-addons/addon-updater/pkg/addon"
	"github.com/sirupsen/logrus"
)

var ErrNoGameVersion = errors.New("game version is not configured")

type App struct {
	Config     *config.Config
	Log        *logrus.Logger
	Queue      *mainthread.Queue
	Locator    *locator.Locator
	Resolver   *release.Resolver
	Catalog    *catalog.Manager
	Detector   *detector.Detector
	Downloader *batch.Downloader
	Installer  *installer.Installer
}

func New(cfg *config.Config, log *logrus.Logger, modules locator.ModuleSource, stopper installer.Stopper) (*App, error) {
	if cfg.GameVersion == "" {
		return nil, ErrNoGameVersion
	}
	ghClient, err := cfg.CreateGitHubClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	queue := mainthread.New(log)
	loc := locator.New(log, modules, cfg.AddonEntrypoint)
	resolver := release.NewResolver(log, ghClient, cfg.ReleaseCacheTTL, cfg.GitHubConcurrency)
	catalogManager := catalog.New(log, queue, loc, catalog.Options{
		URL:          cfg.CatalogURL,
		GameVersion:  cfg.GameVersion,
		ModsDir:      cfg.GetModsDir(),
		Timeout:      cfg.HTTPTimeout,
		RetryMax:     cfg.HTTPRetryMax,
		RetryWaitMin: cfg.HTTPRetryWaitMin,
		Ignored:      config.IgnoredRepositories,
	})
	det := detector.New(log, loc, catalogManager, resolver, queue, detector.Options{
		GameVersion: cfg.GameVersion,
		SelfID:      cfg.SelfAddonID,
		Concurrency: cfg.CheckConcurrency,
	})
	downloader := batch.New(log, queue, batch.Options{
		TempDir:      cfg.TempDir,
		Timeout:      cfg.DownloadTimeout,
		RetryMax:     cfg.HTTPRetryMax,
		RetryWaitMin: cfg.HTTPRetryWaitMin,
	})
	inst := installer.New(log, stopper, installer.Options{
		ModsDir: cfg.GetModsDir(),
		Wait:    cfg.InstallerWait,
		Grace:   cfg.ShutdownGrace,
	})
	return &App{
		Config:     cfg,
		Log:        log,
		Queue:      queue,
		Locator:    loc,
		Resolver:   resolver,
		Catalog:    catalogManager,
		Detector:   det,
		Downloader: downloader,
		Installer:  inst,
	}, nil
}

// Start loads the catalog in the background. Every successful load triggers
// an update check.
func (a *App) Start(ctx context.Context) {
	a.Catalog.OnLoadComplete(func(err error) {
		if err != nil {
			return
		}
		a.Detector.CheckForUpdates(ctx)
	})
	a.Catalog.Fetch(ctx)
}

// SelectUpdates returns the available updates with the given names, or all of
// them if names is empty.
func (a *App) SelectUpdates(names []string) ([]*addon.UpdateInfo, error) {
	available := a.Detector.Available()
	if len(names) == 0 {
		return available, nil
	}
	ret := make([]*addon.UpdateInfo, 0, len(names))
	for _, name := range names {
		var found *addon.UpdateInfo
		for _, u := range available {
			if strings.EqualFold(u.AddonName, name) {
				found = u
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("no update available for %s", name)
		}
		ret = append(ret, found)
	}
	return ret, nil
}

// InstallStaged hands every staged update to the installer and returns the
// script path and the updates it covers. The updates go back to the staged
// list if the installer script could not be launched.
func (a *App) InstallStaged() (string, addon.StagedUpdates, error) {
	staged := a.Downloader.Take()
	script, err := a.Installer.Install(staged)
	if err != nil {
		a.Downloader.Restore(staged)
		return script, nil, err
	}
	return script, staged, nil
}

// Reload drops cached release data and reloads the catalog.
func (a *App) Reload(ctx context.Context) bool {
	a.Resolver.Invalidate()
	a.Locator.Forget()
	return a.Catalog.Fetch(ctx)
}
