package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meteor-addons/addon-updater/internal/app"
	"github.com/meteor-addons/addon-updater/internal/metrics"
	"github.com/meteor-addons/addon-updater/internal/modsdir"
	"github.com/meteor-addons/addon-updater/pkg/addon"
	"github.com/meteor-addons/addon-updater/pkg/api"
	"github.com/meteor-addons/addon-updater/pkg/client"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	queueTick    = 50 * time.Millisecond
	pollInterval = 500 * time.Millisecond
)

// backend is either the pipeline working on the local mods directory or a
// running updater reached over its API.
type backend interface {
	Search(ctx context.Context, query string) ([]*api.Addon, error)
	Install(ctx context.Context, name string) (string, error)
	Installed(ctx context.Context) ([]*api.InstalledAddon, error)
	Check(ctx context.Context) ([]*addon.UpdateInfo, error)
	Download(ctx context.Context, names []string) (addon.StagedUpdates, error)
	InstallStaged(ctx context.Context) (*api.InstallStagedResponse, error)
	Close()
}

func newBackend(cmd *cobra.Command, log *logrus.Logger) (backend, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if serverURL := must(cmd.Flags().GetString("server")); serverURL != "" {
		log.Debugf("using updater at %s", serverURL)
		return &remoteBackend{client: client.New(serverURL, cfg.APIToken)}, nil
	}
	if !cfg.DisableMetrics {
		if err := metrics.Register(); err != nil {
			return nil, err
		}
	}
	stopper := &hostStopper{log: log}
	a, err := app.New(cfg, log, modsdir.New(log, cfg.GetModsDir()), stopper)
	if err != nil {
		return nil, err
	}
	return &localBackend{app: a, log: log}, nil
}

// hostStopper cancels the host context once the installer script is running.
type hostStopper struct {
	log    *logrus.Logger
	cancel context.CancelFunc
}

func (h *hostStopper) ScheduleStop() {
	h.log.Info("stopping so the installer can replace the addon archives")
	if h.cancel != nil {
		h.cancel()
	}
}

type localBackend struct {
	app *app.App
	log *logrus.Logger
}

// Close drops staged updates nobody is going to install anymore.
func (b *localBackend) Close() {
	b.app.Queue.Drain()
	if err := b.app.Downloader.Discard(); err != nil {
		b.log.Errorf("could not remove staged updates: %v", err)
	}
}

func (b *localBackend) loadCatalog(ctx context.Context) error {
	if b.app.Catalog.IsLoaded() {
		return nil
	}
	err := b.app.Catalog.Load(ctx)
	b.app.Queue.Drain()
	return err
}

func (b *localBackend) Search(ctx context.Context, query string) ([]*api.Addon, error) {
	if err := b.loadCatalog(ctx); err != nil {
		return nil, err
	}
	entries := b.app.Catalog.Search(query)
	ret := make([]*api.Addon, 0, len(entries))
	for _, e := range entries {
		ret = append(ret, api.NewAddon(e, b.app.Config.GameVersion, b.app.Catalog.IsInstalled(e)))
	}
	return ret, nil
}

func (b *localBackend) Install(ctx context.Context, name string) (string, error) {
	if err := b.loadCatalog(ctx); err != nil {
		return "", err
	}
	e := b.app.Catalog.Find(name)
	if e == nil {
		return "", fmt.Errorf("addon %s not found", name)
	}
	if b.app.Catalog.IsInstalled(e) {
		return "", fmt.Errorf("addon %s is already installed", e.Name)
	}
	return b.app.Catalog.Install(ctx, e)
}

func (b *localBackend) Installed(context.Context) ([]*api.InstalledAddon, error) {
	refs := b.app.Locator.Scan()
	ret := make([]*api.InstalledAddon, 0, len(refs))
	for _, ref := range refs {
		archivePath, _ := b.app.Locator.ResolveArchivePath(ref)
		ret = append(ret, &api.InstalledAddon{
			ID:          ref.ID,
			Name:        ref.Name,
			Version:     ref.Version,
			ArchivePath: archivePath,
		})
	}
	return ret, nil
}

func (b *localBackend) Check(ctx context.Context) ([]*addon.UpdateInfo, error) {
	if err := b.loadCatalog(ctx); err != nil {
		return nil, err
	}
	updates, ok := b.app.Detector.Check(ctx)
	b.app.Queue.Drain()
	if !ok {
		return nil, errors.New("update check already in progress")
	}
	return updates, ctx.Err()
}

// Download runs the batch and drains the queue until it completed. Updates
// staged before a failure are returned together with the error.
func (b *localBackend) Download(ctx context.Context, names []string) (addon.StagedUpdates, error) {
	updates, err := b.app.SelectUpdates(names)
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	started := b.app.Downloader.DownloadBatch(ctx, updates,
		func(index int, u *addon.UpdateInfo, written, total int64) {
			if total > 0 && written == total {
				b.log.Infof("[%d/%d] downloaded %s (%d bytes)", index+1, len(updates), u.AddonName, written)
			}
		},
		nil,
		func(ok bool, errText string) {
			if ok {
				done <- nil
				return
			}
			done <- errors.New(errText)
		},
	)
	if !started {
		b.app.Queue.Drain()
		return nil, <-done
	}
	ticker := time.NewTicker(queueTick)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			return b.app.Downloader.Staged(), err
		case <-ticker.C:
			b.app.Queue.Drain()
		}
	}
}

func (b *localBackend) InstallStaged(context.Context) (*api.InstallStagedResponse, error) {
	script, staged, err := b.app.InstallStaged()
	if err != nil {
		return nil, err
	}
	return &api.InstallStagedResponse{Script: script, Addons: staged.Names()}, nil
}

type remoteBackend struct {
	client *client.Client
}

func (b *remoteBackend) Close() {}

func (b *remoteBackend) Search(ctx context.Context, query string) ([]*api.Addon, error) {
	return b.client.GetAddons(ctx, query)
}

func (b *remoteBackend) Install(ctx context.Context, name string) (string, error) {
	res, err := b.client.InstallAddon(ctx, name)
	if err != nil {
		return "", err
	}
	return res.Path, nil
}

func (b *remoteBackend) Installed(ctx context.Context) ([]*api.InstalledAddon, error) {
	return b.client.GetInstalled(ctx)
}

func (b *remoteBackend) Check(ctx context.Context) ([]*addon.UpdateInfo, error) {
	var errResp *client.ErrorResponse
	if err := b.client.CheckUpdates(ctx); err != nil && !(errors.As(err, &errResp) && errResp.StatusCode == 409) {
		return nil, err
	}
	res, err := b.client.WaitForUpdates(ctx, pollInterval)
	if err != nil {
		return nil, err
	}
	return res.Updates, nil
}

func (b *remoteBackend) Download(ctx context.Context, names []string) (addon.StagedUpdates, error) {
	if err := b.client.DownloadUpdates(ctx, names...); err != nil {
		return nil, err
	}
	res, err := b.client.WaitForDownload(ctx, pollInterval)
	if err != nil {
		return nil, err
	}
	if !res.LastResult.OK {
		return res.Staged, errors.New(res.LastResult.Error)
	}
	return res.Staged, nil
}

func (b *remoteBackend) InstallStaged(ctx context.Context) (*api.InstallStagedResponse, error) {
	return b.client.InstallStaged(ctx)
}
