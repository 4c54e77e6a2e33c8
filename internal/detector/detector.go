package detector

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/meteor-addons/addon-updater/internal/digest"
	"github.com/meteor-addons/addon-updater/internal/mainthread"
	"github.com/meteor-addons/addon-updater/internal/metrics"
	"github.com/meteor-addons/addon-updater/internal/release"
	"github.com/meteor-addons/addon-updater/pkg/addon"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/stats"
	"golang.org/x/sync/errgroup"
)

type InstalledAddons interface {
	Scan() []*addon.InstalledAddonRef
	ResolveArchivePath(ref *addon.InstalledAddonRef) (string, bool)
}

type Catalog interface {
	Available() addon.MetadataList
}

type Releases interface {
	LatestReleaseFromURL(ctx context.Context, repoURL string) *addon.ReleaseInfo
}

type Options struct {
	GameVersion string
	// SelfID is the module id of the updater itself, it is never checked.
	SelfID      string
	Concurrency int
}

type Detector struct {
	log       *logrus.Logger
	installed InstalledAddons
	catalog   Catalog
	releases  Releases
	queue     *mainthread.Queue
	opts      Options

	checking atomic.Bool

	mu        sync.RWMutex
	available []*addon.UpdateInfo
	complete  bool
	callbacks []func([]*addon.UpdateInfo)
}

func New(log *logrus.Logger, installed InstalledAddons, catalog Catalog, releases Releases, queue *mainthread.Queue, opts Options) *Detector {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Detector{
		log:       log,
		installed: installed,
		catalog:   catalog,
		releases:  releases,
		queue:     queue,
		opts:      opts,
	}
}

// OnUpdatesFound registers a callback that receives the results of every
// check that found at least one update. Callbacks run on the main queue.
func (d *Detector) OnUpdatesFound(cb func([]*addon.UpdateInfo)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = append(d.callbacks, cb)
}

// CheckForUpdates starts a check in the background. It returns false without
// doing anything if a check is already running.
func (d *Detector) CheckForUpdates(ctx context.Context) bool {
	if !d.checking.CompareAndSwap(false, true) {
		d.log.Debug("update check already in progress")
		return false
	}
	go d.run(ctx)
	return true
}

// Check runs a check synchronously. The boolean is false if another check was
// already running, in which case nothing is returned.
func (d *Detector) Check(ctx context.Context) ([]*addon.UpdateInfo, bool) {
	if !d.checking.CompareAndSwap(false, true) {
		return nil, false
	}
	return d.run(ctx), true
}

func (d *Detector) IsChecking() bool {
	return d.checking.Load()
}

// IsComplete reports whether at least one check has finished.
func (d *Detector) IsComplete() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.complete
}

func (d *Detector) Available() []*addon.UpdateInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*addon.UpdateInfo(nil), d.available...)
}

func (d *Detector) HasUpdates() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.available) > 0
}

func (d *Detector) run(ctx context.Context) []*addon.UpdateInfo {
	updates := d.scan(ctx)

	d.mu.Lock()
	d.available = updates
	d.complete = true
	callbacks := append([]func([]*addon.UpdateInfo){}, d.callbacks...)
	d.mu.Unlock()
	d.checking.Store(false)

	stats.Record(ctx, metrics.CounterUpdatesFound.M(int64(len(updates))))
	d.log.Infof("update check finished, %d update(s) available", len(updates))
	if len(updates) == 0 {
		return updates
	}
	for _, cb := range callbacks {
		cb := cb
		result := append([]*addon.UpdateInfo(nil), updates...)
		d.queue.Submit(func() {
			cb(result)
		})
	}
	return updates
}

func (d *Detector) scan(ctx context.Context) []*addon.UpdateInfo {
	entries := d.catalog.Available()
	refs := d.installed.Scan()
	d.log.Debugf("checking %d installed addon(s) against %d catalog entries", len(refs), len(entries))

	var mu sync.Mutex
	updates := make([]*addon.UpdateInfo, 0)
	var g errgroup.Group
	g.SetLimit(d.opts.Concurrency)
	for _, ref := range refs {
		if strings.EqualFold(ref.ID, d.opts.SelfID) {
			continue
		}
		ref := ref
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			u := d.checkAddon(ctx, ref, entries)
			if u != nil {
				mu.Lock()
				updates = append(updates, u)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(updates, func(i, j int) bool {
		return strings.ToLower(updates[i].AddonName) < strings.ToLower(updates[j].AddonName)
	})
	return updates
}

// findEntry matches by name first and falls back to the id derived from the entry name.
func findEntry(entries addon.MetadataList, ref *addon.InstalledAddonRef) *addon.Metadata {
	if m := entries.Find(ref.Name); m != nil {
		return m
	}
	for _, m := range entries {
		if strings.EqualFold(m.ID(), ref.ID) {
			return m
		}
	}
	return nil
}

func (d *Detector) checkAddon(ctx context.Context, ref *addon.InstalledAddonRef, entries addon.MetadataList) *addon.UpdateInfo {
	log := d.log.WithField("addon", ref.Name)
	meta := findEntry(entries, ref)
	if meta == nil {
		log.Debug("not in catalog")
		return nil
	}
	archivePath, ok := d.installed.ResolveArchivePath(ref)
	if !ok {
		log.Debug("archive path unknown")
		return nil
	}
	localDigest, err := digest.File(archivePath)
	if err != nil {
		log.Errorf("failed to hash installed archive: %v", err)
		return nil
	}
	repoURL := meta.GitHubURL()
	if repoURL == "" {
		repoURL = ref.GitHubURL()
	}
	if repoURL == "" {
		log.Debug("no repository link")
		return nil
	}
	rel := d.releases.LatestReleaseFromURL(ctx, repoURL)
	if rel == nil {
		log.Debugf("no release for %s", repoURL)
		return nil
	}
	asset := release.SelectAsset(rel, d.opts.GameVersion)
	if asset == nil {
		log.Debugf("no matching asset in release %s", rel.TagName)
		return nil
	}
	remoteDigest := digest.Normalize(asset.Digest)
	if remoteDigest == "" {
		log.Debugf("asset %s has no digest yet", asset.FileName)
		return nil
	}
	if digest.Match(localDigest, remoteDigest) {
		log.Debug("up to date")
		return nil
	}
	log.Infof("update available: %s -> %s", ref.Version, rel.Version())
	return &addon.UpdateInfo{
		Installed:      ref,
		AddonName:      ref.Name,
		CurrentVersion: ref.Version,
		NewVersion:     rel.Version(),
		Changelog:      rel.Changelog,
		DownloadURL:    asset.DownloadURL,
		RemoteDigest:   remoteDigest,
		LocalDigest:    localDigest,
		LocalPath:      archivePath,
	}
}
