package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/meteor-addons/addon-updater/internal/config"
	"github.com/meteor-addons/addon-updater/internal/mainthread"
	"github.com/meteor-addons/addon-updater/internal/metrics"
	"github.com/meteor-addons/addon-updater/pkg/addon"
	"github.com/sirupsen/logrus"
)

var ErrLoading = errors.New("catalog is already loading")

type InstalledAddons interface {
	Scan() []*addon.InstalledAddonRef
}

type Options struct {
	URL          string
	GameVersion  string
	ModsDir      string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	Ignored      config.IgnoredRepos
}

type Manager struct {
	log       *logrus.Logger
	queue     *mainthread.Queue
	installed InstalledAddons
	opts      Options

	clientInit sync.Once
	client     *retryablehttp.Client

	loading atomic.Bool

	mu        sync.RWMutex
	online    addon.MetadataList
	available addon.MetadataList
	loaded    bool
	lastErr   error
	callbacks []func(error)
}

func New(log *logrus.Logger, queue *mainthread.Queue, installed InstalledAddons, opts Options) *Manager {
	return &Manager{
		log:       log,
		queue:     queue,
		installed: installed,
		opts:      opts,
	}
}

func (m *Manager) getClient() *retryablehttp.Client {
	m.clientInit.Do(func() {
		m.client = retryablehttp.NewClient()
		m.client.Logger = nil
		m.client.RetryMax = m.opts.RetryMax
		if m.opts.RetryWaitMin > 0 {
			m.client.RetryWaitMin = m.opts.RetryWaitMin
		}
		if m.opts.Timeout > 0 {
			m.client.HTTPClient.Timeout = m.opts.Timeout
		}
	})
	return m.client
}

// OnLoadComplete registers a callback that runs on the main queue after every
// load, with the load error if there was one.
func (m *Manager) OnLoadComplete(cb func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Fetch loads the catalog in the background. It returns false if a load is
// already running.
func (m *Manager) Fetch(ctx context.Context) bool {
	if !m.loading.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		_ = m.load(ctx)
	}()
	return true
}

// Load fetches the catalog and waits for the result.
func (m *Manager) Load(ctx context.Context) error {
	if !m.loading.CompareAndSwap(false, true) {
		return ErrLoading
	}
	return m.load(ctx)
}

func (m *Manager) load(ctx context.Context) error {
	online, err := m.fetch(ctx)
	var available addon.MetadataList
	if err == nil {
		available = m.filter(online)
		m.log.Infof("loaded %d catalog entries, %d available for %s", len(online), len(available), m.opts.GameVersion)
		metrics.RecordResult(ctx, metrics.CounterCatalogLoads, metrics.ResultOK)
	} else {
		m.log.Warnf("failed to load catalog: %v", err)
		metrics.RecordResult(ctx, metrics.CounterCatalogLoads, metrics.ResultFailed)
	}

	m.mu.Lock()
	if err == nil {
		m.online = online
		m.available = available
		m.loaded = true
	}
	m.lastErr = err
	callbacks := append([]func(error){}, m.callbacks...)
	m.mu.Unlock()
	m.loading.Store(false)

	for _, cb := range callbacks {
		cb := cb
		m.queue.Submit(func() {
			cb(err)
		})
	}
	return err
}

func (m *Manager) fetch(ctx context.Context) (addon.MetadataList, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, m.opts.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := m.getClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	var list addon.MetadataList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	ret := make(addon.MetadataList, 0, len(list))
	for _, e := range list {
		if e != nil && e.Name != "" {
			ret = append(ret, e)
		}
	}
	return ret, nil
}

// filter keeps verified entries for the current game version, drops ignored
// repositories and keeps only the first entry of every name.
func (m *Manager) filter(online addon.MetadataList) addon.MetadataList {
	seen := make(map[string]bool)
	ret := make(addon.MetadataList, 0, len(online))
	for _, e := range online {
		if !e.Verified || !e.SupportsVersion(m.opts.GameVersion) {
			continue
		}
		if e.Repo != nil && m.opts.Ignored.Contains(e.Repo.ID) {
			continue
		}
		key := strings.ToLower(e.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		ret = append(ret, e)
	}
	return ret
}

// Online is the unfiltered catalog as last fetched.
func (m *Manager) Online() addon.MetadataList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append(addon.MetadataList(nil), m.online...)
}

func (m *Manager) Available() addon.MetadataList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append(addon.MetadataList(nil), m.available...)
}

func (m *Manager) Find(name string) *addon.Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.available.Find(name)
}

func (m *Manager) IsLoading() bool {
	return m.loading.Load()
}

func (m *Manager) IsLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}

func anyContainsFold(values []string, substr string) bool {
	for _, v := range values {
		if containsFold(v, substr) {
			return true
		}
	}
	return false
}

func matches(e *addon.Metadata, q string) bool {
	if containsFold(e.Name, q) || containsFold(e.DisplayDescription(), q) || anyContainsFold(e.Authors, q) {
		return true
	}
	if f := e.Features; f != nil {
		if anyContainsFold(f.Modules, q) || anyContainsFold(f.Commands, q) || anyContainsFold(f.CustomScreens, q) {
			return true
		}
	}
	return e.Custom != nil && anyContainsFold(e.Custom.Tags, q)
}

// Search filters the available entries case-insensitively. An empty query
// returns everything.
func (m *Manager) Search(query string) addon.MetadataList {
	q := strings.ToLower(strings.TrimSpace(query))
	available := m.Available()
	if q == "" {
		return available
	}
	ret := make(addon.MetadataList, 0)
	for _, e := range available {
		if matches(e, q) {
			ret = append(ret, e)
		}
	}
	return ret
}

// IsInstalled reports whether a loaded addon matches the catalog entry by
// name or by id.
func (m *Manager) IsInstalled(e *addon.Metadata) bool {
	if e == nil {
		return false
	}
	for _, ref := range m.installed.Scan() {
		if strings.EqualFold(ref.Name, e.Name) || strings.EqualFold(ref.ID, e.ID()) {
			return true
		}
	}
	return false
}
