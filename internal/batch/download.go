package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/meteor-addons/addon-updater/internal/digest"
	"github.com/meteor-addons/addon-updater/internal/mainthread"
	"github.com/meteor-addons/addon-updater/internal/metrics"
	"github.com/meteor-addons/addon-updater/pkg/addon"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/stats"
)

var (
	ErrNetwork   = errors.New("network error")
	ErrIntegrity = errors.New("integrity check failed")
	ErrBusy      = errors.New("another download is in progress")
)

const tempDirPattern = "meteor-addons-update-*"

// ProgressFunc receives the bytes written so far and the expected total.
// A total of 0 means the size is unknown.
type ProgressFunc func(done, total int64)

type (
	ItemProgressFunc  func(index int, update *addon.UpdateInfo, done, total int64)
	BatchProgressFunc func(completed, total int)
	CompleteFunc      func(ok bool, errText string)
)

type Options struct {
	TempDir      string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
}

type Downloader struct {
	log   *logrus.Logger
	queue *mainthread.Queue
	opts  Options

	clientInit sync.Once
	client     *retryablehttp.Client

	running atomic.Bool

	mu     sync.Mutex
	staged addon.StagedUpdates
}

func New(log *logrus.Logger, queue *mainthread.Queue, opts Options) *Downloader {
	return &Downloader{
		log:   log,
		queue: queue,
		opts:  opts,
	}
}

func (d *Downloader) getClient() *retryablehttp.Client {
	d.clientInit.Do(func() {
		d.client = retryablehttp.NewClient()
		d.client.Logger = nil
		d.client.RetryMax = d.opts.RetryMax
		if d.opts.RetryWaitMin > 0 {
			d.client.RetryWaitMin = d.opts.RetryWaitMin
		}
		if d.opts.Timeout > 0 {
			d.client.HTTPClient.Timeout = d.opts.Timeout
		}
	})
	return d.client
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// TempFileName is the name the staged archive gets inside its temp directory,
// and later in the mods directory.
func TempFileName(u *addon.UpdateInfo) string {
	if parsed, err := url.Parse(u.DownloadURL); err == nil {
		base := path.Base(parsed.Path)
		if strings.HasSuffix(strings.ToLower(base), ".jar") {
			return base
		}
	}
	name := strings.Trim(unsafeNameChars.ReplaceAllString(u.AddonName, "_"), "_")
	if name == "" {
		name = "addon"
	}
	return name + ".jar"
}

type progressWriter struct {
	w          io.Writer
	done       int64
	total      int64
	onProgress ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)
	if p.onProgress != nil {
		p.onProgress(p.done, p.total)
	}
	return n, err
}

// DownloadOne downloads an update into a fresh temp directory and verifies it
// against the remote digest. Only verified artifacts are staged; on any
// failure the temp directory is removed again.
func (d *Downloader) DownloadOne(ctx context.Context, u *addon.UpdateInfo, onProgress ProgressFunc) (*addon.StagedUpdate, error) {
	log := d.log.WithField("addon", u.AddonName)
	dir, err := os.MkdirTemp(d.opts.TempDir, tempDirPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	target := filepath.Join(dir, TempFileName(u))
	if err := d.downloadAndVerify(ctx, u, target, onProgress); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Errorf("could not remove temp dir %s: %v", dir, rmErr)
		}
		if errors.Is(err, ErrIntegrity) {
			stats.Record(ctx, metrics.CounterIntegrityFailures.M(1))
		}
		metrics.RecordResult(ctx, metrics.CounterDownloads, metrics.ResultFailed)
		log.Warnf("download failed: %v", err)
		return nil, err
	}
	metrics.RecordResult(ctx, metrics.CounterDownloads, metrics.ResultOK)
	log.Infof("staged %s", target)

	staged := &addon.StagedUpdate{UpdateInfo: u, TempPath: target}
	d.stage(staged)
	return staged, nil
}

func (d *Downloader) downloadAndVerify(ctx context.Context, u *addon.UpdateInfo, target string, onProgress ProgressFunc) error {
	expected := digest.Normalize(u.RemoteDigest)
	if expected == "" {
		return fmt.Errorf("%w: no digest to verify against", ErrIntegrity)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.DownloadURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	resp, err := d.getClient().Do(req)
	if err != nil {
		return fmt.Errorf("%w: failed to send request: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status code: %d", ErrNetwork, resp.StatusCode)
	}

	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	n, err := io.Copy(&progressWriter{w: f, total: total, onProgress: onProgress}, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("%w: failed to write %s: %v", ErrNetwork, target, err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return fmt.Errorf("%w: unexpected content length: %d (should be %d)", ErrNetwork, n, resp.ContentLength)
	}

	actual, err := digest.File(target)
	if err != nil {
		return err
	}
	if !digest.Match(actual, expected) {
		return fmt.Errorf("%w: expected sha256 %s, got %s", ErrIntegrity, expected, actual)
	}
	return nil
}

// DownloadBatch downloads updates one after another in the background. Every
// item is attempted even if earlier ones failed; cancelling ctx skips the rest.
// onComplete runs once on the main queue with one "<name>: <error>" line per
// failed item. Progress callbacks are invoked from the worker goroutine.
// It returns false if another batch is still running.
func (d *Downloader) DownloadBatch(ctx context.Context, updates []*addon.UpdateInfo, onItemProgress ItemProgressFunc, onBatchProgress BatchProgressFunc, onComplete CompleteFunc) bool {
	if !d.running.CompareAndSwap(false, true) {
		d.complete(onComplete, false, ErrBusy.Error())
		return false
	}
	go func() {
		errs := make([]string, 0)
		for i, u := range updates {
			if err := ctx.Err(); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", u.AddonName, err))
				continue
			}
			i, u := i, u
			_, err := d.DownloadOne(ctx, u, func(done, total int64) {
				if onItemProgress != nil {
					onItemProgress(i, u, done, total)
				}
			})
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", u.AddonName, err))
			}
			if onBatchProgress != nil {
				onBatchProgress(i+1, len(updates))
			}
		}
		d.running.Store(false)
		if len(errs) > 0 {
			d.log.Warnf("%d of %d download(s) failed", len(errs), len(updates))
		}
		d.complete(onComplete, len(errs) == 0, strings.Join(errs, "\n"))
	}()
	return true
}

func (d *Downloader) complete(onComplete CompleteFunc, ok bool, errText string) {
	if onComplete == nil {
		return
	}
	d.queue.Submit(func() {
		onComplete(ok, errText)
	})
}

func (d *Downloader) IsRunning() bool {
	return d.running.Load()
}

// stage adds s to the staged list, replacing an earlier download of the same archive.
func (d *Downloader) stage(s *addon.StagedUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, old := range d.staged {
		if old.LocalPath == s.LocalPath && old.AddonName == s.AddonName {
			if err := os.RemoveAll(old.TempDir()); err != nil {
				d.log.Errorf("could not remove temp dir %s: %v", old.TempDir(), err)
			}
			d.staged[i] = s
			return
		}
	}
	d.staged = append(d.staged, s)
}

func (d *Downloader) Staged() addon.StagedUpdates {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append(addon.StagedUpdates(nil), d.staged...)
}

func (d *Downloader) HasStaged() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.staged) > 0
}

// Take hands the staged list over to the caller and empties it. The temp
// files stay on disk.
func (d *Downloader) Take() addon.StagedUpdates {
	d.mu.Lock()
	defer d.mu.Unlock()
	staged := d.staged
	d.staged = nil
	return staged
}

// Restore puts updates handed out by Take back in front of the staged list.
// An update superseded by a newer download of the same archive in the
// meantime is dropped together with its temp directory.
func (d *Downloader) Restore(staged addon.StagedUpdates) {
	d.mu.Lock()
	defer d.mu.Unlock()
	restored := make(addon.StagedUpdates, 0, len(staged)+len(d.staged))
	for _, s := range staged {
		if d.supersededLocked(s) {
			if err := os.RemoveAll(s.TempDir()); err != nil {
				d.log.Errorf("could not remove temp dir %s: %v", s.TempDir(), err)
			}
			continue
		}
		restored = append(restored, s)
	}
	d.staged = append(restored, d.staged...)
}

func (d *Downloader) supersededLocked(s *addon.StagedUpdate) bool {
	for _, cur := range d.staged {
		if cur.LocalPath == s.LocalPath && cur.AddonName == s.AddonName {
			return true
		}
	}
	return false
}

// Discard deletes every staged artifact together with its temp directory.
func (d *Downloader) Discard() error {
	staged := d.Take()
	var errs []error
	for _, s := range staged {
		if err := os.RemoveAll(s.TempDir()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.AddonName, err))
		}
	}
	if len(staged) > 0 {
		d.log.Infof("discarded %d staged update(s)", len(staged))
	}
	return errors.Join(errs...)
}
