package release

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/meteor-addons/addon-updater/internal/metrics"
	"github.com/meteor-addons/addon-updater/pkg/addon"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/stats"
	"golang.org/x/sync/semaphore"
)

var repoURLRe = regexp.MustCompile(`^(?:https?://|ssh://git@|git@)?(?:www\.)?github\.com[/:]([^/\s?#]+)/([^/\s?#]+)`)

// ParseRepoURL extracts owner and repository name from a GitHub URL.
func ParseRepoURL(repoURL string) (string, string, bool) {
	m := repoURLRe.FindStringSubmatch(strings.TrimSpace(repoURL))
	if len(m) < 3 {
		return "", "", false
	}
	owner, repo := m[1], strings.TrimSuffix(m[2], ".git")
	if owner == "" || repo == "" {
		return "", "", false
	}
	return owner, repo, true
}

type githubAsset struct {
	Name               string  `json:"name"`
	BrowserDownloadURL string  `json:"browser_download_url"`
	Digest             *string `json:"digest"`
	Size               int64   `json:"size"`
}

// githubRelease mirrors the parts of the releases API the updater needs.
// go-github's RepositoryRelease does not carry asset digests.
type githubRelease struct {
	TagName string         `json:"tag_name"`
	Name    string         `json:"name"`
	Body    string         `json:"body"`
	Draft   bool           `json:"draft"`
	Assets  []*githubAsset `json:"assets"`
}

func (r *githubRelease) toReleaseInfo() *addon.ReleaseInfo {
	assets := make([]*addon.AssetInfo, 0, len(r.Assets))
	for _, a := range r.Assets {
		if a == nil {
			continue
		}
		var d string
		if a.Digest != nil {
			d = *a.Digest
		}
		assets = append(assets, &addon.AssetInfo{
			FileName:    a.Name,
			DownloadURL: a.BrowserDownloadURL,
			Digest:      d,
			Size:        a.Size,
		})
	}
	return &addon.ReleaseInfo{
		TagName:   r.TagName,
		Name:      r.Name,
		Changelog: r.Body,
		Assets:    assets,
	}
}

type Resolver struct {
	log         *logrus.Logger
	ghClient    *github.Client
	ghSemaphore *semaphore.Weighted
	cache       *cache.Cache
}

func NewResolver(log *logrus.Logger, ghClient *github.Client, cacheTTL time.Duration, maxConcurrentRequests int64) *Resolver {
	if maxConcurrentRequests < 1 {
		maxConcurrentRequests = 1
	}
	return &Resolver{
		log:         log,
		ghClient:    ghClient,
		ghSemaphore: semaphore.NewWeighted(maxConcurrentRequests),
		cache:       cache.New(cacheTTL, 2*cacheTTL),
	}
}

func cacheKey(owner, repo string) string {
	return fmt.Sprintf("github/%s/%s:latest", strings.ToLower(owner), strings.ToLower(repo))
}

// LatestRelease fetches the latest published release of owner/repo. Missing
// releases, rate limits and malformed responses are logged and yield nil.
func (r *Resolver) LatestRelease(ctx context.Context, owner, repo string) *addon.ReleaseInfo {
	key := cacheKey(owner, repo)
	if cached, ok := r.cache.Get(key); ok {
		stats.Record(ctx, metrics.CounterReleaseCacheHit.M(1))
		return cached.(*addon.ReleaseInfo)
	}
	stats.Record(ctx, metrics.CounterReleaseCacheMiss.M(1))

	log := r.log.WithFields(logrus.Fields{"owner": owner, "repo": repo})
	if err := r.ghSemaphore.Acquire(ctx, 1); err != nil {
		log.Warnf("could not acquire semaphore: %v", err)
		return nil
	}
	defer r.ghSemaphore.Release(1)

	release, err := r.fetchLatestRelease(ctx, owner, repo)
	if err != nil {
		var rateLimitErr *github.RateLimitError
		var abuseErr *github.AbuseRateLimitError
		var errResp *github.ErrorResponse
		switch {
		case errors.As(err, &rateLimitErr), errors.As(err, &abuseErr):
			log.Warnf("rate limited while fetching latest release: %v", err)
		case errors.As(err, &errResp) && errResp.Response != nil && errResp.Response.StatusCode == http.StatusNotFound:
			log.Debug("no published release found")
		default:
			log.Warnf("failed to fetch latest release: %v", err)
		}
		return nil
	}
	if release.Draft {
		log.Debug("latest release is a draft")
		return nil
	}
	info := release.toReleaseInfo()
	r.cache.SetDefault(key, info)
	return info
}

func (r *Resolver) fetchLatestRelease(ctx context.Context, owner, repo string) (*githubRelease, error) {
	req, err := r.ghClient.NewRequest(http.MethodGet, fmt.Sprintf("repos/%s/%s/releases/latest", owner, repo), nil)
	if err != nil {
		return nil, err
	}
	release := new(githubRelease)
	if _, err := r.ghClient.Do(ctx, req, release); err != nil {
		return nil, err
	}
	return release, nil
}

// LatestReleaseFromURL combines ParseRepoURL and LatestRelease.
func (r *Resolver) LatestReleaseFromURL(ctx context.Context, repoURL string) *addon.ReleaseInfo {
	owner, repo, ok := ParseRepoURL(repoURL)
	if !ok {
		return nil
	}
	return r.LatestRelease(ctx, owner, repo)
}

func (r *Resolver) Invalidate() {
	r.cache.Flush()
}
