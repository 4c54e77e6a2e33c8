package release

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/migueleliasweb/go-github-mock/src/mock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestResolver(mockOptions ...mock.MockBackendOption) *Resolver {
	log := logrus.New()
	log.Out = io.Discard
	ghClient := github.NewClient(mock.NewMockedHTTPClient(mockOptions...))
	return NewResolver(log, ghClient, time.Minute, 2)
}

func stringPtr(s string) *string {
	return &s
}

func TestParseRepoURL(t *testing.T) {
	testCases := []struct {
		input         string
		expectedOwner string
		expectedRepo  string
		expectedOk    bool
	}{
		{input: "https://github.com/owner/repo", expectedOwner: "owner", expectedRepo: "repo", expectedOk: true},
		{input: "https://github.com/owner/repo.git", expectedOwner: "owner", expectedRepo: "repo", expectedOk: true},
		{input: "https://github.com/owner/repo/releases/tag/v1.0.0", expectedOwner: "owner", expectedRepo: "repo", expectedOk: true},
		{input: "git@github.com:owner/repo.git", expectedOwner: "owner", expectedRepo: "repo", expectedOk: true},
		{input: "https://github.com/owner/repo?tab=readme", expectedOwner: "owner", expectedRepo: "repo", expectedOk: true},
		{input: "https://github.com/owner", expectedOk: false},
		{input: "https://gitlab.com/owner/repo", expectedOk: false},
		{input: "https://notgithub.com/owner/repo", expectedOk: false},
		{input: "https://gitlab.com/x/y?ref=github.com/evil/repo", expectedOk: false},
		{input: "https://example.com/github.com/owner/repo", expectedOk: false},
		{input: "github.com/owner/repo", expectedOwner: "owner", expectedRepo: "repo", expectedOk: true},
		{input: "https://www.github.com/owner/repo", expectedOwner: "owner", expectedRepo: "repo", expectedOk: true},
		{input: "", expectedOk: false},
	}
	for _, testCase := range testCases {
		owner, repo, ok := ParseRepoURL(testCase.input)
		require.Equal(t, testCase.expectedOk, ok, testCase.input)
		require.Equal(t, testCase.expectedOwner, owner, testCase.input)
		require.Equal(t, testCase.expectedRepo, repo, testCase.input)
	}
}

func TestLatestRelease(t *testing.T) {
	r := newTestResolver(
		mock.WithRequestMatch(
			mock.GetReposReleasesLatestByOwnerByRepo,
			githubRelease{
				TagName: "v1.1.0",
				Name:    "Foo 1.1.0",
				Body:    "- fixed things",
				Assets: []*githubAsset{
					{Name: "foo-1.1.0.jar", BrowserDownloadURL: "https://download.example/foo-1.1.0.jar", Digest: stringPtr("sha256:abcd"), Size: 1234},
					{Name: "foo-1.1.0-sources.zip", BrowserDownloadURL: "https://download.example/foo-1.1.0-sources.zip"},
				},
			},
		),
	)
	release := r.LatestRelease(context.Background(), "owner", "foo")
	require.NotNil(t, release)
	require.Equal(t, "1.1.0", release.Version())
	require.Equal(t, "- fixed things", release.Changelog)
	require.Len(t, release.Assets, 2)
	require.Equal(t, "sha256:abcd", release.Assets[0].Digest)
	require.Equal(t, int64(1234), release.Assets[0].Size)
	require.Equal(t, "", release.Assets[1].Digest)
}

func TestLatestReleaseIsCached(t *testing.T) {
	r := newTestResolver(
		mock.WithRequestMatch(
			mock.GetReposReleasesLatestByOwnerByRepo,
			githubRelease{TagName: "v1.0.0"},
		),
	)
	first := r.LatestRelease(context.Background(), "owner", "foo")
	require.NotNil(t, first)
	// the mock only holds one response, a second request would fail
	second := r.LatestRelease(context.Background(), "Owner", "Foo")
	require.Same(t, first, second)
}

func TestLatestReleaseNotFound(t *testing.T) {
	r := newTestResolver(
		mock.WithRequestMatchHandler(
			mock.GetReposReleasesLatestByOwnerByRepo,
			http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				_, _ = io.WriteString(w, `{"message":"Not Found"}`)
			}),
		),
	)
	require.Nil(t, r.LatestRelease(context.Background(), "owner", "no-releases"))
}

func TestLatestReleaseRateLimited(t *testing.T) {
	r := newTestResolver(
		mock.WithRequestMatchHandler(
			mock.GetReposReleasesLatestByOwnerByRepo,
			http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("X-RateLimit-Limit", "60")
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", "4102444800")
				w.WriteHeader(http.StatusForbidden)
				_, _ = io.WriteString(w, `{"message":"API rate limit exceeded"}`)
			}),
		),
	)
	require.Nil(t, r.LatestRelease(context.Background(), "owner", "foo"))
}

func TestLatestReleaseMalformed(t *testing.T) {
	r := newTestResolver(
		mock.WithRequestMatchHandler(
			mock.GetReposReleasesLatestByOwnerByRepo,
			http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"tag_name": [}`)
			}),
		),
	)
	require.Nil(t, r.LatestRelease(context.Background(), "owner", "foo"))
}

func TestLatestReleaseFromURL(t *testing.T) {
	r := newTestResolver(
		mock.WithRequestMatch(
			mock.GetReposReleasesLatestByOwnerByRepo,
			githubRelease{TagName: "v2.0.0"},
		),
	)
	require.Nil(t, r.LatestReleaseFromURL(context.Background(), "https://example.com/not-github"))
	release := r.LatestReleaseFromURL(context.Background(), "https://github.com/owner/foo.git")
	require.NotNil(t, release)
	require.Equal(t, "2.0.0", release.Version())
}
