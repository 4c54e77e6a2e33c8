package api

import (
	"testing"

	"github.com/meteor-addons/addon-updater/pkg/addon"
	"github.com/stretchr/testify/require"
)

func TestDownloadRequestValidate(t *testing.T) {
	require.NoError(t, (&DownloadRequest{}).Validate())
	require.NoError(t, (&DownloadRequest{Addons: []string{"Foo", "Bar"}}).Validate())
	require.EqualError(t, (&DownloadRequest{Addons: []string{"Foo", " "}}).Validate(), "addon name must not be empty")
	require.EqualError(t, (&DownloadRequest{Addons: []string{"Foo", "foo"}}).Validate(), "addon foo requested multiple times")
}

func TestNewAddon(t *testing.T) {
	a := NewAddon(&addon.Metadata{
		Name:     "Cool Addon",
		Verified: true,
		Repo:     &addon.Repository{ID: "owner/cool-addon"},
		Links:    &addon.Links{Downloads: []string{"https://example.com/cool-1.21.10.jar", "https://example.com/cool-1.21.4.jar"}},
		Custom:   &addon.Custom{Description: "custom"},
	}, "1.21.10", true)
	require.Equal(t, "cool-addon", a.ID)
	require.Equal(t, "custom", a.Description)
	require.Equal(t, "https://github.com/owner/cool-addon", a.GitHubURL)
	require.Equal(t, []string{"https://example.com/cool-1.21.10.jar"}, a.Downloads)
	require.True(t, a.Installed)
}
