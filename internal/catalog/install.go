package catalog

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/meteor-addons/addon-updater/internal/batch"
	"github.com/meteor-addons/addon-updater/pkg/addon"
)

var ErrNoDownload = errors.New("no compatible download")

// Install downloads a catalog entry into the mods directory. The compatible
// download links are tried in order and the first valid archive wins.
// It returns the path of the installed archive.
func (m *Manager) Install(ctx context.Context, e *addon.Metadata) (string, error) {
	urls := e.DownloadURLs(m.opts.GameVersion)
	if len(urls) == 0 {
		return "", fmt.Errorf("%s: %w for %s", e.Name, ErrNoDownload, m.opts.GameVersion)
	}
	log := m.log.WithField("addon", e.Name)
	var errs []error
	for _, u := range urls {
		fileName := batch.TempFileName(&addon.UpdateInfo{AddonName: e.Name, DownloadURL: u})
		tmpPath := filepath.Join(m.opts.ModsDir, strings.TrimSuffix(fileName, filepath.Ext(fileName))+".tmp")
		err := m.downloadArchive(ctx, u, tmpPath)
		if err != nil {
			log.Warnf("download from %s failed: %v", u, err)
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Errorf("could not remove %s: %v", tmpPath, rmErr)
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}
		target := filepath.Join(m.opts.ModsDir, fileName)
		if err := os.Rename(tmpPath, target); err != nil {
			_ = os.Remove(tmpPath)
			return "", fmt.Errorf("failed to move archive into place: %w", err)
		}
		log.Infof("installed %s", target)
		return target, nil
	}
	return "", fmt.Errorf("failed to install %s: %w", e.Name, errors.Join(errs...))
}

func (m *Manager) downloadArchive(ctx context.Context, u, target string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := m.getClient().Do(req)
	if err != nil {
		return fmt.Errorf("%w: failed to send request: %v", batch.ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status code: %d", batch.ErrNetwork, resp.StatusCode)
	}
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("%w: %v", batch.ErrNetwork, err)
	}
	zr, err := zip.OpenReader(target)
	if err != nil {
		return fmt.Errorf("%w: not a valid archive: %v", batch.ErrIntegrity, err)
	}
	return zr.Close()
}
