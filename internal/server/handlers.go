package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/meteor-addons/addon-updater/internal/catalog"
	"github.com/meteor-addons/addon-updater/internal/installer"
	"github.com/meteor-addons/addon-updater/internal/metrics"
	"github.com/meteor-addons/addon-updater/pkg/addon"
	"github.com/meteor-addons/addon-updater/pkg/api"
)

func (s *Server) listAddons(w http.ResponseWriter, r *http.Request) {
	entries := s.app.Catalog.Search(r.URL.Query().Get("q"))
	res := make([]*api.Addon, 0, len(entries))
	for _, e := range entries {
		res = append(res, api.NewAddon(e, s.config.GameVersion, s.app.Catalog.IsInstalled(e)))
	}
	if s.app.Catalog.IsLoaded() {
		s.setInCache(r.Context(), s.getCacheKeyFromRequest(r), res)
	}
	s.writeJSON(w, res)
}

func (s *Server) listInstalled(w http.ResponseWriter, r *http.Request) {
	updates := make(map[string]bool)
	for _, u := range s.app.Detector.Available() {
		updates[u.Installed.ID] = true
	}
	refs := s.app.Locator.Scan()
	res := make([]*api.InstalledAddon, 0, len(refs))
	for _, ref := range refs {
		archivePath, _ := s.app.Locator.ResolveArchivePath(ref)
		res = append(res, &api.InstalledAddon{
			ID:              ref.ID,
			Name:            ref.Name,
			Version:         ref.Version,
			ArchivePath:     archivePath,
			UpdateAvailable: updates[ref.ID],
		})
	}
	s.writeJSON(w, res)
}

func (s *Server) installAddon(w http.ResponseWriter, r *http.Request) {
	addonName := chi.URLParam(r, "addon")
	e := s.app.Catalog.Find(addonName)
	if e == nil {
		s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("addon %s not found", addonName))
		return
	}
	if s.app.Catalog.IsInstalled(e) {
		s.writeJSONError(w, r, http.StatusConflict, fmt.Errorf("addon %s is already installed", e.Name))
		return
	}
	s.requestLogger(r).Infof("installing addon %s", e.Name)
	p, err := s.app.Catalog.Install(r.Context(), e)
	if errors.Is(err, catalog.ErrNoDownload) {
		s.writeJSONError(w, r, http.StatusUnprocessableEntity, err)
		return
	}
	if err != nil {
		s.writeJSONError(w, r, http.StatusBadGateway, err, "could not install addon")
		return
	}
	s.invalidateByPrefix(s.getCacheKeyWithPrefix(cacheKeyPrefixRequest, ""))
	s.writeJSONStatus(w, http.StatusCreated, &api.InstallResponse{Path: p})
}

func (s *Server) reloadCatalog(w http.ResponseWriter, r *http.Request) {
	if !s.app.Reload(s.baseCtx) {
		s.writeJSONError(w, r, http.StatusConflict, catalog.ErrLoading)
		return
	}
	s.writeJSONStatus(w, http.StatusAccepted, &api.OKResponse{OK: true, Message: "catalog reload started"})
}

func (s *Server) checkUpdates(w http.ResponseWriter, r *http.Request) {
	if !s.app.Detector.CheckForUpdates(s.baseCtx) {
		s.writeJSONError(w, r, http.StatusConflict, fmt.Errorf("update check already in progress"))
		return
	}
	s.writeJSONStatus(w, http.StatusAccepted, &api.OKResponse{OK: true, Message: "update check started"})
}

func (s *Server) listUpdates(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, &api.UpdatesResponse{
		Checking: s.app.Detector.IsChecking(),
		Complete: s.app.Detector.IsComplete(),
		Updates:  s.app.Detector.Available(),
	})
}

func (s *Server) downloadUpdates(w http.ResponseWriter, r *http.Request) {
	// limit request body to 1MB
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)

	downloadRequest := new(api.DownloadRequest)
	if err := json.NewDecoder(r.Body).Decode(downloadRequest); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSONError(w, r, http.StatusBadRequest, err, "could not decode request")
		return
	}
	if err := downloadRequest.Validate(); err != nil {
		s.writeJSONError(w, r, http.StatusBadRequest, err)
		return
	}
	updates, err := s.app.SelectUpdates(downloadRequest.Addons)
	if err != nil {
		s.writeJSONError(w, r, http.StatusNotFound, err)
		return
	}
	if len(updates) == 0 {
		s.writeJSONError(w, r, http.StatusBadRequest, fmt.Errorf("no updates available"))
		return
	}
	started := s.app.Downloader.DownloadBatch(s.baseCtx, updates, nil, nil, func(ok bool, errText string) {
		s.setDownloadResult(&api.DownloadResult{OK: ok, Error: errText})
	})
	if !started {
		s.writeJSONError(w, r, http.StatusConflict, fmt.Errorf("another download is in progress"))
		return
	}
	s.writeJSONStatus(w, http.StatusAccepted, &api.OKResponse{OK: true, Message: fmt.Sprintf("downloading %d update(s)", len(updates))})
}

func (s *Server) setDownloadResult(res *api.DownloadResult) {
	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	s.downloadResult = res
}

func (s *Server) listStaged(w http.ResponseWriter, r *http.Request) {
	s.resultMu.Lock()
	lastResult := s.downloadResult
	s.resultMu.Unlock()
	staged := s.app.Downloader.Staged()
	if staged == nil {
		staged = addon.StagedUpdates{}
	}
	s.writeJSON(w, &api.StagedResponse{
		Downloading: s.app.Downloader.IsRunning(),
		LastResult:  lastResult,
		Staged:      staged,
	})
}

func (s *Server) discardStaged(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Downloader.Discard(); err != nil {
		s.writeJSONError(w, r, http.StatusInternalServerError, err, "could not remove staged files")
		return
	}
	s.writeJSON(w, &api.OKResponse{OK: true})
}

func (s *Server) installStaged(w http.ResponseWriter, r *http.Request) {
	script, staged, err := s.app.InstallStaged()
	switch {
	case errors.Is(err, installer.ErrNothingStaged):
		s.writeJSONError(w, r, http.StatusBadRequest, err)
		return
	case errors.Is(err, installer.ErrUnsupportedPlatform):
		s.writeJSONError(w, r, http.StatusNotImplemented, err)
		return
	case err != nil:
		s.writeJSONError(w, r, http.StatusInternalServerError, err, "could not launch installer")
		return
	}
	s.writeJSONStatus(w, http.StatusAccepted, &api.InstallStagedResponse{Script: script, Addons: staged.Names()})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, metrics.Snapshot())
}
