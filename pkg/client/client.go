// Package client talks to the local control API of a running updater.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/meteor-addons/addon-updater/pkg/api"
)

type ErrorResponse struct {
	StatusCode int
	ErrorMsg   string `json:"error"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("unexpected status code: %d, error: %s", e.StatusCode, e.ErrorMsg)
}

type Client struct {
	apiURL      string
	accessToken string
	httpClient  *http.Client
}

// New returns a client for the API rooted at serverURL, e.g. "http://127.0.0.1:8765".
func New(serverURL, accessToken string) *Client {
	apiURL, err := url.JoinPath(serverURL, "api/v1")
	if err != nil {
		apiURL = serverURL
	}
	return &Client{
		apiURL:      apiURL,
		accessToken: accessToken,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

func (c *Client) setAuth(r *http.Request) {
	if c.accessToken != "" {
		r.Header.Set("Authorization", c.accessToken)
	}
}

func (c *Client) sendRequest(ctx context.Context, method, endpoint string, body io.Reader, modifyRequestFns ...func(r *http.Request)) (*http.Response, error) {
	apiEndpoint, err := url.JoinPath(c.apiURL, endpoint)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, apiEndpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json; charset=utf-8")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	for _, f := range modifyRequestFns {
		f(req)
	}
	return c.httpClient.Do(req)
}

func (c *Client) decodeResponse(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		err := json.NewDecoder(resp.Body).Decode(&errResp)
		if err != nil {
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		return &errResp
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, v any) error {
	var bodyReader io.Reader
	if body != nil {
		var bodyBuffer bytes.Buffer
		if err := json.NewEncoder(&bodyBuffer).Encode(body); err != nil {
			return err
		}
		bodyReader = &bodyBuffer
	}
	modifyRequestFns := []func(r *http.Request){}
	if method != http.MethodGet {
		modifyRequestFns = append(modifyRequestFns, c.setAuth)
	}
	resp, err := c.sendRequest(ctx, method, endpoint, bodyReader, modifyRequestFns...)
	if err != nil {
		return err
	}
	return c.decodeResponse(resp, v)
}

func (c *Client) GetAddons(ctx context.Context, query string) ([]*api.Addon, error) {
	resp, err := c.sendRequest(ctx, http.MethodGet, "addons", nil, func(r *http.Request) {
		if query != "" {
			r.URL.RawQuery = url.Values{"q": {query}}.Encode()
		}
	})
	if err != nil {
		return nil, err
	}
	var addons []*api.Addon
	if err := c.decodeResponse(resp, &addons); err != nil {
		return nil, err
	}
	return addons, nil
}

func (c *Client) GetInstalled(ctx context.Context) ([]*api.InstalledAddon, error) {
	var installed []*api.InstalledAddon
	if err := c.do(ctx, http.MethodGet, "addons/installed", nil, &installed); err != nil {
		return nil, err
	}
	return installed, nil
}

func (c *Client) InstallAddon(ctx context.Context, name string) (*api.InstallResponse, error) {
	var res api.InstallResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("addons/%s/install", url.PathEscape(name)), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ReloadCatalog(ctx context.Context) error {
	var res api.OKResponse
	return c.do(ctx, http.MethodPost, "catalog/_reload", nil, &res)
}

func (c *Client) CheckUpdates(ctx context.Context) error {
	var res api.OKResponse
	return c.do(ctx, http.MethodPost, "updates/_check", nil, &res)
}

func (c *Client) GetUpdates(ctx context.Context) (*api.UpdatesResponse, error) {
	var res api.UpdatesResponse
	if err := c.do(ctx, http.MethodGet, "updates", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DownloadUpdates starts downloading the named updates, or all of them if no
// name is given.
func (c *Client) DownloadUpdates(ctx context.Context, names ...string) error {
	var res api.OKResponse
	return c.do(ctx, http.MethodPost, "updates/_download", &api.DownloadRequest{Addons: names}, &res)
}

func (c *Client) GetStaged(ctx context.Context) (*api.StagedResponse, error) {
	var res api.StagedResponse
	if err := c.do(ctx, http.MethodGet, "updates/staged", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) DiscardStaged(ctx context.Context) error {
	var res api.OKResponse
	return c.do(ctx, http.MethodDelete, "updates/staged", nil, &res)
}

func (c *Client) InstallStaged(ctx context.Context) (*api.InstallStagedResponse, error) {
	var res api.InstallStagedResponse
	if err := c.do(ctx, http.MethodPost, "updates/_install", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// WaitForUpdates polls until the running update check finished.
func (c *Client) WaitForUpdates(ctx context.Context, interval time.Duration) (*api.UpdatesResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := c.GetUpdates(ctx)
		if err != nil {
			return nil, err
		}
		if res.Complete && !res.Checking {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForDownload polls until the running download batch finished.
func (c *Client) WaitForDownload(ctx context.Context, interval time.Duration) (*api.StagedResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := c.GetStaged(ctx)
		if err != nil {
			return nil, err
		}
		if !res.Downloading && res.LastResult != nil {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
