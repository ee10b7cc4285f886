// Package registration implements the Registration Sync: it converges the
// orchestration API's webcam registrations to the desired set, using the
// same HTTP-transport idiom as internal/streamserver, pointed at a
// Moonraker-shaped webcam endpoint instead of a MediaMTX control API.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mrmees/ravens-perch/internal/apierrors"
	"github.com/mrmees/ravens-perch/internal/config"
	"github.com/mrmees/ravens-perch/internal/logging"
)

// Webcam is the orchestration API's registration payload, per
// SPEC_FULL.md §6: `{uid, name, stream_url, snapshot_url, service}`.
type Webcam struct {
	UID         string `json:"uid"`
	Name        string `json:"name"`
	StreamURL   string `json:"stream_url"`
	SnapshotURL string `json:"snapshot_url"`
	Service     string `json:"service"` // "webrtc-mediamtx" or "hlsstream"
}

// Client talks to the orchestration API.
type Client struct {
	http    *http.Client
	baseURL string
	logger  *logging.Logger
}

// NewClient builds a Client against cfg.BaseURL.
func NewClient(cfg config.OrchestrationConfig, timeout time.Duration, logger *logging.Logger) *Client {
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL: cfg.BaseURL,
		logger:  logger,
	}
}

// HealthCheck probes liveness (SPEC_FULL.md §4.8 step 3).
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/printer/webcams/list", nil)
	return err
}

// ListWebcams returns every registered webcam, regardless of ownership.
func (c *Client) ListWebcams(ctx context.Context) ([]Webcam, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/printer/webcams/list", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Webcams []Webcam `json:"webcams"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, apierrors.Protocol("registration.list_webcams", "", "malformed list response", err)
	}
	return resp.Webcams, nil
}

// Upsert creates or replaces a webcam registration keyed by UID.
func (c *Client) Upsert(ctx context.Context, w Webcam) error {
	body, err := json.Marshal(w)
	if err != nil {
		return apierrors.BadRequest("registration.upsert", "cannot marshal webcam payload")
	}
	_, err = c.doRequest(ctx, http.MethodPost, "/printer/webcams/item", body)
	return err
}

// Delete removes a webcam registration by UID.
func (c *Client) Delete(ctx context.Context, uid string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/printer/webcams/item?uid=%s", uid), nil)
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, data []byte) ([]byte, error) {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, apierrors.BadRequest("registration.request", "cannot build request: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apierrors.Transient("registration.request", "", "deadline exceeded", ctx.Err())
		}
		return nil, apierrors.Unreachable("registration.request", "", "connection failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierrors.Transient("registration.request", "", "read body failed", err)
	}
	if resp.StatusCode >= 400 {
		return nil, apierrors.FromHTTPStatus("registration.request", resp.StatusCode, respBody)
	}
	return respBody, nil
}

// RenderURLs builds the stream and snapshot URLs for uid against baseHost
// and the streaming server's fixed ports, per SPEC_FULL.md §6's URL
// conventions.
func RenderURLs(baseHost string, webrtcPort int, snapshotPathTemplate, uid string) (streamURL, snapshotURL string) {
	streamURL = fmt.Sprintf("http://%s:%d/%s/", baseHost, webrtcPort, uid)
	snapshotURL = fmt.Sprintf(snapshotPathTemplate, baseHost, uid)
	return streamURL, snapshotURL
}
