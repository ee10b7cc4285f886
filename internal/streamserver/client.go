// Package streamserver implements the Stream Supervisor: it converges the
// streaming server's declared paths to the desired set computed by the
// Reconciler. The HTTP transport below talks to a loopback RTSP/HLS/WebRTC
// server whose paths are named by camera UID.
package streamserver

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

// Client is the streaming server's control-API transport.
type Client struct {
	http    *http.Client
	baseURL string
	logger  *logging.Logger
}

// NewClient builds a Client pointed at the streaming server's control port
// (cfg.APIPort), with a pooled HTTP transport.
func NewClient(cfg config.StreamServerConfig, timeout time.Duration, logger *logging.Logger) *Client {
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL: fmt.Sprintf("http://%s:%d", cfg.Host, cfg.APIPort),
		logger:  logger,
	}
}

// Path mirrors the subset of the streaming server's path configuration
// this engine reads and writes.
type Path struct {
	Name   string `json:"name"`
	Source string `json:"source"` // "publisher" for on-demand camera paths
	RunOnDemand string `json:"runOnDemand,omitempty"`
}

// HealthCheck probes liveness with a short-timeout GET, per SPEC_FULL.md
// §4.8 step 3.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/v3/paths/list", nil)
	return err
}

// ListPaths returns every path currently configured on the streaming
// server, regardless of ownership — ownership filtering (UID-shaped names)
// is the Stream Supervisor's job, not the client's.
func (c *Client) ListPaths(ctx context.Context) ([]Path, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v3/paths/list", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Items []Path `json:"items"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, apierrors.Protocol("streamserver.list_paths", "", "malformed list response", err)
	}
	return resp.Items, nil
}

// CreatePath creates a path that runs the given FFmpeg command on demand.
func (c *Client) CreatePath(ctx context.Context, uid, command string) error {
	body, err := json.Marshal(map[string]interface{}{
		"name":        uid,
		"source":      "publisher",
		"runOnDemand": command,
		"runOnDemandRestart": true,
	})
	if err != nil {
		return apierrors.BadRequest("streamserver.create_path", "cannot marshal create-path request")
	}
	_, err = c.doRequest(ctx, http.MethodPost, "/v3/paths/add/"+uid, body)
	return err
}

// DeletePath removes a path by UID.
func (c *Client) DeletePath(ctx context.Context, uid string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/v3/paths/delete/"+uid, nil)
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, data []byte) ([]byte, error) {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, apierrors.BadRequest("streamserver.request", "cannot build request: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apierrors.Transient("streamserver.request", "", "deadline exceeded", ctx.Err())
		}
		return nil, apierrors.Unreachable("streamserver.request", "", "connection failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierrors.Transient("streamserver.request", "", "read body failed", err)
	}

	if resp.StatusCode >= 400 {
		return nil, apierrors.FromHTTPStatus("streamserver.request", resp.StatusCode, respBody)
	}
	return respBody, nil
}
