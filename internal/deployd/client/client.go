package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	types "github.com/eagraf/habitat-deployd/core/api"
	"github.com/eagraf/habitat-deployd/core/state/deploy"
)

const DefaultAddress = "http://localhost:8090"

// Client talks to the deployd control surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

func NewClient(address string, opts ...Option) (*Client, error) {
	if address == "" {
		address = DefaultAddress
	}
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid deployd address %q: %w", address, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid deployd address %q: scheme must be http or https", address)
	}

	c := &Client{
		baseURL: strings.TrimSuffix(address, "/"),
		// commands wait for preflight checks, so the timeout is generous
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// do sends a request and decodes a successful response into out. Error responses are
// returned as *deploy.Error carrying the server's code.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		marshalled, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(marshalled)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	slurp, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode >= 300 {
		var errResp types.ErrorResponse
		if err := json.Unmarshal(slurp, &errResp); err != nil || errResp.Error == "" {
			return fmt.Errorf("%s %s: %s: %s", method, path, res.Status, strings.TrimSpace(string(slurp)))
		}
		return deploy.NewError(deploy.Code(errResp.Error), errResp.Message, nil)
	}

	if out == nil {
		return nil
	}
	if s, ok := out.(*string); ok {
		*s = string(slurp)
		return nil
	}
	if err := json.Unmarshal(slurp, out); err != nil {
		return fmt.Errorf("decoding response of %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (*deploy.CoarseStatus, error) {
	var status deploy.CoarseStatus
	if err := c.do(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) Deployment(ctx context.Context) (*deploy.Snapshot, error) {
	var snapshot deploy.Snapshot
	if err := c.do(ctx, http.MethodGet, "/deployment/status", nil, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (c *Client) command(ctx context.Context, target deploy.Target, command string, req *types.StartDeploymentRequest) (*types.CommandResponse, error) {
	var resp types.CommandResponse
	path := fmt.Sprintf("/deployment/%s/%s", url.PathEscape(string(target)), command)
	var body interface{}
	if req != nil {
		body = req
	}
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Start(ctx context.Context, target deploy.Target, req types.StartDeploymentRequest) (*types.CommandResponse, error) {
	return c.command(ctx, target, "start", &req)
}

func (c *Client) Stop(ctx context.Context, target deploy.Target) (*types.CommandResponse, error) {
	return c.command(ctx, target, "stop", nil)
}

func (c *Client) Restart(ctx context.Context, target deploy.Target, req types.StartDeploymentRequest) (*types.CommandResponse, error) {
	return c.command(ctx, target, "restart", &req)
}

// Logs returns the tail of channel. A limit of 0 uses the server default.
func (c *Client) Logs(ctx context.Context, channel deploy.Target, limit int) (*types.GetLogsResponse, error) {
	path := "/deployment/logs/" + url.PathEscape(string(channel))
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp types.GetLogsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Processes(ctx context.Context) ([]deploy.ProcessInfo, error) {
	var resp types.GetProcessesResponse
	if err := c.do(ctx, http.MethodGet, "/processes", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Processes, nil
}

func (c *Client) TestEndpoints(ctx context.Context, req types.TestEndpointsRequest) (*types.TestEndpointsResponse, error) {
	var resp types.TestEndpointsResponse
	if err := c.do(ctx, http.MethodPost, "/test-endpoints", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Validation(ctx context.Context, target deploy.Target) (*types.TestEndpointsResponse, error) {
	var resp types.TestEndpointsResponse
	if err := c.do(ctx, http.MethodGet, "/test-endpoints/"+url.PathEscape(string(target)), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var version string
	if err := c.do(ctx, http.MethodGet, "/version", nil, &version); err != nil {
		return "", err
	}
	return version, nil
}
