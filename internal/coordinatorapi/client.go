// Package coordinatorapi is a client for the build-coordination service: the
// HTTP API the worker uses to register itself, dequeue build jobs, stream
// structured log output, and report outcomes.
package coordinatorapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/anacondaforge/buildworker/internal/agenthttp"
	"github.com/anacondaforge/buildworker/logger"
	"github.com/google/go-querystring/query"
)

const (
	defaultEndpoint  = "https://api.anaconda.org"
	defaultUserAgent = "anaconda-build-worker/1"
)

// ErrNotFound is returned by PopBuildJob when the coordinator no longer
// recognizes the calling worker (for example: it was deregistered out from
// under the process). It is fatal to the job loop.
var ErrNotFound = errors.New("coordinatorapi: worker not found")

// Config configures a Client.
type Config struct {
	// Endpoint for API requests, with or without a trailing slash.
	Endpoint string

	// Token is the access/registration token sent as a bearer credential.
	Token string

	UserAgent string

	DisableHTTP2 bool
	DebugHTTP    bool
	TraceHTTP    bool

	HTTPClient *http.Client
	TLSConfig  *tls.Config
	Timeout    time.Duration
}

// Client talks to the build coordinator.
type Client struct {
	conf   Config
	client *http.Client
	logger logger.Logger
}

// NewClient returns a Client ready to make requests.
func NewClient(l logger.Logger, conf Config) *Client {
	if conf.Endpoint == "" {
		conf.Endpoint = defaultEndpoint
	}
	if conf.UserAgent == "" {
		conf.UserAgent = defaultUserAgent
	}

	if conf.HTTPClient != nil {
		return &Client{conf: conf, client: conf.HTTPClient, logger: l}
	}

	opts := []agenthttp.ClientOption{
		agenthttp.WithAuthBearer(conf.Token),
		agenthttp.WithAllowHTTP2(!conf.DisableHTTP2),
		agenthttp.WithTLSConfig(conf.TLSConfig),
	}
	if conf.Timeout != 0 {
		opts = append(opts, agenthttp.WithTimeout(conf.Timeout))
	}

	return &Client{
		conf:   conf,
		client: agenthttp.NewClient(opts...),
		logger: l,
	}
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.conf.Endpoint, "/") + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("coordinatorapi: encoding request body: %w", err)
		}
		buf = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.conf.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// withQuery appends the url-tagged fields of opts to path as a query string.
func withQuery(path string, opts any) (string, error) {
	v, err := query.Values(opts)
	if err != nil {
		return "", fmt.Errorf("coordinatorapi: encoding query: %w", err)
	}
	if len(v) == 0 {
		return path, nil
	}
	return path + "?" + v.Encode(), nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	return agenthttp.Do(c.logger, c.client, req,
		agenthttp.WithDebugHTTP(c.conf.DebugHTTP),
		agenthttp.WithTraceHTTP(c.conf.TraceHTTP),
	)
}

// APIError wraps a non-2xx HTTP response.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coordinatorapi: %s: %s", e.Status, e.Body)
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
}
