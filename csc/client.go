// Package csc is a client for the CSC Global Domain Manager API, covering the
// small surface needed to complete dns-01 challenges: zone enumeration, zone
// resolution for an arbitrary FQDN, and TXT record create/delete scoped to a
// managed zone.
package csc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/oauth2"
)

// DefaultBaseURL is the production CSC Domain Manager API endpoint.
const DefaultBaseURL = "https://apis.cscglobal.com/dbs/api/v2"

const defaultHTTPTimeout = 30 * time.Second

// Options configures a Client. APIKey and BearerToken are required.
type Options struct {
	APIKey      string
	BearerToken string
	BaseURL     string        // defaults to DefaultBaseURL
	HTTPTimeout time.Duration // defaults to 30s
	Logger      logr.Logger   // defaults to logr.Discard()
}

// Client performs authenticated calls against the CSC API. The API key and
// bearer token are attached to every request; they are immutable for the
// lifetime of the client and safe to share across goroutines.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        logr.Logger
}

// NewClient creates a Client from the given options.
func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("csc: missing API key")
	}
	if opts.BearerToken == "" {
		return nil, fmt.Errorf("csc: missing bearer token")
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	// The bearer token rides on an oauth2 static token source so every
	// request carries the Authorization header; the apikey header is added
	// per request in do.
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.BearerToken, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Timeout = timeout

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     opts.APIKey,
		httpClient: httpClient,
		log:        log,
	}, nil
}

// do executes an authenticated request and decodes the JSON response into out
// (when out is non-nil). Non-2xx statuses are mapped to *APIError, with
// 401/403 mapped to *CredentialError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &APIError{Message: fmt.Sprintf("marshal request body: %v", err)}
		}
		bodyReader = bytes.NewReader(data)
	}

	reqURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return &APIError{Message: fmt.Sprintf("build request: %v", err)}
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.V(1).Info("api request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Message: fmt.Sprintf("%s %s: %v", method, path, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.errorFromResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Message: fmt.Sprintf("decode %s %s response: %v", method, path, err)}
	}
	return nil
}

// errorFromResponse builds the typed error for a non-2xx response, pulling the
// API's code/description fields out of the body when present.
func (c *Client) errorFromResponse(resp *http.Response) error {
	apiErr := APIError{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err == nil && len(data) > 0 {
		var payload struct {
			Code        string `json:"code"`
			Description string `json:"description"`
			Message     string `json:"message"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Description
			if apiErr.Message == "" {
				apiErr.Message = payload.Message
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &CredentialError{APIError: apiErr}
	}
	return &apiErr
}
