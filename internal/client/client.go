// Package client talks to a running whereabouts server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/systemshift/whereabouts/internal/batch"
	"github.com/systemshift/whereabouts/internal/core"
	"github.com/systemshift/whereabouts/internal/location"
	"github.com/systemshift/whereabouts/internal/server/api"
	"github.com/systemshift/whereabouts/internal/server/subscriptions"
)

// DefaultBaseURL is used when no server URL is given
const DefaultBaseURL = "http://localhost:8080"

// Client handles communication with the whereabouts API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for baseURL
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// do sends a request and decodes a JSON response into out when out is not
// nil. Statuses listed in accept are decoded like 2xx.
func (c *Client) do(ctx context.Context, method, path string, body, out any, accept ...int) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s request failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, status := range accept {
		ok = ok || resp.StatusCode == status
	}
	if !ok {
		msg, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Health checks if the server is running
func (c *Client) Health(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// CreateRecord creates a record and returns it as stored
func (c *Client) CreateRecord(ctx context.Context, req api.CreateRecordRequest) (*core.Record, error) {
	var rec core.Record
	if err := c.do(ctx, http.MethodPost, "/api/records", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetRecord retrieves the current version of id. typeName, when set,
// restricts the lookup by type prefix.
func (c *Client) GetRecord(ctx context.Context, id, typeName string) (*core.Record, error) {
	path := "/api/records/" + url.PathEscape(id)
	if typeName != "" {
		path += "?type=" + url.QueryEscape(typeName)
	}
	var rec core.Record
	if err := c.do(ctx, http.MethodGet, path, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateRelation relates two records
func (c *Client) CreateRelation(ctx context.Context, req api.CreateRelationRequest) (*core.Record, error) {
	var rec core.Record
	if err := c.do(ctx, http.MethodPost, "/api/relations", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecomputeLocation resolves one item's location on the server
func (c *Client) RecomputeLocation(ctx context.Context, itemID string) (*location.Update, error) {
	var upd location.Update
	path := "/api/items/" + url.PathEscape(itemID) + "/location/recompute"
	if err := c.do(ctx, http.MethodPost, path, nil, &upd); err != nil {
		return nil, err
	}
	return &upd, nil
}

// RelateMovementToGroup runs the group linker on the server. A run that
// ends in error is returned as an Outcome, not as an error.
func (c *Client) RelateMovementToGroup(ctx context.Context, groupID string) (batch.Outcome, error) {
	var out batch.Outcome
	err := c.do(ctx, http.MethodPost, "/api/batch/relate-movement-to-group",
		api.RelateGroupRequest{GroupID: groupID}, &out, http.StatusUnprocessableEntity)
	return out, err
}

// ListSubscriptions lists the server's webhook subscriptions
func (c *Client) ListSubscriptions(ctx context.Context) ([]subscriptions.Subscription, error) {
	var resp subscriptions.ListSubscriptionsResponse
	if err := c.do(ctx, http.MethodGet, "/api/subscriptions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Subscriptions, nil
}
