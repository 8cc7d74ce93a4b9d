// Package directory talks to the Identity Directory service: candidate
// lookup for scoring and identity provisioning for the create_identity
// outcome. Calls are synchronous; the orchestrator owns retry policy.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"correlate/internal/correlation/models"
	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
)

// HTTPClient is the production directory client.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient constructs a client for the directory at baseURL.
func NewHTTPClient(baseURL string) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("directory base URL is required")
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type candidatesRequest struct {
	ConnectorID string         `json:"connector_id"`
	Attributes  map[string]any `json:"attributes"`
}

type candidatesResponse struct {
	Candidates []models.Candidate `json:"candidates"`
}

// FindCandidates asks the directory for plausible matches to the account's
// attributes.
func (c *HTTPClient) FindCandidates(ctx context.Context, connectorID id.ConnectorID, attributes map[string]any) ([]models.Candidate, error) {
	var resp candidatesResponse
	err := c.post(ctx, "/v1/identities/candidates", candidatesRequest{
		ConnectorID: connectorID.String(),
		Attributes:  attributes,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Candidates, nil
}

type createIdentityRequest struct {
	ConnectorID string         `json:"connector_id"`
	Attributes  map[string]any `json:"attributes"`
}

type createIdentityResponse struct {
	ID string `json:"id"`
}

// CreateIdentity provisions a new identity from account attributes.
func (c *HTTPClient) CreateIdentity(ctx context.Context, connectorID id.ConnectorID, attributes map[string]any) (id.IdentityID, error) {
	var resp createIdentityResponse
	err := c.post(ctx, "/v1/identities", createIdentityRequest{
		ConnectorID: connectorID.String(),
		Attributes:  attributes,
	}, &resp)
	if err != nil {
		return id.IdentityID{}, err
	}
	identityID, err := id.ParseIdentityID(resp.ID)
	if err != nil {
		return id.IdentityID{}, dErrors.Wrap(err, dErrors.CodeInternal, "directory returned malformed identity id")
	}
	return identityID, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal directory request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build directory request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "directory request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "decode directory response")
		}
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		// Transient; the orchestrator's backoff will retry.
		_, _ = io.Copy(io.Discard, resp.Body)
		return dErrors.Newf(dErrors.CodeUnavailable, "directory returned status %d", resp.StatusCode)
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return dErrors.Newf(dErrors.CodeInternal, "directory returned status %d", resp.StatusCode)
	}
}
