// Package feed talks to the Connector Account feed: the collaborator that
// serves an external account's attributes by connector and external ID.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"correlate/internal/correlation/models"
	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
)

// HTTPClient is the production account feed client.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient constructs a client for the feed at baseURL.
func NewHTTPClient(baseURL string) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("feed base URL is required")
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// FetchAccount retrieves one external account's attributes.
func (c *HTTPClient) FetchAccount(ctx context.Context, connectorID id.ConnectorID, accountID id.AccountID) (*models.Account, error) {
	path := fmt.Sprintf("/v1/connectors/%s/accounts/%s",
		connectorID.String(), url.PathEscape(accountID.String()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "feed request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var account models.Account
		if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode feed response")
		}
		account.ID = accountID
		account.ConnectorID = connectorID
		return &account, nil
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, dErrors.Newf(dErrors.CodeUnavailable, "feed returned status %d", resp.StatusCode)
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, dErrors.Newf(dErrors.CodeInternal, "feed returned status %d", resp.StatusCode)
	}
}
