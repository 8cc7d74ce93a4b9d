package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"correlate/internal/correlation/models"
	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
)

func TestHTTPClientFindCandidates(t *testing.T) {
	connectorID := id.NewConnectorID()
	identityID := id.NewIdentityID()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/identities/candidates", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, connectorID.String(), req["connector_id"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []models.Candidate{
				{ID: identityID, Attributes: map[string]any{"email": "jane.doe@example.com"}},
			},
		})
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL)
	require.NoError(t, err)

	candidates, err := client.FindCandidates(context.Background(), connectorID, map[string]any{"email": "jane.doe@example.com"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, identityID, candidates[0].ID)
}

func TestHTTPClientMapsServerErrorsToUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL)
	require.NoError(t, err)

	_, err = client.FindCandidates(context.Background(), id.NewConnectorID(), map[string]any{})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func TestHTTPClientMapsClientErrorsToInternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL)
	require.NoError(t, err)

	_, err = client.FindCandidates(context.Background(), id.NewConnectorID(), map[string]any{})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}

func TestHTTPClientCreateIdentity(t *testing.T) {
	identityID := id.NewIdentityID()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/identities", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": identityID.String()})
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL)
	require.NoError(t, err)

	got, err := client.CreateIdentity(context.Background(), id.NewConnectorID(), map[string]any{"email": "x@example.com"})
	require.NoError(t, err)
	assert.Equal(t, identityID, got)
}

func TestHTTPClientRejectsMalformedIdentityID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "not-a-uuid"})
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL)
	require.NoError(t, err)

	_, err = client.CreateIdentity(context.Background(), id.NewConnectorID(), map[string]any{})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}

func TestHTTPClientRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPClient("")
	require.Error(t, err)
}
