package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptSendsAnswer(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody CallAcceptRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	err := client.Accept(context.Background(), "tok-1", "call-1", "v=0 answer")
	require.NoError(t, err)

	assert.Equal(t, "/calls/call-1/accept", gotPath)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "v=0 answer", gotBody.Answer.SDP)
}

func TestRejectSendsReason(t *testing.T) {
	var gotPath string
	var gotBody CallRejectRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	err := client.Reject(context.Background(), "tok-1", "call-1", "no_integration")
	require.NoError(t, err)

	assert.Equal(t, "/calls/call-1/reject", gotPath)
	assert.Equal(t, "no_integration", gotBody.Reason)
}

func TestNon2xxSurfacesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "call already ended", http.StatusConflict)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	err := client.Accept(context.Background(), "tok-1", "call-1", "v=0 answer")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}
