package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPKickerCallsKickoffEndpoint(t *testing.T) {
	var gotPath, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Admin-Token")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	k := NewHTTPKicker(srv.URL+"/", "secret", time.Second)
	require.NoError(t, k.Kick(context.Background(), "inst-1"))
	assert.Equal(t, "/api/v1/tasks/inst-1/kickoff", gotPath)
	assert.Equal(t, "secret", gotToken)
}

func TestHTTPKickerReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "task: not in Scheduled state", http.StatusConflict)
	}))
	defer srv.Close()

	err := NewHTTPKicker(srv.URL, "", time.Second).Kick(context.Background(), "inst-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}
