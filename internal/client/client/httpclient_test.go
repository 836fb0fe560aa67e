package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_Push_SendsBodyAndToken(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, common.PushPath, r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get(common.AuthorizationHeaderName))
		assert.Equal(t, common.ContentTypeJSON, r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", common.ContentTypeJSON)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "tok", time.Second)
	resp, err := c.Push(context.Background(), &PushRequest{
		Entity:    "quotes",
		Operation: common.OperationUpdate,
		Data:      json.RawMessage(`{"total":10}`),
		DeviceID:  "dev-1",
		Timestamp: 42,
	})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.False(t, resp.Conflict)

	assert.Equal(t, "quotes", got.Entity)
	assert.Equal(t, common.OperationUpdate, got.Operation)
	assert.Equal(t, "dev-1", got.DeviceID)
	assert.Equal(t, int64(42), got.Timestamp)
	assert.JSONEq(t, `{"total":10}`, string(got.Data))
}

func TestHTTPClient_Push_Conflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"conflict":true,"serverData":{"total":99}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	resp, err := c.Push(context.Background(), &PushRequest{Entity: "quotes"})
	require.NoError(t, err)
	assert.True(t, resp.Conflict)
	assert.JSONEq(t, `{"total":99}`, string(resp.ServerData))
}

func TestHTTPClient_Pull_SendsSince(t *testing.T) {
	since := time.UnixMilli(1700000000123)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, common.PullPath, r.URL.Path)
		assert.Equal(t, "1700000000123", r.URL.Query().Get(common.SinceParam))
		_, _ = w.Write([]byte(`{"changes":[{"key":"quotes","uuid":"u1","version":3,"operation":"update","data":{"a":1}}],"serverTime":1700000005000}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", time.Second)
	resp, err := c.Pull(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, resp.Changes, 1)
	assert.Equal(t, "quotes", resp.Changes[0].Key)
	assert.Equal(t, "u1", resp.Changes[0].UUID)
	assert.Equal(t, int64(3), resp.Changes[0].Version)
	assert.Equal(t, int64(1700000005000), resp.ServerTime)
}

func TestHTTPClient_Pull_ZeroSince(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0", r.URL.Query().Get(common.SinceParam))
		_, _ = w.Write([]byte(`{"changes":[]}`))
	}))
	defer srv.Close()

	resp, err := NewHTTPClient(srv.URL, "", time.Second).Pull(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Empty(t, resp.Changes)
}

func TestHTTPClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
		{"server error", http.StatusInternalServerError, ErrRemote},
		{"bad request", http.StatusBadRequest, ErrRemote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := NewHTTPClient(srv.URL, "", time.Second).Push(context.Background(), &PushRequest{})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewHTTPClient(srv.URL, "", 50*time.Millisecond).Pull(context.Background(), time.Time{})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestHTTPClient_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClient(url, "", time.Second).Push(context.Background(), &PushRequest{})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPClient_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "", time.Second).Pull(context.Background(), time.Time{})
	require.ErrorIs(t, err, ErrRemote)
}

func TestNewHTTPClient_DefaultTimeout(t *testing.T) {
	c := NewHTTPClient("http://localhost", "", 0)
	assert.Equal(t, DefaultTimeout, c.timeout)
}
