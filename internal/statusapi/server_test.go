package statusapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersozo/re-dashboard/internal/channel"
	"github.com/ersozo/re-dashboard/internal/metrics"
	"github.com/ersozo/re-dashboard/internal/snapshot"
)

func newTestServer(t *testing.T) (*httptest.Server, *snapshot.Publisher, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	pub := snapshot.NewPublisher(time.Hour, m)
	srv := httptest.NewServer(NewServer(pub, m, nil).Routes())
	t.Cleanup(srv.Close)
	return srv, pub, m
}

func TestHealthz(t *testing.T) {
	srv, pub, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	pub.SetError(errors.New("unit B: retries exhausted"))

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var h health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, "error", h.Status)
	assert.Contains(t, h.Error, "unit B")
}

func TestState(t *testing.T) {
	srv, pub, _ := newTestServer(t)
	pub.Reset(snapshot.SessionInfo{ID: "s1", Entities: []string{"A"}})
	pub.SetChannel(channel.Status{EntityID: "A", State: channel.Ready})
	pub.Publish(&snapshot.Snapshot{
		Version:     1,
		PerEntity:   map[string]json.RawMessage{"A": json.RawMessage(`{"total_success":7}`)},
		PublishedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	})

	resp, err := http.Get(srv.URL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got struct {
		Session  snapshot.SessionInfo `json:"session"`
		Version  uint64               `json:"version"`
		Updating bool                 `json:"updating"`
		Snapshot struct {
			PerEntity map[string]json.RawMessage `json:"perEntity"`
		} `json:"snapshot"`
		Channels []struct {
			EntityID string `json:"entityId"`
			State    string `json:"state"`
		} `json:"channels"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "s1", got.Session.ID)
	assert.Equal(t, uint64(1), got.Version)
	assert.True(t, got.Updating)
	assert.JSONEq(t, `{"total_success":7}`, string(got.Snapshot.PerEntity["A"]))
	require.Len(t, got.Channels, 1)
	assert.Equal(t, "ready", got.Channels[0].State)
}

func TestMetricsRoute(t *testing.T) {
	srv, pub, _ := newTestServer(t)
	pub.Publish(&snapshot.Snapshot{Version: 4, PublishedAt: time.Now()})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "redash_snapshot_version 4")
}

func TestUnknownRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
