package pull

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersozo/re-dashboard/internal/protocol"
)

var testRange = protocol.TimeRange{
	Start: time.Date(2025, 3, 1, 5, 0, 0, 0, time.UTC),
	End:   time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC),
}

func TestHistory(t *testing.T) {
	tests := []struct {
		name     string
		view     protocol.ViewKind
		wantPath string
	}{
		{"standard", protocol.ViewStandard, "/historical-data/Line 1"},
		{"hourly", protocol.ViewHourly, "/historical-hourly-data/Line 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.wantPath, r.URL.Path)
				assert.Equal(t, "2025-03-01T05:00:00.000Z", r.URL.Query().Get("start_time"))
				assert.Equal(t, "mode2", r.URL.Query().Get("working_mode"))
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"unit":"Line 1","total_success":5}`))
			}))
			defer srv.Close()

			c := NewClient(srv.URL+"/", "tok", time.Second)
			raw, err := c.History(context.Background(), tt.view, "Line 1", testRange, protocol.WorkingMode2)
			require.NoError(t, err)
			assert.JSONEq(t, `{"unit":"Line 1","total_success":5}`, string(raw))
		})
	}
}

func TestHistoryRejectsReportView(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", time.Second)
	_, err := c.History(context.Background(), protocol.ViewReport, "A", testRange, protocol.WorkingMode1)
	assert.Error(t, err)
}

func TestReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, protocol.ReportPath, r.URL.Path)
		assert.Equal(t, "A,B", r.URL.Query().Get("units"))
		_, _ = w.Write([]byte(`{"units":{"A":{"total_success":3}},"summary":{"total_success":3}}`))
	}))
	defer srv.Close()

	env, err := NewClient(srv.URL, "", time.Second).Report(context.Background(), []string{"A", "B"}, testRange, "")
	require.NoError(t, err)
	assert.Len(t, env.Units, 1)
	assert.JSONEq(t, `{"total_success":3}`, string(env.Units["A"]))
	assert.JSONEq(t, `{"total_success":3}`, string(env.Summary))
}

func TestUnits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/units", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`["Line 1","Line 2"]`))
	}))
	defer srv.Close()

	units, err := NewClient(srv.URL, "", 0).Units(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Line 1", "Line 2"}, units)
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"No units specified"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).Report(context.Background(), nil, testRange, "")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, protocol.ReportPath, se.Path)
	assert.Contains(t, se.Error(), "No units specified")
}

func TestDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).Units(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestContextCancel(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(srv.URL, "", time.Second).Units(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
