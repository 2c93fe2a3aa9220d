package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/resort-booking-core/internal/model"
)

func testOptions(t *testing.T, server string) options {
	return options{
		queuePath:   filepath.Join(t.TempDir(), "queue.bin"),
		queueSecret: "desk-passphrase",
		serverURL:   server,
		jwtSecret:   "jwt-secret",
		subject:     "desk",
		scannerID:   "desk-1",
		timeout:     time.Second,
		tokenTTL:    time.Hour,
	}
}

func tokenJSON(t *testing.T, jti string) string {
	raw, err := json.Marshal(model.CheckinToken{
		JTI: jti, ReservationID: "r1", ExpiresAt: time.Date(2026, 2, 20, 10, 0, 30, 0, time.UTC), RotationVersion: 1, Signature: "ab",
	})
	require.NoError(t, err)
	return string(raw)
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(&bytes.Buffer{})
	return logrus.NewEntry(l)
}

func TestVerifyOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkin/verify", r.URL.Path)
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer ")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(model.CheckinResult{Allowed: true, CheckedIn: true, ReservationID: "r1"})
	}))
	defer srv.Close()

	var out bytes.Buffer
	o := testOptions(t, srv.URL)
	require.NoError(t, run(context.Background(), o, []string{"verify", tokenJSON(t, "jti-1")}, &out, quietLog()))
	assert.Contains(t, out.String(), `"checked_in": true`)
}

func TestVerifyFallsBackToQueueAndSyncs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(model.CheckinResult{Allowed: true, CheckedIn: true, OfflineMode: true})
	}))
	o := testOptions(t, srv.URL)
	srv.Close()

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), o, []string{"verify", tokenJSON(t, "jti-1")}, &out, quietLog()))
	assert.Contains(t, out.String(), `"queued": true`)

	out.Reset()
	require.NoError(t, run(context.Background(), o, []string{"list"}, &out, quietLog()))
	assert.Contains(t, out.String(), "jti-1")

	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(model.CheckinResult{Allowed: true, CheckedIn: true, OfflineMode: true})
	}))
	defer srv.Close()
	o.serverURL = srv.URL

	out.Reset()
	require.NoError(t, run(context.Background(), o, []string{"sync"}, &out, quietLog()))
	assert.Contains(t, out.String(), `"synced": 1`)

	out.Reset()
	require.NoError(t, run(context.Background(), o, []string{"list"}, &out, quietLog()))
	assert.Equal(t, "null\n", out.String())
}

func TestRejectedScanIsNotQueued(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"check-in token was already used","code":"replay_detected"}`))
	}))
	defer srv.Close()

	o := testOptions(t, srv.URL)
	err := run(context.Background(), o, []string{"verify", tokenJSON(t, "jti-1")}, &bytes.Buffer{}, quietLog())
	require.Error(t, err)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), o, []string{"list"}, &out, quietLog()))
	assert.Equal(t, "null\n", out.String())
}

func TestEnqueueRejectsCodes(t *testing.T) {
	o := testOptions(t, "http://127.0.0.1:0")
	err := run(context.Background(), o, []string{"enqueue", "HR-260220-ABCDEF"}, &bytes.Buffer{}, quietLog())
	assert.Error(t, err)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), o, []string{"enqueue", tokenJSON(t, "jti-9")}, &out, quietLog()))
	assert.Contains(t, out.String(), `"queued": true`)
	require.NoError(t, run(context.Background(), o, []string{"clear"}, &bytes.Buffer{}, quietLog()))
}

func TestMintToken(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), testOptions(t, ""), []string{"mint-token"}, &out, quietLog()))
	assert.Contains(t, out.String(), `"access_token"`)

	o := testOptions(t, "")
	o.jwtSecret = ""
	assert.Error(t, run(context.Background(), o, []string{"mint-token"}, &bytes.Buffer{}, quietLog()))
	assert.Error(t, run(context.Background(), o, nil, &bytes.Buffer{}, quietLog()))
}
