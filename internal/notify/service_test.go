package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hostwarden/control-plane/pkg/models"
	"github.com/stretchr/testify/require"
)

type stubConfigStore struct {
	cfg *models.SystemConfig
}

func (s *stubConfigStore) GetConfig(ctx context.Context) (*models.SystemConfig, error) {
	return s.cfg, nil
}
func (s *stubConfigStore) SaveConfig(ctx context.Context, cfg *models.SystemConfig) error {
	s.cfg = cfg
	return nil
}

func TestNotifyAlert_SkipsInactiveChannels(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &models.SystemConfig{NotificationChannels: []models.NotificationChannel{
		{Name: "active", URL: srv.URL, Active: true},
		{Name: "inactive", URL: srv.URL, Active: false},
	}}
	svc := NewService(&stubConfigStore{cfg: cfg})

	results := svc.NotifyAlert(context.Background(), Event{TaskID: "t1", Status: models.StatusRed})
	require.Len(t, results, 1)
	require.Equal(t, "active", results[0].Channel)
	require.True(t, results[0].Success)
	require.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestNotifyAlert_DispatchesToAllActiveChannelsConcurrently(t *testing.T) {
	var mu sync.Mutex
	var hitURLs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hitURLs = append(hitURLs, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &models.SystemConfig{NotificationChannels: []models.NotificationChannel{
		{Name: "a", URL: srv.URL + "/a", Active: true},
		{Name: "b", URL: srv.URL + "/b", Active: true},
	}}
	svc := NewService(&stubConfigStore{cfg: cfg})

	results := svc.NotifyAlert(context.Background(), Event{TaskID: "t1", Status: models.StatusRed})
	require.Len(t, results, 2)
	require.ElementsMatch(t, []string{"/a", "/b"}, hitURLs)
}

func TestNotifyAlert_SignsPayloadWhenSecretSet(t *testing.T) {
	const secret = "shh-its-a-secret"
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Hostwarden-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &models.SystemConfig{NotificationChannels: []models.NotificationChannel{
		{Name: "signed", URL: srv.URL, Active: true, Secret: secret},
	}}
	svc := NewService(&stubConfigStore{cfg: cfg})

	results := svc.NotifyAlert(context.Background(), Event{TaskID: "t1", Status: models.StatusRed})
	require.Len(t, results, 1)
	require.True(t, results[0].Success)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	require.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestNotifyAlert_OmitsSignatureHeaderWithoutSecret(t *testing.T) {
	var sigHeaderPresent bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sigHeaderPresent = r.Header["X-Hostwarden-Signature"]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &models.SystemConfig{NotificationChannels: []models.NotificationChannel{
		{Name: "unsigned", URL: srv.URL, Active: true},
	}}
	svc := NewService(&stubConfigStore{cfg: cfg})

	svc.NotifyAlert(context.Background(), Event{TaskID: "t1", Status: models.StatusRed})
	require.False(t, sigHeaderPresent)
}

func TestNotifyAlert_RetriesThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &models.SystemConfig{NotificationChannels: []models.NotificationChannel{
		{Name: "flaky", URL: srv.URL, Active: true},
	}}
	svc := NewService(&stubConfigStore{cfg: cfg})

	results := svc.NotifyAlert(context.Background(), Event{TaskID: "t1", Status: models.StatusRed})
	require.Len(t, results, 1)
	require.True(t, results[0].Success)
	require.EqualValues(t, 2, atomic.LoadInt32(&attempts))
}

func TestNotifyAlert_FailsAfterThreeAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := &models.SystemConfig{NotificationChannels: []models.NotificationChannel{
		{Name: "always-down", URL: srv.URL, Active: true},
	}}
	svc := NewService(&stubConfigStore{cfg: cfg})

	results := svc.NotifyAlert(context.Background(), Event{TaskID: "t1", Status: models.StatusRed})
	require.Len(t, results, 1)
	require.False(t, results[0].Success)
	require.Contains(t, results[0].Error, "3 attempts")
}
