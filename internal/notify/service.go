// Package notify fans a red-status monitoring alert out to every active
// webhook channel on record, independent of whatever remediation action
// the firing task itself triggers.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hostwarden/control-plane/internal/store"
	"github.com/hostwarden/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// Event is the alert payload delivered to every channel.
type Event struct {
	TaskID    string                 `json:"task_id"`
	TaskTitle string                 `json:"task_title"`
	ToolName  string                 `json:"tool_name"`
	Status    models.ResultStatus    `json:"status"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Service dispatches alert events to the webhook channels configured in
// the system config.
type Service struct {
	Config store.ConfigStore
	client *http.Client
}

func NewService(cfg store.ConfigStore) *Service {
	return &Service{
		Config: cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// NotifyAlert fans the event out to every active channel concurrently
// and returns one NotifyResult per channel.
func (s *Service) NotifyAlert(ctx context.Context, event Event) []models.NotifyResult {
	cfg, err := s.Config.GetConfig(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("notify: failed to load channel config")
		return nil
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []models.NotifyResult
	)

	for i := range cfg.NotificationChannels {
		ch := cfg.NotificationChannels[i]
		if !ch.Active {
			continue
		}
		wg.Add(1)
		go func(ch models.NotificationChannel) {
			defer wg.Done()
			r := s.send(ctx, ch, event)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}(ch)
	}

	wg.Wait()
	return results
}

func (s *Service) send(ctx context.Context, ch models.NotificationChannel, event Event) models.NotifyResult {
	result := models.NotifyResult{Channel: ch.Name, Timestamp: time.Now().UTC()}

	body, err := json.Marshal(event)
	if err != nil {
		result.Error = fmt.Sprintf("marshal alert payload: %v", err)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ch.URL, bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Sprintf("build webhook request: %v", err)
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hostwarden-Event", string(event.Status))
	req.Header.Set("X-Hostwarden-Task", event.TaskID)

	if ch.Secret != "" {
		mac := hmac.New(sha256.New, []byte(ch.Secret))
		mac.Write(body)
		req.Header.Set("X-Hostwarden-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	if err := s.sendWithRetries(req); err != nil {
		result.Error = err.Error()
		log.Warn().Err(err).Str("channel", ch.Name).Str("task", event.TaskID).Msg("notify: webhook dispatch failed")
		return result
	}

	result.Success = true
	return result
}

// sendWithRetries sends an HTTP request with up to 3 attempts and linear backoff.
func (s *Service) sendWithRetries(req *http.Request) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt*2) * time.Second)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("HTTP %d from %s", resp.StatusCode, req.URL.String())
	}
	return fmt.Errorf("webhook failed after 3 attempts: %w", lastErr)
}
