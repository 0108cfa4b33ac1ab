package configstore

import (
	"context"
	"testing"

	"github.com/hostwarden/control-plane/internal/store"
	"github.com/hostwarden/control-plane/pkg/models"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	t.Setenv("HOSTWARDEN_DATA_DIR", t.TempDir())
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func TestConfigStore_GetBeforeSaveReturnsNotFound(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Get(context.Background())
	require.ErrorIs(t, err, store.ErrConfigNotFound)
}

func TestConfigStore_SaveRequiresDefaultProvider(t *testing.T) {
	svc := newTestService(t)
	err := svc.Save(context.Background(), &models.SystemConfig{})
	require.Error(t, err)
}

func TestConfigStore_SaveRequiresCredentialsForDefaultProvider(t *testing.T) {
	svc := newTestService(t)
	err := svc.Save(context.Background(), &models.SystemConfig{
		DefaultLLMProvider: models.LLMProviderAnthropic,
		LLMProviders:       map[models.LLMProvider]models.ProviderConfig{},
	})
	require.Error(t, err)
}

func TestConfigStore_SaveThenGetRoundTrips(t *testing.T) {
	svc := newTestService(t)
	err := svc.Save(context.Background(), &models.SystemConfig{
		DefaultLLMProvider: models.LLMProviderAnthropic,
		LLMProviders: map[models.LLMProvider]models.ProviderConfig{
			models.LLMProviderAnthropic: {Model: "claude-sonnet-4-5"},
		},
	})
	require.NoError(t, err)

	cfg, err := svc.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.LLMProviderAnthropic, cfg.DefaultLLMProvider)
}
