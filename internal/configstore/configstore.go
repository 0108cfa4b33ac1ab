// Package configstore is a thin wrapper over store.ConfigStore exposing
// the single SystemConfig record (C1).
package configstore

import (
	"context"
	"fmt"

	"github.com/hostwarden/control-plane/internal/store"
	"github.com/hostwarden/control-plane/pkg/models"
)

type Service struct {
	Store store.ConfigStore
}

func New(s store.ConfigStore) *Service {
	return &Service{Store: s}
}

// Get returns the persisted system config, or store.ErrConfigNotFound
// if it has never been saved.
func (s *Service) Get(ctx context.Context) (*models.SystemConfig, error) {
	cfg, err := s.Store.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("configstore: %w", err)
	}
	return cfg, nil
}

// Save validates and persists the system config.
func (s *Service) Save(ctx context.Context, cfg *models.SystemConfig) error {
	if cfg.DefaultLLMProvider == "" {
		return fmt.Errorf("configstore: llm_provider is required")
	}
	if _, ok := cfg.LLMProviders[cfg.DefaultLLMProvider]; !ok {
		return fmt.Errorf("configstore: default provider %q has no configured credentials", cfg.DefaultLLMProvider)
	}
	if err := s.Store.SaveConfig(ctx, cfg); err != nil {
		return fmt.Errorf("configstore: save: %w", err)
	}
	return nil
}
