// Package settings supplies company-wide configuration: the
// authoritative VAT rate and the approval thresholds.
package settings

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/douma-dental/manager/internal/approval"
	"github.com/douma-dental/manager/internal/ledger"
	"github.com/douma-dental/manager/internal/platform/cache"
)

// Company aggregates the settings the core reads on every tax
// computation and approval decision.
type Company struct {
	VATRate  float64           `json:"vat_rate"`
	Approval approval.Settings `json:"approval"`
}

// RepositoryPort loads settings from storage.
type RepositoryPort interface {
	Load(ctx context.Context) (Company, error)
}

const cacheKey = "settings:company"
const cacheTTL = 5 * time.Minute

// Service reads company settings with a short-lived cache in front.
// Concurrent cold reads are collapsed through singleflight.
type Service struct {
	repo   RepositoryPort
	cache  *cache.Cache
	group  singleflight.Group
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, c *cache.Cache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: c, logger: logger}
}

// Default returns the fallback settings used when storage is
// unreachable or unseeded.
func Default() Company {
	return Company{VATRate: ledger.DefaultVATRate}
}

// Get returns current company settings. Storage failures degrade to the
// documented defaults rather than failing the calling operation.
func (s *Service) Get(ctx context.Context) Company {
	if data, ok := s.cache.Get(ctx, cacheKey); ok {
		var c Company
		if err := json.Unmarshal(data, &c); err == nil {
			return c
		}
	}

	v, err, _ := s.group.Do(cacheKey, func() (any, error) {
		c, err := s.repo.Load(ctx)
		if err != nil {
			return Company{}, err
		}
		if data, err := json.Marshal(c); err == nil {
			s.cache.Set(ctx, cacheKey, data, cacheTTL)
		}
		return c, nil
	})
	if err != nil {
		s.logger.Warn("load company settings, using defaults", slog.Any("error", err))
		return Default()
	}
	return v.(Company)
}

// Invalidate drops the cached settings after an admin edit.
func (s *Service) Invalidate(ctx context.Context) {
	s.cache.Invalidate(ctx, cacheKey)
}
