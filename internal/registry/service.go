// Package registry manages provider configs and model presets: the admin
// surface for defining which backends a test run may target.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmalmrose/promptlab/internal/cache"
	"github.com/jmalmrose/promptlab/internal/models"
)

var (
	ErrNotFound      = errors.New("provider config not found")
	ErrDuplicateName = errors.New("name already in use")
)

const (
	enabledCacheKey = "providers:enabled"
	enabledCacheTTL = 30 * time.Second
)

type Service struct {
	db    *pgxpool.Pool
	cache *cache.Cache
}

// NewService builds the registry. cache may be nil; listings then always
// hit the database.
func NewService(db *pgxpool.Pool, c *cache.Cache) *Service {
	return &Service{db: db, cache: c}
}

const providerColumns = "id, name, display_name, kind, endpoint, cost_per_1k, enabled, created_at"

func scanProvider(row pgx.Row) (*models.ProviderConfig, error) {
	var p models.ProviderConfig
	err := row.Scan(&p.ID, &p.Name, &p.DisplayName, &p.Kind, &p.Endpoint, &p.CostPer1K, &p.Enabled, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type ProviderRequest struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Kind        string   `json:"kind"`
	Endpoint    *string  `json:"endpoint,omitempty"`
	CostPer1K   *float64 `json:"cost_per_1k,omitempty"`
	Enabled     *bool    `json:"enabled,omitempty"`
}

func (s *Service) CreateProvider(ctx context.Context, req ProviderRequest) (*models.ProviderConfig, error) {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	p, err := scanProvider(s.db.QueryRow(ctx,
		`INSERT INTO provider_configs (name, display_name, kind, endpoint, cost_per_1k, enabled)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+providerColumns,
		req.Name, req.DisplayName, req.Kind, req.Endpoint, req.CostPer1K, enabled,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("insert provider config: %w", err)
	}

	s.invalidate(ctx)
	return p, nil
}

func (s *Service) UpdateProvider(ctx context.Context, id uuid.UUID, req ProviderRequest) (*models.ProviderConfig, error) {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	p, err := scanProvider(s.db.QueryRow(ctx,
		`UPDATE provider_configs
		 SET name = $2, display_name = $3, kind = $4, endpoint = $5, cost_per_1k = $6, enabled = $7
		 WHERE id = $1
		 RETURNING `+providerColumns,
		id, req.Name, req.DisplayName, req.Kind, req.Endpoint, req.CostPer1K, enabled,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("update provider config: %w", err)
	}

	s.invalidate(ctx)
	return p, nil
}

func (s *Service) DeleteProvider(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM provider_configs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete provider config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) ListProviders(ctx context.Context) ([]models.ProviderConfig, error) {
	return s.listProviders(ctx, false)
}

// ListEnabled serves the model picker; it is read on every test page load,
// so results are cached briefly.
func (s *Service) ListEnabled(ctx context.Context) ([]models.ProviderConfig, error) {
	if s.cache != nil {
		var cached []models.ProviderConfig
		if err := s.cache.Get(ctx, enabledCacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	providers, err := s.listProviders(ctx, true)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, enabledCacheKey, providers, enabledCacheTTL); err != nil {
			slog.Debug("cache providers list", "error", err)
		}
	}
	return providers, nil
}

func (s *Service) listProviders(ctx context.Context, enabledOnly bool) ([]models.ProviderConfig, error) {
	q := "SELECT " + providerColumns + " FROM provider_configs"
	if enabledOnly {
		q += " WHERE enabled"
	}
	q += " ORDER BY display_name ASC"

	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list provider configs: %w", err)
	}
	defer rows.Close()

	var providers []models.ProviderConfig
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider config: %w", err)
		}
		providers = append(providers, *p)
	}
	return providers, rows.Err()
}

// EnabledByName resolves a logical model name for the orchestrator.
// Disabled and unknown names both come back ErrNotFound; the distinction
// is invisible to runs on purpose.
func (s *Service) EnabledByName(ctx context.Context, name string) (*models.ProviderConfig, error) {
	p, err := scanProvider(s.db.QueryRow(ctx,
		"SELECT "+providerColumns+" FROM provider_configs WHERE name = $1 AND enabled", name,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider config %s: %w", name, err)
	}
	return p, nil
}

type PresetRequest struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description"`
	Models      []string `json:"models"`
}

func (s *Service) CreatePreset(ctx context.Context, req PresetRequest) (*models.ModelPreset, error) {
	modelsJSON, _ := json.Marshal(req.Models)

	var p models.ModelPreset
	err := s.db.QueryRow(ctx,
		`INSERT INTO model_presets (name, display_name, description, models)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, name, display_name, description, models, created_at`,
		req.Name, req.DisplayName, req.Description, modelsJSON,
	).Scan(&p.ID, &p.Name, &p.DisplayName, &p.Description, &p.Models, &p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("insert preset: %w", err)
	}
	return &p, nil
}

func (s *Service) DeletePreset(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM model_presets WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete preset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) ListPresets(ctx context.Context) ([]models.ModelPreset, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, display_name, description, models, created_at
		 FROM model_presets ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	defer rows.Close()

	var presets []models.ModelPreset
	for rows.Next() {
		var p models.ModelPreset
		if err := rows.Scan(&p.ID, &p.Name, &p.DisplayName, &p.Description, &p.Models, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan preset: %w", err)
		}
		presets = append(presets, p)
	}
	return presets, rows.Err()
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, enabledCacheKey); err != nil {
		slog.Debug("invalidate providers cache", "error", err)
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
