package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProviderConfig describes one callable model backend. Name doubles as the
// model identifier sent upstream and is unique across all configs.
type ProviderConfig struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Kind        string    `json:"kind" db:"kind"`
	Endpoint    *string   `json:"endpoint,omitempty" db:"endpoint"`
	CostPer1K   *float64  `json:"cost_per_1k,omitempty" db:"cost_per_1k"`
	Enabled     bool      `json:"enabled" db:"enabled"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ModelPreset is a named shortcut for selecting several models at once.
// Entries that no longer resolve to an enabled config are skipped at run
// time, so a preset may go stale without breaking anything.
type ModelPreset struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	DisplayName string          `json:"display_name" db:"display_name"`
	Description string          `json:"description" db:"description"`
	Models      json.RawMessage `json:"models" db:"models"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
