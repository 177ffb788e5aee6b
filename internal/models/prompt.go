package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Prompt struct {
	ID           uuid.UUID `json:"id" db:"id"`
	UserID       uuid.UUID `json:"user_id" db:"user_id"`
	Title        string    `json:"title" db:"title"`
	VersionCount int       `json:"version_count" db:"version_count"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// PromptVersion is append-only: a content edit creates the next version
// rather than mutating this one.
type PromptVersion struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	PromptID  uuid.UUID       `json:"prompt_id" db:"prompt_id"`
	Version   int             `json:"version" db:"version"`
	Content   string          `json:"content" db:"content"`
	Variables json.RawMessage `json:"variables" db:"variables"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
