package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmalmrose/promptlab/internal/models"
)

var (
	// ErrNotFound covers both "does not exist" and "not yours"; callers
	// must not be able to tell the difference.
	ErrNotFound = errors.New("prompt not found")
	// ErrHasRuns blocks deleting a prompt whose versions have recorded
	// test runs.
	ErrHasRuns = errors.New("prompt has recorded test runs")
)

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

type CreateRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (*models.Prompt, *models.PromptVersion, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var p models.Prompt
	err = tx.QueryRow(ctx,
		`INSERT INTO prompts (user_id, title)
		 VALUES ($1, $2)
		 RETURNING id, user_id, title, created_at, updated_at`,
		userID, req.Title,
	).Scan(&p.ID, &p.UserID, &p.Title, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert prompt: %w", err)
	}
	p.VersionCount = 1

	varsJSON, _ := json.Marshal(ExtractVariables(req.Content))

	var v models.PromptVersion
	err = tx.QueryRow(ctx,
		`INSERT INTO prompt_versions (prompt_id, version, content, variables)
		 VALUES ($1, 1, $2, $3)
		 RETURNING id, prompt_id, version, content, variables, created_at`,
		p.ID, req.Content, varsJSON,
	).Scan(&v.ID, &v.PromptID, &v.Version, &v.Content, &v.Variables, &v.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert prompt version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}

	return &p, &v, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]models.Prompt, error) {
	rows, err := s.db.Query(ctx,
		`SELECT p.id, p.user_id, p.title,
		        (SELECT COUNT(*) FROM prompt_versions v WHERE v.prompt_id = p.id),
		        p.created_at, p.updated_at
		 FROM prompts p WHERE p.user_id = $1
		 ORDER BY p.updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	var prompts []models.Prompt
	for rows.Next() {
		var p models.Prompt
		if err := rows.Scan(&p.ID, &p.UserID, &p.Title, &p.VersionCount, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

func (s *Service) GetByID(ctx context.Context, userID, id uuid.UUID) (*models.Prompt, []models.PromptVersion, error) {
	var p models.Prompt
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, title, created_at, updated_at
		 FROM prompts WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&p.ID, &p.UserID, &p.Title, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get prompt: %w", err)
	}

	versions, err := s.Versions(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	p.VersionCount = len(versions)

	return &p, versions, nil
}

func (s *Service) Versions(ctx context.Context, userID, promptID uuid.UUID) ([]models.PromptVersion, error) {
	rows, err := s.db.Query(ctx,
		`SELECT v.id, v.prompt_id, v.version, v.content, v.variables, v.created_at
		 FROM prompt_versions v
		 JOIN prompts p ON p.id = v.prompt_id
		 WHERE v.prompt_id = $1 AND p.user_id = $2
		 ORDER BY v.version DESC`,
		promptID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []models.PromptVersion
	for rows.Next() {
		var v models.PromptVersion
		if err := rows.Scan(&v.ID, &v.PromptID, &v.Version, &v.Content, &v.Variables, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

type NewVersionRequest struct {
	Content string `json:"content"`
}

// CreateVersion appends the next version. Version numbers are never reused:
// the prompt row is locked while the max is read and the insert committed.
func (s *Service) CreateVersion(ctx context.Context, userID, promptID uuid.UUID, req NewVersionRequest) (*models.PromptVersion, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var ownerID uuid.UUID
	err = tx.QueryRow(ctx, "SELECT user_id FROM prompts WHERE id = $1 FOR UPDATE", promptID).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock prompt: %w", err)
	}
	if ownerID != userID {
		return nil, ErrNotFound
	}

	var nextVersion int
	err = tx.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), 0) + 1 FROM prompt_versions WHERE prompt_id = $1",
		promptID,
	).Scan(&nextVersion)
	if err != nil {
		return nil, fmt.Errorf("next version: %w", err)
	}

	varsJSON, _ := json.Marshal(ExtractVariables(req.Content))

	var v models.PromptVersion
	err = tx.QueryRow(ctx,
		`INSERT INTO prompt_versions (prompt_id, version, content, variables)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, prompt_id, version, content, variables, created_at`,
		promptID, nextVersion, req.Content, varsJSON,
	).Scan(&v.ID, &v.PromptID, &v.Version, &v.Content, &v.Variables, &v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.Exec(ctx, "UPDATE prompts SET updated_at = now() WHERE id = $1", promptID)
	if err != nil {
		return nil, fmt.Errorf("touch prompt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &v, nil
}

func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM prompts WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		var pgErr *pgconn.PgError
		// Foreign key violation from test_runs ON DELETE RESTRICT.
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrHasRuns
		}
		return fmt.Errorf("delete prompt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
