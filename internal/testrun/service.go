// Package testrun coordinates one prompt test across N independently
// resolved models: run creation is synchronous, the fan-out happens on the
// worker, and failures are recorded in result rows rather than failing the
// run.
package testrun

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jmalmrose/promptlab/internal/models"
	"github.com/jmalmrose/promptlab/internal/prompt"
	"github.com/jmalmrose/promptlab/internal/provider"
	"github.com/jmalmrose/promptlab/internal/queue"
	"github.com/jmalmrose/promptlab/internal/registry"
)

// Output written for model names that resolve to no enabled config.
const providerMissingOutput = "Model provider not found or disabled"

// ProviderLookup resolves a logical model name to its enabled config.
type ProviderLookup interface {
	EnabledByName(ctx context.Context, name string) (*models.ProviderConfig, error)
}

// Invoker performs one provider call; satisfied by *provider.Registry.
type Invoker interface {
	Invoke(ctx context.Context, cfg provider.Config, prompt, credential string) (*provider.Result, error)
}

// Enqueuer hands the fan-out to the background worker.
type Enqueuer interface {
	EnqueueTestRunExecute(payload queue.TestRunExecutePayload) error
}

// Publisher announces run progress to stream subscribers. May be nil.
type Publisher interface {
	Publish(ctx context.Context, runID uuid.UUID)
}

type Service struct {
	store     Store
	providers ProviderLookup
	enqueuer  Enqueuer
	invoker   Invoker
	creds     provider.Credentials
	publisher Publisher

	localEndpoint string
	callTimeout   time.Duration
	concurrency   int
}

type Options struct {
	Credentials provider.Credentials
	// LocalEndpoint overrides the default endpoint for "local" kind
	// configs that do not set one themselves.
	LocalEndpoint string
	CallTimeout   time.Duration
	Concurrency   int
}

func NewService(store Store, providers ProviderLookup, enqueuer Enqueuer, invoker Invoker, publisher Publisher, opts Options) *Service {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 60 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Service{
		store:         store,
		providers:     providers,
		enqueuer:      enqueuer,
		invoker:       invoker,
		creds:         opts.Credentials,
		publisher:     publisher,
		localEndpoint: opts.LocalEndpoint,
		callTimeout:   opts.CallTimeout,
		concurrency:   opts.Concurrency,
	}
}

type StartRequest struct {
	VersionNumber  int               `json:"versionNumber"`
	VariableValues map[string]string `json:"variableValues"`
	Models         []string          `json:"models"`
}

// Start validates the request, snapshots the run and its pending result
// rows, and enqueues the fan-out. It returns as soon as the run record
// exists; everything after that is observed through polling or the stream.
func (s *Service) Start(ctx context.Context, userID, promptID uuid.UUID, req StartRequest) (uuid.UUID, error) {
	if req.VersionNumber <= 0 || len(req.Models) == 0 {
		return uuid.Nil, ErrValidation
	}

	// A run holds one result row per model; repeated names collapse.
	modelNames := dedupe(req.Models)

	version, err := s.store.VersionForUser(ctx, promptID, req.VersionNumber, userID)
	if err != nil {
		return uuid.Nil, err
	}

	rendered := prompt.Substitute(version.Content, req.VariableValues)

	run, err := s.store.CreateRun(ctx, version.ID, req.VariableValues, modelNames)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.enqueuer.EnqueueTestRunExecute(queue.TestRunExecutePayload{
		RunID:  run.ID.String(),
		Prompt: rendered,
		Models: modelNames,
	}); err != nil {
		return uuid.Nil, err
	}

	return run.ID, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Execute runs the fan-out for one run. Every model is attempted exactly
// once; a failure on one never cancels the others, and the method itself
// never fails — per-model outcomes land in result rows.
func (s *Service) Execute(ctx context.Context, runID uuid.UUID, renderedPrompt string, modelNames []string) error {
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	for _, name := range modelNames {
		g.Go(func() error {
			s.runModel(ctx, runID, name, renderedPrompt)
			return nil
		})
	}

	return g.Wait()
}

func (s *Service) runModel(ctx context.Context, runID uuid.UUID, name, renderedPrompt string) {
	cfg, err := s.providers.EnabledByName(ctx, name)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			s.complete(ctx, runID, name, providerMissingOutput, 0, nil, nil)
			return
		}
		s.complete(ctx, runID, name, "Error: "+err.Error(), 0, nil, nil)
		return
	}

	pcfg := provider.Config{Name: cfg.Name, Kind: cfg.Kind}
	if cfg.Endpoint != nil {
		pcfg.Endpoint = *cfg.Endpoint
	}
	if pcfg.Endpoint == "" && cfg.Kind == provider.KindLocal {
		pcfg.Endpoint = s.localEndpoint
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.invoker.Invoke(callCtx, pcfg, renderedPrompt, s.creds.For(cfg.Kind))
	if err != nil {
		slog.Warn("provider call failed", "run_id", runID, "model", name, "error", err)
		s.complete(ctx, runID, name, "Error: "+err.Error(), 0, nil, nil)
		return
	}

	responseTime := int(time.Since(start).Milliseconds())

	var totalTokens *int
	var costUSD *float64
	if result.Usage != nil {
		t := result.Usage.TotalTokens
		totalTokens = &t
		if cfg.CostPer1K != nil {
			c := float64(t) / 1000 * *cfg.CostPer1K
			costUSD = &c
		}
	}

	s.complete(ctx, runID, name, result.Output, responseTime, totalTokens, costUSD)
}

func (s *Service) complete(ctx context.Context, runID uuid.UUID, model, output string, responseTimeMs int, totalTokens *int, costUSD *float64) {
	if err := s.store.CompleteResult(ctx, runID, model, output, responseTimeMs, totalTokens, costUSD); err != nil {
		slog.Error("write test result", "run_id", runID, "model", model, "error", err)
		return
	}
	if s.publisher != nil {
		s.publisher.Publish(ctx, runID)
	}
}
