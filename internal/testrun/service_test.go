package testrun

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmalmrose/promptlab/internal/models"
	"github.com/jmalmrose/promptlab/internal/provider"
	"github.com/jmalmrose/promptlab/internal/queue"
	"github.com/jmalmrose/promptlab/internal/registry"
)

type completedRow struct {
	output         string
	responseTimeMs int
	totalTokens    *int
	costUSD        *float64
}

type fakeStore struct {
	mu        sync.Mutex
	version   *models.PromptVersion
	createErr error
	created   *models.TestRun
	completed map[string]completedRow
}

func newFakeStore(version *models.PromptVersion) *fakeStore {
	return &fakeStore{version: version, completed: map[string]completedRow{}}
}

func (s *fakeStore) VersionForUser(ctx context.Context, promptID uuid.UUID, version int, userID uuid.UUID) (*models.PromptVersion, error) {
	if s.version == nil {
		return nil, ErrNotFound
	}
	return s.version, nil
}

func (s *fakeStore) CreateRun(ctx context.Context, versionID uuid.UUID, vars map[string]string, modelNames []string) (*models.TestRun, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	run := &models.TestRun{ID: uuid.New(), PromptVersionID: versionID}
	for _, name := range modelNames {
		run.Results = append(run.Results, models.TestResult{ID: uuid.New(), TestRunID: run.ID, Model: name})
	}
	s.created = run
	return run, nil
}

func (s *fakeStore) Run(ctx context.Context, runID uuid.UUID) (*models.TestRun, error) {
	return nil, ErrNotFound
}

func (s *fakeStore) RunForUser(ctx context.Context, runID, userID uuid.UUID) (*models.TestRun, error) {
	return nil, ErrNotFound
}

func (s *fakeStore) CompleteResult(ctx context.Context, runID uuid.UUID, model, output string, responseTimeMs int, totalTokens *int, costUSD *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.completed[model]; done {
		return nil
	}
	s.completed[model] = completedRow{output: output, responseTimeMs: responseTimeMs, totalTokens: totalTokens, costUSD: costUSD}
	return nil
}

func (s *fakeStore) JudgeResult(ctx context.Context, runID, resultID, userID uuid.UUID, passed bool) (*models.TestResult, error) {
	return nil, ErrNotFound
}

func (s *fakeStore) row(model string) (completedRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.completed[model]
	return r, ok
}

type fakeLookup struct {
	configs map[string]*models.ProviderConfig
	err     error
}

func (l *fakeLookup) EnabledByName(ctx context.Context, name string) (*models.ProviderConfig, error) {
	if l.err != nil {
		return nil, l.err
	}
	cfg, ok := l.configs[name]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return cfg, nil
}

type fakeInvoker struct {
	mu      sync.Mutex
	results map[string]*provider.Result
	errs    map[string]error
	prompts map[string]string
	creds   map[string]string
}

func (i *fakeInvoker) Invoke(ctx context.Context, cfg provider.Config, prompt, credential string) (*provider.Result, error) {
	i.mu.Lock()
	if i.prompts == nil {
		i.prompts = map[string]string{}
	}
	if i.creds == nil {
		i.creds = map[string]string{}
	}
	i.prompts[cfg.Name] = prompt
	i.creds[cfg.Name] = credential
	i.mu.Unlock()

	if err, ok := i.errs[cfg.Name]; ok {
		return nil, err
	}
	if res, ok := i.results[cfg.Name]; ok {
		return res, nil
	}
	return &provider.Result{Output: "ok"}, nil
}

type fakeEnqueuer struct {
	payloads []queue.TestRunExecutePayload
	err      error
}

func (e *fakeEnqueuer) EnqueueTestRunExecute(payload queue.TestRunExecutePayload) error {
	if e.err != nil {
		return e.err
	}
	e.payloads = append(e.payloads, payload)
	return nil
}

func enabledConfig(name, kind string) *models.ProviderConfig {
	return &models.ProviderConfig{ID: uuid.New(), Name: name, Kind: kind, Enabled: true}
}

func TestStartRendersPromptAndEnqueues(t *testing.T) {
	version := &models.PromptVersion{ID: uuid.New(), Version: 1, Content: "Hello {name}, greet {name}."}
	store := newFakeStore(version)
	enq := &fakeEnqueuer{}
	svc := NewService(store, &fakeLookup{}, enq, &fakeInvoker{}, nil, Options{})

	runID, err := svc.Start(context.Background(), uuid.New(), uuid.New(), StartRequest{
		VersionNumber:  1,
		VariableValues: map[string]string{"name": "Ada"},
		Models:         []string{"gpt-4", "claude-3"},
	})
	require.NoError(t, err)
	require.Equal(t, store.created.ID, runID)

	require.Len(t, enq.payloads, 1)
	p := enq.payloads[0]
	assert.Equal(t, runID.String(), p.RunID)
	assert.Equal(t, "Hello Ada, greet Ada.", p.Prompt)
	assert.Equal(t, []string{"gpt-4", "claude-3"}, p.Models)
}

func TestStartCollapsesDuplicateModels(t *testing.T) {
	version := &models.PromptVersion{ID: uuid.New(), Version: 1, Content: "hi"}
	store := newFakeStore(version)
	enq := &fakeEnqueuer{}
	svc := NewService(store, &fakeLookup{}, enq, &fakeInvoker{}, nil, Options{})

	_, err := svc.Start(context.Background(), uuid.New(), uuid.New(), StartRequest{
		VersionNumber: 1,
		Models:        []string{"gpt-4", "claude-3", "gpt-4", "gpt-4"},
	})
	require.NoError(t, err)

	// One result row per distinct model, first-seen order kept.
	require.Len(t, store.created.Results, 2)
	require.Len(t, enq.payloads, 1)
	assert.Equal(t, []string{"gpt-4", "claude-3"}, enq.payloads[0].Models)
}

func TestStartValidation(t *testing.T) {
	store := newFakeStore(&models.PromptVersion{ID: uuid.New(), Version: 1})
	svc := NewService(store, &fakeLookup{}, &fakeEnqueuer{}, &fakeInvoker{}, nil, Options{})

	_, err := svc.Start(context.Background(), uuid.New(), uuid.New(), StartRequest{VersionNumber: 0, Models: []string{"m"}})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Start(context.Background(), uuid.New(), uuid.New(), StartRequest{VersionNumber: 1, Models: nil})
	require.ErrorIs(t, err, ErrValidation)
}

func TestStartUnknownVersion(t *testing.T) {
	store := newFakeStore(nil)
	svc := NewService(store, &fakeLookup{}, &fakeEnqueuer{}, &fakeInvoker{}, nil, Options{})

	_, err := svc.Start(context.Background(), uuid.New(), uuid.New(), StartRequest{VersionNumber: 3, Models: []string{"m"}})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExecuteCompletesEveryModel(t *testing.T) {
	store := newFakeStore(nil)
	cost := 0.03
	lookup := &fakeLookup{configs: map[string]*models.ProviderConfig{
		"gpt-4":    {ID: uuid.New(), Name: "gpt-4", Kind: provider.KindOpenAI, Enabled: true, CostPer1K: &cost},
		"claude-3": enabledConfig("claude-3", provider.KindAnthropic),
	}}
	inv := &fakeInvoker{results: map[string]*provider.Result{
		"gpt-4":    {Output: "four", Usage: &provider.Usage{TotalTokens: 2000}},
		"claude-3": {Output: "three"},
	}}
	svc := NewService(store, lookup, &fakeEnqueuer{}, inv, nil, Options{
		Credentials: provider.Credentials{OpenAI: "oa-key", Anthropic: "an-key"},
	})

	runID := uuid.New()
	require.NoError(t, svc.Execute(context.Background(), runID, "say hi", []string{"gpt-4", "claude-3"}))

	row, ok := store.row("gpt-4")
	require.True(t, ok)
	assert.Equal(t, "four", row.output)
	require.NotNil(t, row.totalTokens)
	assert.Equal(t, 2000, *row.totalTokens)
	require.NotNil(t, row.costUSD)
	assert.InDelta(t, 0.06, *row.costUSD, 1e-9)

	row, ok = store.row("claude-3")
	require.True(t, ok)
	assert.Equal(t, "three", row.output)
	assert.Nil(t, row.totalTokens)
	assert.Nil(t, row.costUSD)

	// Credentials are resolved per kind, not globally.
	assert.Equal(t, "oa-key", inv.creds["gpt-4"])
	assert.Equal(t, "an-key", inv.creds["claude-3"])
	assert.Equal(t, "say hi", inv.prompts["gpt-4"])
}

func TestExecuteUnknownModelGetsSentinelRow(t *testing.T) {
	store := newFakeStore(nil)
	lookup := &fakeLookup{configs: map[string]*models.ProviderConfig{}}
	svc := NewService(store, lookup, &fakeEnqueuer{}, &fakeInvoker{}, nil, Options{})

	require.NoError(t, svc.Execute(context.Background(), uuid.New(), "p", []string{"ghost-model"}))

	row, ok := store.row("ghost-model")
	require.True(t, ok)
	assert.Equal(t, "Model provider not found or disabled", row.output)
	assert.Equal(t, 0, row.responseTimeMs)
	assert.Nil(t, row.totalTokens)
}

func TestExecuteFailureIsIsolated(t *testing.T) {
	store := newFakeStore(nil)
	lookup := &fakeLookup{configs: map[string]*models.ProviderConfig{
		"good": enabledConfig("good", provider.KindLocal),
		"bad":  enabledConfig("bad", provider.KindGeneric),
	}}
	inv := &fakeInvoker{
		results: map[string]*provider.Result{"good": {Output: "fine"}},
		errs:    map[string]error{"bad": errors.New("connection refused")},
	}
	svc := NewService(store, lookup, &fakeEnqueuer{}, inv, nil, Options{})

	require.NoError(t, svc.Execute(context.Background(), uuid.New(), "p", []string{"good", "bad"}))

	row, ok := store.row("good")
	require.True(t, ok)
	assert.Equal(t, "fine", row.output)

	row, ok = store.row("bad")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(row.output, "Error: "), "got %q", row.output)
	assert.Contains(t, row.output, "connection refused")
}

func TestExecuteLocalEndpointFallback(t *testing.T) {
	store := newFakeStore(nil)
	lookup := &fakeLookup{configs: map[string]*models.ProviderConfig{
		"llama3": enabledConfig("llama3", provider.KindLocal),
	}}

	var gotEndpoint string
	inv := &invokerFunc{fn: func(ctx context.Context, cfg provider.Config, prompt, credential string) (*provider.Result, error) {
		gotEndpoint = cfg.Endpoint
		return &provider.Result{Output: "ok"}, nil
	}}
	svc := NewService(store, lookup, &fakeEnqueuer{}, inv, nil, Options{
		LocalEndpoint: "http://ollama.internal:11434/v1/chat/completions",
	})

	require.NoError(t, svc.Execute(context.Background(), uuid.New(), "p", []string{"llama3"}))
	assert.Equal(t, "http://ollama.internal:11434/v1/chat/completions", gotEndpoint)
}

type invokerFunc struct {
	fn func(ctx context.Context, cfg provider.Config, prompt, credential string) (*provider.Result, error)
}

func (i *invokerFunc) Invoke(ctx context.Context, cfg provider.Config, prompt, credential string) (*provider.Result, error) {
	return i.fn(ctx, cfg, prompt, credential)
}

func TestExecutePublishesProgress(t *testing.T) {
	store := newFakeStore(nil)
	lookup := &fakeLookup{configs: map[string]*models.ProviderConfig{
		"a": enabledConfig("a", provider.KindGeneric),
		"b": enabledConfig("b", provider.KindGeneric),
	}}
	pub := &countingPublisher{}
	svc := NewService(store, lookup, &fakeEnqueuer{}, &fakeInvoker{}, pub, Options{})

	runID := uuid.New()
	require.NoError(t, svc.Execute(context.Background(), runID, "p", []string{"a", "b"}))

	assert.Equal(t, 2, pub.count())
	assert.Equal(t, runID, pub.last)
}

type countingPublisher struct {
	mu   sync.Mutex
	n    int
	last uuid.UUID
}

func (p *countingPublisher) Publish(ctx context.Context, runID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	p.last = runID
}

func (p *countingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}
