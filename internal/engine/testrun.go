package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/testgate/testgate/internal/config"
	"github.com/testgate/testgate/internal/eventbus"
	"github.com/testgate/testgate/internal/eventrepo"
	"github.com/testgate/testgate/internal/fetch"
	"github.com/testgate/testgate/internal/provider"
	"github.com/testgate/testgate/internal/store"
	"github.com/testgate/testgate/internal/suite"
)

// RequestError marks a failure caused by the request itself rather than the
// service. Handlers map it to a 400 response.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string { return e.Err.Error() }

func (e *RequestError) Unwrap() error { return e.Err }

func badRequest(format string, args ...interface{}) error {
	return &RequestError{Err: fmt.Errorf(format, args...)}
}

// StartRequest is the body of a test run start call. Exactly one of
// ArtifactIdentity and ArtifactID selects the artifact under test.
type StartRequest struct {
	ArtifactIdentity       string          `json:"artifact_identity,omitempty"`
	ArtifactID             string          `json:"artifact_id,omitempty"`
	TestSuiteURL           string          `json:"test_suite_url"`
	Dataset                json.RawMessage `json:"dataset,omitempty"`
	IUTProvider            string          `json:"iut_provider,omitempty"`
	ExecutionSpaceProvider string          `json:"execution_space_provider,omitempty"`
	LogAreaProvider        string          `json:"log_area_provider,omitempty"`
}

// StartResponse is returned when a test run has been accepted.
type StartResponse struct {
	TERCC            string `json:"tercc"`
	ArtifactID       string `json:"artifact_id"`
	ArtifactIdentity string `json:"artifact_identity"`
	EventRepository  string `json:"event_repository"`
}

// Engine owns the test run lifecycle. It validates incoming suite
// definitions, resolves the artifact under test, binds resource providers,
// persists the run, and announces it on the message bus.
type Engine struct {
	store     *store.Store
	validator *suite.Validator
	fetcher   *fetch.Client
	events    *eventrepo.Client
	providers *provider.Registry
	publisher eventbus.Publisher
	cfg       *config.Config
	logger    *slog.Logger
}

// NewEngine creates a test run engine.
func NewEngine(
	st *store.Store,
	validator *suite.Validator,
	fetcher *fetch.Client,
	events *eventrepo.Client,
	providers *provider.Registry,
	publisher eventbus.Publisher,
	cfg *config.Config,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     st,
		validator: validator,
		fetcher:   fetcher,
		events:    events,
		providers: providers,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// StartRun executes the full test run start flow and returns the accepted
// run. Failures caused by the request come back as RequestError.
func (e *Engine) StartRun(ctx context.Context, req StartRequest) (*StartResponse, error) {
	if err := validateStartRequest(req); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	e.logger.Info("starting test run", "id", runID, "suite_url", req.TestSuiteURL)

	defs, err := e.downloadSuite(ctx, req.TestSuiteURL)
	if err != nil {
		return nil, err
	}

	if err := e.validateDefinitions(ctx, defs); err != nil {
		return nil, err
	}

	artifact, err := e.resolveArtifact(ctx, req)
	if err != nil {
		return nil, err
	}
	e.logger.Info("artifact resolved", "id", runID, "artifact_id", artifact.ID, "artifact_identity", artifact.Identity)

	bindings, err := e.bindProviders(req)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	run := &store.TestRun{
		ID:                     runID,
		Status:                 store.RunStatusPending,
		ArtifactID:             artifact.ID,
		ArtifactIdentity:       artifact.Identity,
		SuiteNames:             strings.Join(suiteNames(defs), ","),
		SuiteCount:             len(defs),
		IUTProvider:            bindings[provider.TypeIUT],
		ExecutionSpaceProvider: bindings[provider.TypeExecutionSpace],
		LogAreaProvider:        bindings[provider.TypeLogArea],
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := e.store.CreateTestRun(run); err != nil {
		e.logger.Error("failed to persist test run", "id", runID, "error", err)
		return nil, fmt.Errorf("failed to persist test run: %w", err)
	}

	e.announce(ctx, run, eventbus.Announcement{
		Kind:                   eventbus.KindStarted,
		TestRunID:              run.ID,
		ArtifactID:             artifact.ID,
		ArtifactIdentity:       artifact.Identity,
		Suites:                 suiteSummaries(defs),
		IUTProvider:            run.IUTProvider,
		ExecutionSpaceProvider: run.ExecutionSpaceProvider,
		LogAreaProvider:        run.LogAreaProvider,
	})

	e.logger.Info("test run started", "id", run.ID, "suites", run.SuiteCount, "status", run.Status)
	return &StartResponse{
		TERCC:            run.ID,
		ArtifactID:       artifact.ID,
		ArtifactIdentity: artifact.Identity,
		EventRepository:  e.cfg.EventRepository.URL,
	}, nil
}

// AbortRun marks a stored run aborted and announces the abort.
func (e *Engine) AbortRun(ctx context.Context, id string) error {
	run, err := e.store.GetTestRun(id)
	if err != nil {
		return err
	}

	if err := e.store.UpdateTestRunStatus(id, store.RunStatusAborted); err != nil {
		return fmt.Errorf("failed to mark test run aborted: %w", err)
	}

	if err := e.publisher.Publish(ctx, eventbus.Announcement{
		Kind:             eventbus.KindAborted,
		TestRunID:        run.ID,
		ArtifactID:       run.ArtifactID,
		ArtifactIdentity: run.ArtifactIdentity,
	}); err != nil {
		e.logger.Error("failed to publish abort announcement", "id", id, "error", err)
	}

	e.logger.Info("test run aborted", "id", id)
	return nil
}

// GetRun retrieves a stored test run.
func (e *Engine) GetRun(id string) (*store.TestRun, error) {
	return e.store.GetTestRun(id)
}

// RunCounts returns the total number of stored runs and a per-status
// breakdown.
func (e *Engine) RunCounts() (int, map[string]int, error) {
	byStatus, err := e.store.CountTestRunsByStatus()
	if err != nil {
		return 0, nil, err
	}
	total := 0
	for _, n := range byStatus {
		total += n
	}
	return total, byStatus, nil
}

// ValidateSuiteURL downloads a suite definition and validates it without
// starting a run.
func (e *Engine) ValidateSuiteURL(ctx context.Context, url string) error {
	if url == "" {
		return badRequest("test_suite_url is required")
	}
	defs, err := e.downloadSuite(ctx, url)
	if err != nil {
		return err
	}
	return e.validateDefinitions(ctx, defs)
}

// ValidateDefinitions validates raw suite definition JSON without starting a
// run.
func (e *Engine) ValidateDefinitions(ctx context.Context, data []byte) error {
	defs, err := suite.DecodeDefinitions(data)
	if err != nil {
		return badRequest("failed to decode test suite definition: %v", err)
	}
	return e.validateDefinitions(ctx, defs)
}

func validateStartRequest(req StartRequest) error {
	if req.TestSuiteURL == "" {
		return badRequest("test_suite_url is required")
	}
	if req.ArtifactIdentity == "" && req.ArtifactID == "" {
		return badRequest("one of artifact_identity or artifact_id is required")
	}
	if req.ArtifactIdentity != "" && req.ArtifactID != "" {
		return badRequest("only one of artifact_identity and artifact_id can be set")
	}
	return nil
}

// downloadSuite fetches and decodes the suite definition behind url. The
// download gets its own timeout so a slow suite host cannot hold the request
// open past the configured budget.
func (e *Engine) downloadSuite(ctx context.Context, url string) ([]suite.Definition, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Testrun.SuiteTimeout())
	defer cancel()

	body, err := e.fetcher.Get(ctx, url)
	if err != nil {
		return nil, badRequest("failed to download test suite definition: %v", err)
	}

	defs, err := suite.DecodeDefinitions(body)
	if err != nil {
		return nil, badRequest("failed to decode test suite definition: %v", err)
	}
	return defs, nil
}

func (e *Engine) validateDefinitions(ctx context.Context, defs []suite.Definition) error {
	if err := e.validator.Validate(ctx, defs); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return badRequest("test suite validation failed: %v", err)
	}
	return nil
}

func (e *Engine) resolveArtifact(ctx context.Context, req StartRequest) (eventrepo.Artifact, error) {
	query := eventrepo.Query{ID: req.ArtifactID, Identity: req.ArtifactIdentity}
	artifact, found := e.events.Wait(ctx, query)
	if !found {
		if req.ArtifactID != "" {
			return eventrepo.Artifact{}, badRequest("unable to find an artifact with id %q", req.ArtifactID)
		}
		return eventrepo.Artifact{}, badRequest("unable to find an artifact matching identity %q", req.ArtifactIdentity)
	}
	return artifact, nil
}

// bindProviders resolves the provider name for each type, falling back to
// the configured defaults, and verifies every one is registered.
func (e *Engine) bindProviders(req StartRequest) (map[provider.Type]string, error) {
	bindings := map[provider.Type]string{
		provider.TypeIUT:            req.IUTProvider,
		provider.TypeExecutionSpace: req.ExecutionSpaceProvider,
		provider.TypeLogArea:        req.LogAreaProvider,
	}
	defaults := map[provider.Type]string{
		provider.TypeIUT:            e.cfg.Testrun.IUTProvider,
		provider.TypeExecutionSpace: e.cfg.Testrun.ExecutionSpaceProvider,
		provider.TypeLogArea:        e.cfg.Testrun.LogAreaProvider,
	}

	for _, typ := range provider.Types() {
		name := bindings[typ]
		if name == "" {
			name = defaults[typ]
			bindings[typ] = name
		}
		if _, ok := e.providers.Get(typ, name); !ok {
			return nil, badRequest("%s provider %q is not registered", typ, name)
		}
	}
	return bindings, nil
}

// announce publishes a run announcement. Publish failures are logged, not
// returned: the run is already persisted and the bus being down must not
// fail the request.
func (e *Engine) announce(ctx context.Context, run *store.TestRun, ann eventbus.Announcement) {
	if err := e.publisher.Publish(ctx, ann); err != nil {
		e.logger.Error("failed to publish test run announcement", "id", ann.TestRunID, "error", err)
		return
	}
	if err := e.store.UpdateTestRunStatus(run.ID, store.RunStatusAnnounced); err != nil {
		e.logger.Error("failed to mark test run announced", "id", run.ID, "error", err)
		return
	}
	run.Status = store.RunStatusAnnounced
}

func suiteNames(defs []suite.Definition) []string {
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
	}
	return names
}

func suiteSummaries(defs []suite.Definition) []eventbus.SuiteSummary {
	summaries := make([]eventbus.SuiteSummary, 0, len(defs))
	for _, def := range defs {
		summaries = append(summaries, eventbus.SuiteSummary{
			Name:     def.Name,
			Priority: def.Priority,
		})
	}
	return summaries
}
