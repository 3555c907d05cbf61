// Package engine executes multi-step write work units: preconditions, a
// primary write, dependent fan-out, and compensation when a mandatory
// dependent write fails after the primary committed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/marzen/tandem/pkg/eventbus"
	"github.com/marzen/tandem/pkg/events"
	"github.com/marzen/tandem/pkg/gateway"
	"github.com/marzen/tandem/pkg/models"
	"github.com/marzen/tandem/pkg/otelhelper"
)

// DependentWrite derives one-to-many rows keyed off the primary write's
// identity. Rows are materialized in input order before any write is issued.
type DependentWrite struct {
	Name   string
	Entity string

	// Mandatory writes trigger compensation on failure; optional writes
	// downgrade the unit to partially committed with a warning.
	Mandatory bool

	// Rows derives the dependent rows from the committed primary reference.
	Rows func(primary models.EntityRef) []map[string]any
}

// Plan describes one work unit: the checks to run, the single authoritative
// write, and the dependent writes keyed to it.
type Plan struct {
	TenantID      string
	Preconditions []Precondition
	Primary       models.WriteSpec
	Dependents    []DependentWrite
}

func (p *Plan) validate() error {
	if p.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidPlan)
	}

	if err := p.Primary.Validate(); err != nil {
		return err
	}

	for _, precondition := range p.Preconditions {
		if precondition.Check == nil {
			return fmt.Errorf("%w: precondition %q: %w", ErrInvalidPlan, precondition.Name, errNilCheck)
		}
	}

	for _, dependent := range p.Dependents {
		if dependent.Name == "" || dependent.Entity == "" || dependent.Rows == nil {
			return fmt.Errorf("%w: dependent write %q is incomplete", ErrInvalidPlan, dependent.Name)
		}
	}

	return nil
}

// Engine runs plans against a storage gateway. One Run call maps to one
// work unit, processed start to finish before returning; the engine holds no
// state across calls and imposes no locking of its own.
type Engine struct {
	gateway   gateway.Gateway
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	tracer    trace.Tracer
	batchSize int
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets the event publisher for terminal work unit states.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTracer sets the tracer used for per-step spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithBatchSize caps how many dependent rows go into a single batch write.
// Zero or negative means one batch per dependent write.
func WithBatchSize(size int) Option {
	return func(e *Engine) {
		e.batchSize = size
	}
}

// New creates an engine over the given gateway. The gateway should already
// carry the trust tier the caller is entitled to (tenant-scoped or elevated).
func New(g gateway.Gateway, opts ...Option) *Engine {
	engine := &Engine{
		gateway: g,
		logger:  slog.Default(),
		tracer:  otel.Tracer("tandem"),
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Run executes a plan as one work unit. The returned outcome is always
// non-nil and describes the terminal state; the error is non-nil whenever the
// status is anything other than committed or partially committed, typed so
// callers can distinguish validation, precondition, conflict, rollback, and
// compensation failures.
func (e *Engine) Run(ctx context.Context, plan Plan) (*Outcome, error) {
	wu := models.NewWorkUnit(plan.TenantID)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workunit.run",
		attribute.String(otelhelper.CorrelationIDKey, wu.CorrelationID),
		attribute.String(otelhelper.TenantIDKey, wu.TenantID),
	)
	defer span.End()

	logger := e.logger.With("correlation_id", wu.CorrelationID, "tenant_id", wu.TenantID)

	if err := plan.validate(); err != nil {
		return e.failBeforeWrite(ctx, span, logger, wu, StageValidation, err), err
	}

	if _, preconditionErr := evaluate(ctx, e.gateway, plan.Preconditions); preconditionErr != nil {
		logger.InfoContext(ctx, "Precondition failed",
			"check", preconditionErr.Check.Name,
			"reason", preconditionErr.Check.Reason)

		return e.failBeforeWrite(ctx, span, logger, wu, StagePreconditions, preconditionErr), preconditionErr
	}

	primary, err := e.writePrimary(ctx, plan)
	if err != nil {
		return e.failBeforeWrite(ctx, span, logger, wu, StagePrimaryWrite, err), err
	}

	if transitionErr := wu.Transition(models.WorkUnitStatusPrimaryCommitted); transitionErr != nil {
		return nil, transitionErr
	}

	wu.Primary = &primary

	span.SetAttributes(
		attribute.String(otelhelper.PrimaryEntityKey, primary.Type),
		attribute.String(otelhelper.PrimaryIDKey, primary.ID),
	)

	outcome, err := e.fanOut(ctx, logger, wu, plan, primary)

	e.publishTerminal(ctx, logger, wu, outcome)

	if err != nil {
		otelhelper.SetError(span, err)
	}

	span.SetAttributes(attribute.String(otelhelper.StatusKey, string(wu.Status)))

	return outcome, err
}

// failBeforeWrite finalizes a unit that failed before anything durable was
// written. There is nothing to compensate.
func (e *Engine) failBeforeWrite(ctx context.Context, span trace.Span, logger *slog.Logger, wu *models.WorkUnit, stage Stage, err error) *Outcome {
	_ = wu.Transition(models.WorkUnitStatusFailed)

	otelhelper.SetError(span, err)

	outcome := report(wu, nil, stage, err)
	e.publishTerminal(ctx, logger, wu, outcome)

	return outcome
}

func (e *Engine) writePrimary(ctx context.Context, plan Plan) (models.EntityRef, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workunit.primary_write",
		attribute.String(otelhelper.PrimaryEntityKey, plan.Primary.Entity))
	defer span.End()

	ref, err := e.gateway.Write(ctx, gateway.Mutation{
		Entity: plan.Primary.Entity,
		Fields: plan.Primary.Fields,
	})
	if err != nil {
		otelhelper.SetError(span, err)

		if gateway.IsConflict(err) {
			return models.EntityRef{}, fmt.Errorf("%w: %v", ErrAlreadyExists, err)
		}

		return models.EntityRef{}, fmt.Errorf("%w: %w", ErrPrimaryWriteFailed, err)
	}

	return ref, nil
}

// fanOut runs the dependent writes in declared order and drives the unit to
// its terminal state.
func (e *Engine) fanOut(ctx context.Context, logger *slog.Logger, wu *models.WorkUnit, plan Plan, primary models.EntityRef) (*Outcome, error) {
	var (
		warnings    []string
		writtenRefs []models.EntityRef
	)

	for _, dependent := range plan.Dependents {
		result, refs, failure := e.writeDependent(ctx, dependent, primary)
		wu.Dependents = append(wu.Dependents, result)
		writtenRefs = append(writtenRefs, refs...)

		if failure == nil {
			continue
		}

		if dependent.Mandatory {
			logger.WarnContext(ctx, "Mandatory dependent write failed, compensating",
				"dependent", dependent.Name,
				"failed_index", result.FailedIndex,
				"error", failure)

			return e.compensate(ctx, logger, wu, primary, writtenRefs, failure)
		}

		logger.WarnContext(ctx, "Optional dependent write failed",
			"dependent", dependent.Name,
			"failed_index", result.FailedIndex,
			"error", failure)

		warnings = append(warnings, fmt.Sprintf("%s: %d of %d rows written: %v",
			dependent.Name, result.Succeeded, result.Attempted, failure))
	}

	if len(warnings) > 0 {
		if err := wu.Transition(models.WorkUnitStatusPartiallyCommitted); err != nil {
			return nil, err
		}

		return report(wu, warnings, "", nil), nil
	}

	if err := wu.Transition(models.WorkUnitStatusCommitted); err != nil {
		return nil, err
	}

	return report(wu, nil, "", nil), nil
}

// writeDependent materializes the dependent rows in input order and writes
// them, batched when the gateway supports it, per-row otherwise. Either way
// the failing input index is reported.
func (e *Engine) writeDependent(ctx context.Context, dependent DependentWrite, primary models.EntityRef) (models.DependentWriteResult, []models.EntityRef, *DependentWriteError) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workunit.dependent_write",
		attribute.String(otelhelper.DependentNameKey, dependent.Name))
	defer span.End()

	rows := dependent.Rows(primary)

	result := models.DependentWriteResult{
		Name:        dependent.Name,
		Mandatory:   dependent.Mandatory,
		Attempted:   len(rows),
		FailedIndex: -1,
	}

	if len(rows) == 0 {
		return result, nil, nil
	}

	if batcher, ok := e.gateway.(gateway.BatchWriter); ok {
		size := e.batchSize
		if size <= 0 {
			size = len(rows)
		}

		written := make([]models.EntityRef, 0, len(rows))

		for start := 0; start < len(rows); start += size {
			refs, err := batcher.BatchWrite(ctx, dependent.Entity, rows[start:min(start+size, len(rows))])
			if err != nil {
				otelhelper.SetError(span, err)

				// index is relative to the full input, not the chunk
				index := start
				if batchErr, ok := errAsBatch(err); ok {
					index = start + batchErr.Index
				}

				result.Succeeded = len(written)
				result.FailedIndex = index
				result.Error = err.Error()

				return result, written, &DependentWriteError{Name: dependent.Name, Index: index, Err: err}
			}

			written = append(written, refs...)
		}

		result.Succeeded = len(written)

		return result, written, nil
	}

	written := make([]models.EntityRef, 0, len(rows))

	for i, row := range rows {
		ref, err := e.gateway.Write(ctx, gateway.Mutation{Entity: dependent.Entity, Fields: row})
		if err != nil {
			otelhelper.SetError(span, err)

			result.Succeeded = len(written)
			result.FailedIndex = i
			result.Error = err.Error()

			return result, written, &DependentWriteError{Name: dependent.Name, Index: i, Err: err}
		}

		written = append(written, ref)
	}

	result.Succeeded = len(written)

	return result, written, nil
}

// compensate deletes the rows this unit wrote, dependents first, primary
// last. A failed delete leaves the unit in failed_compensation; that state
// is surfaced loudly, never swallowed.
func (e *Engine) compensate(ctx context.Context, logger *slog.Logger, wu *models.WorkUnit, primary models.EntityRef, writtenRefs []models.EntityRef, failure *DependentWriteError) (*Outcome, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workunit.compensate",
		attribute.String(otelhelper.PrimaryEntityKey, primary.Type),
		attribute.String(otelhelper.PrimaryIDKey, primary.ID))
	defer span.End()

	record := &models.CompensationRecord{
		Action:    "delete",
		Succeeded: true,
	}

	targets := make([]models.EntityRef, 0, len(writtenRefs)+1)
	for i := len(writtenRefs) - 1; i >= 0; i-- {
		targets = append(targets, writtenRefs[i])
	}

	targets = append(targets, primary)
	record.Targets = targets
	wu.Compensation = record

	for _, target := range targets {
		err := e.gateway.Delete(ctx, target)
		if err != nil && !gateway.IsNotFound(err) {
			record.Succeeded = false
			record.Error = err.Error()

			otelhelper.SetError(span, err)

			if transitionErr := wu.Transition(models.WorkUnitStatusFailedCompensation); transitionErr != nil {
				return nil, transitionErr
			}

			compensationErr := &CompensationError{Primary: primary, Err: err}

			logger.ErrorContext(ctx, "Compensation failed, manual cleanup required",
				"primary_entity", primary.Type,
				"primary_id", primary.ID,
				"error", err)

			return report(wu, nil, StageCompensation, compensationErr), compensationErr
		}
	}

	if err := wu.Transition(models.WorkUnitStatusRolledBack); err != nil {
		return nil, err
	}

	return report(wu, nil, StageDependentWrite, failure), failure
}

func (e *Engine) publishTerminal(ctx context.Context, logger *slog.Logger, wu *models.WorkUnit, outcome *Outcome) {
	if e.publisher == nil || outcome == nil || !wu.Status.Terminal() {
		return
	}

	var failureStage, failureReason string
	if outcome.Error != nil {
		failureStage = string(outcome.Error.Stage)
		failureReason = outcome.Error.Reason
	}

	event := events.NewWorkUnitFinished(wu, failureStage, failureReason, outcome.Warnings)

	if err := e.publisher.Publish(ctx, wu.CorrelationID, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish work unit event",
			"event_type", event.Type,
			"error", err)
	}
}

func errAsBatch(err error) (*gateway.BatchError, bool) {
	var batchErr *gateway.BatchError

	ok := errors.As(err, &batchErr)

	return batchErr, ok
}
