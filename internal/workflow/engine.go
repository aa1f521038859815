package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/azure-samples/workflowcore/pkg/richerr"
)

// ExecuteOptions configures a single Engine invocation.
type ExecuteOptions struct {
	// CorrelationID is propagated to every trace and the result. A fresh
	// UUID is generated when left empty.
	CorrelationID string

	// WorkflowTimeout caps total wall-clock time; when present it overrides
	// the definition's own WorkflowTimeout.
	WorkflowTimeout time.Duration

	// EnableTracing emits structured spans around node execution via the
	// engine's configured Tracer.
	EnableTracing bool

	// EnableExecutionTracing includes the trace snapshot in the result.
	EnableExecutionTracing bool

	// EnableCompensation runs the Compensator on terminal failure.
	EnableCompensation bool

	RetryPolicy
}

// DefaultExecuteOptions returns options with the default retry policy and
// both tracing knobs on; compensation is opt-in since it requires steps to
// implement a meaningful Compensate.
func DefaultExecuteOptions() ExecuteOptions {
	return ExecuteOptions{
		EnableTracing:          true,
		EnableExecutionTracing: true,
		RetryPolicy:            DefaultRetryPolicy(),
	}
}

// EngineConfig wires the Engine's collaborators.
type EngineConfig[C any] struct {
	Logger        *slog.Logger
	Tracer        Tracer
	Sink          ObservabilitySink
	TraceCapacity int
}

// Engine walks a compiled NodeModel, classifying step outcomes and
// enforcing timeouts, cancellation, retries, and tracing, then emits a
// single terminal WorkflowResult.
type Engine[C any] struct {
	resolver      ServiceResolver[C]
	logger        *slog.Logger
	tracer        Tracer
	sink          ObservabilitySink
	traceCapacity int
}

// NewEngine builds an Engine against the given ServiceResolver. A nil
// resolver is valid as long as every StepNode carries its own StepRef.
func NewEngine[C any](resolver ServiceResolver[C], cfg EngineConfig[C]) *Engine[C] {
	if resolver == nil {
		resolver = NewStaticResolver[C](nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = NoopTracer()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = NoopSink()
	}
	return &Engine[C]{
		resolver:      resolver,
		logger:        logger,
		tracer:        tracer,
		sink:          sink,
		traceCapacity: cfg.TraceCapacity,
	}
}

// Execute runs definition to a terminal WorkflowResult, blocking until one
// is available.
func (e *Engine[C]) Execute(ctx context.Context, def *WorkflowDefinition[C], state C, opts ExecuteOptions) *WorkflowResult[C] {
	_, resultCh := e.run(ctx, def, state, opts, false)
	return <-resultCh
}

// ExecuteWithStreaming runs definition the same way as Execute but also
// returns a live channel of StepTrace entries as they are recorded. The
// channel closes when the workflow reaches its terminal state.
func (e *Engine[C]) ExecuteWithStreaming(ctx context.Context, def *WorkflowDefinition[C], state C, opts ExecuteOptions) (<-chan StepTrace, <-chan *WorkflowResult[C]) {
	return e.run(ctx, def, state, opts, true)
}

type walkResult struct {
	outcome StepOutcome
	aborted bool
}

// walkState carries the per-invocation collaborators through the recursive
// walk, keeping the walk functions themselves free of repeated parameters.
type walkState[C any] struct {
	engine        *Engine[C]
	traceBuf      *TraceBuffer
	opts          ExecuteOptions
	correlationID string
	contextTypeID string
	workflowID    string

	mu            sync.Mutex
	visited       map[Node[C]]bool
	retries       int                // total retries across the whole invocation
	resolvedSteps map[string]Step[C] // TypeID -> the Step instance that actually ran, for compensation
}

func (e *Engine[C]) run(ctx context.Context, def *WorkflowDefinition[C], state C, opts ExecuteOptions, streaming bool) (<-chan StepTrace, <-chan *WorkflowResult[C]) {
	resultCh := make(chan *WorkflowResult[C], 1)

	if opts.CorrelationID == "" {
		opts.CorrelationID = uuid.NewString()
	}
	if opts.MaxRetryAttempts == 0 && opts.RetryBaseDelay == 0 && opts.MaxRetryDelay == 0 {
		opts.RetryPolicy = DefaultRetryPolicy()
	}

	traceBuf := NewTraceBuffer(e.traceCapacity, e.logger)
	var traceStream <-chan StepTrace
	if streaming {
		traceStream = traceBuf.EnableStream()
	}

	if def == nil || def.Root() == nil {
		err := richerr.New(richerr.CodeConfiguration, "workflow", "", "workflow definition has a nil root", nil)
		resultCh <- &WorkflowResult[C]{
			Status:        StatusFailure,
			Context:       state,
			CorrelationID: opts.CorrelationID,
			ErrorMessage:  err.Error(),
			Err:           err,
		}
		close(resultCh)
		traceBuf.CloseStream()
		return traceStream, resultCh
	}

	timeout := opts.WorkflowTimeout
	if timeout <= 0 {
		timeout = def.WorkflowTimeout
	}
	runCtx, cancel := context.WithCancel(ctx)
	var timer *time.Timer
	var timedOutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		timedOutCh = timer.C
	}

	go func() {
		defer cancel()
		if timer != nil {
			defer timer.Stop()
		}
		defer traceBuf.CloseStream()

		e.sink.WorkflowStarted(def.WorkflowID, opts.CorrelationID)
		start := time.Now()

		ws := &walkState[C]{
			engine:        e,
			traceBuf:      traceBuf,
			opts:          opts,
			correlationID: opts.CorrelationID,
			contextTypeID: fmt.Sprintf("%T", state),
			workflowID:    def.WorkflowID,
			visited:       make(map[Node[C]]bool),
			resolvedSteps: make(map[string]Step[C]),
		}

		// Race the walk against the derived workflow timeout.
		walkDone := make(chan walkResult, 1)
		go func() {
			walkDone <- e.walk(runCtx, def.Root(), state, ws)
		}()

		var wr walkResult
		select {
		case wr = <-walkDone:
		case <-timedOutCh:
			// The derived workflow timeout fired before the walk produced a
			// natural outcome on its own. Whatever the in-flight step
			// eventually returns is superseded: the workflow-level deadline
			// takes classification priority, matching the contract that a
			// timed-out invocation never reports as Success/Failure.
			cancel()
			wr = <-walkDone
			wr.aborted = true
		case <-ctx.Done():
			cancel()
			wr = <-walkDone
			wr.aborted = true
		}

		duration := time.Since(start)
		result := e.classify(ctx, runCtx, timeout, wr, ws, state, duration)
		e.sink.WorkflowFinished(def.WorkflowID, opts.CorrelationID, result.Status, int64(duration))

		resultCh <- result
		close(resultCh)
	}()

	return traceStream, resultCh
}

// classify turns a walkResult into the single terminal WorkflowResult,
// distinguishing Cancelled (caller's signal fired) from TimedOut (the
// derived workflow deadline fired while the caller's signal did not).
func (e *Engine[C]) classify(callerCtx, runCtx context.Context, timeout time.Duration, wr walkResult, ws *walkState[C], state C, duration time.Duration) *WorkflowResult[C] {
	metrics := e.computeMetrics(ws, duration)
	var trace []StepTrace
	if ws.opts.EnableExecutionTracing {
		trace = ws.traceBuf.Snapshot()
	}

	base := &WorkflowResult[C]{
		Context:       state,
		Metrics:       metrics,
		Trace:         trace,
		CorrelationID: ws.correlationID,
	}

	switch {
	case wr.aborted:
		if callerCtx.Err() != nil {
			base.Status = StatusCancelled
			err := richerr.New(richerr.CodeCancelled, "workflow", "", "workflow cancelled", callerCtx.Err())
			base.Err = err
			base.ErrorMessage = err.Error()
			return base
		}
		base.Status = StatusTimedOut
		err := richerr.New(richerr.CodeWorkflowTimeout, "workflow", "", fmt.Sprintf("workflow exceeded timeout %s", timeout), runCtx.Err())
		base.Err = err
		base.ErrorMessage = err.Error()
		if ws.opts.EnableCompensation {
			base.CompensationFailures = e.compensate(context.Background(), ws, state)
		}
		return base

	case wr.outcome.IsSuspend():
		base.Status = StatusSuspended
		base.SignalName = wr.outcome.SignalName()
		base.Metadata = wr.outcome.Metadata()
		return base

	case wr.outcome.IsFailure():
		base.Status = StatusFailure
		err := asRichErr(richerr.CodeStepFailure, "workflow", "", wr.outcome.Err().Error(), wr.outcome.Err())
		base.Err = err
		base.ErrorMessage = err.Error()
		if ws.opts.EnableCompensation {
			base.CompensationFailures = e.compensate(context.Background(), ws, state)
		}
		return base

	default:
		base.Status = StatusSuccess
		return base
	}
}

// invocationResolver compensates against the exact Step instance that ran
// during this invocation when one is known (inline StepRef graphs never
// register with the engine's own ServiceResolver), falling back to the
// engine's resolver for dynamically-resolved TypeIDs.
type invocationResolver[C any] struct {
	resolved map[string]Step[C]
	fallback ServiceResolver[C]
}

func (r *invocationResolver[C]) Resolve(typeID string) (Step[C], error) {
	if step, ok := r.resolved[typeID]; ok {
		return step, nil
	}
	if r.fallback != nil {
		return r.fallback.Resolve(typeID)
	}
	return nil, &ErrUnresolved{TypeID: typeID}
}

func (e *Engine[C]) compensate(ctx context.Context, ws *walkState[C], state C) []CompensationFailure {
	trace := ws.traceBuf.Snapshot()
	if len(trace) == 0 {
		return nil
	}
	resolver := &invocationResolver[C]{resolved: ws.resolvedSteps, fallback: e.resolver}
	comp := NewCompensator[C](resolver, e.logger)
	return comp.Compensate(ctx, state, trace, ws.contextTypeID)
}

func (e *Engine[C]) computeMetrics(ws *walkState[C], duration time.Duration) Metrics {
	trace := ws.traceBuf.Snapshot()
	m := Metrics{
		TotalDuration: duration,
		StepsExecuted: len(trace),
		DroppedTraces: ws.traceBuf.Dropped,
		TotalRetries:  ws.retries,
	}
	var sum time.Duration
	for _, t := range trace {
		sum += t.Duration
		if t.Status == TraceCompleted {
			m.StepsSucceeded++
		} else if t.Status == TraceFailed {
			m.StepsFailed++
		}
	}
	if len(trace) > 0 {
		m.AverageStepDuration = sum / time.Duration(len(trace))
	}
	return m
}

// markVisited reports whether node has already been entered in this
// invocation, marking it visited as a side effect. Enforces the Node-once
// invariant under concurrent ParallelNode evaluation.
func (ws *walkState[C]) markVisited(node Node[C]) (alreadyVisited bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.visited[node] {
		return true
	}
	ws.visited[node] = true
	return false
}

func (e *Engine[C]) walk(ctx context.Context, node Node[C], state C, ws *walkState[C]) walkResult {
	if ctx.Err() != nil {
		return walkResult{aborted: true}
	}
	if node == nil {
		return walkResult{outcome: Success(nil)}
	}
	if ws.markVisited(node) {
		e.logger.Warn("skipping revisited node instance", slog.Any("node_kind", node.Kind()))
		return walkResult{outcome: Success(nil)}
	}

	switch n := node.(type) {
	case *StepNode[C]:
		return e.walkStep(ctx, n, state, ws)
	case *SequenceNode[C]:
		return e.walkSequence(ctx, n, state, ws)
	case *ParallelNode[C]:
		return e.walkParallel(ctx, n, state, ws)
	case *ConditionalNode[C]:
		return e.walkConditional(ctx, n, state, ws)
	case *DelayNode[C]:
		return e.walkDelay(ctx, n, state, ws)
	default:
		return walkResult{outcome: Failure(
			richerr.New(richerr.CodeConfiguration, "workflow", "", fmt.Sprintf("unknown node type %T", node), nil),
			false, nil)}
	}
}

func (e *Engine[C]) walkSequence(ctx context.Context, n *SequenceNode[C], state C, ws *walkState[C]) walkResult {
	for _, child := range n.Children {
		res := e.walk(ctx, child, state, ws)
		if res.aborted || !res.outcome.IsSuccess() {
			return res
		}
	}
	return walkResult{outcome: Success(nil)}
}

func (e *Engine[C]) walkConditional(ctx context.Context, n *ConditionalNode[C], state C, ws *walkState[C]) walkResult {
	if n.Predicate != nil && n.Predicate(state) {
		return e.walk(ctx, n.Then, state, ws)
	}
	if n.Else != nil {
		return e.walk(ctx, n.Else, state, ws)
	}
	return walkResult{outcome: Success(nil)}
}

func (e *Engine[C]) walkDelay(ctx context.Context, n *DelayNode[C], state C, ws *walkState[C]) walkResult {
	if err := wait(ctx, n.Duration); err != nil {
		return walkResult{aborted: true}
	}
	return e.walk(ctx, n.Next, state, ws)
}

// precedence ranks non-Success outcomes for ParallelNode arbitration:
// Failure > Suspend > Success.
func precedence(o StepOutcome) int {
	switch {
	case o.IsFailure():
		return 2
	case o.IsSuspend():
		return 1
	default:
		return 0
	}
}

func (e *Engine[C]) walkParallel(ctx context.Context, n *ParallelNode[C], state C, ws *walkState[C]) walkResult {
	childCtx, cancelChildren := context.WithCancel(ctx)
	defer cancelChildren()

	var mu sync.Mutex
	var winner *walkResult
	var others []string
	aborted := false

	// errgroup.Group gives us the bounded fan-out (SetLimit) a hand-rolled
	// semaphore channel would otherwise need; every child always returns a
	// nil error here because arbitration between children is done via
	// precedence, not errgroup's own first-error cancellation.
	var g errgroup.Group
	if n.MaxConcurrency > 0 {
		g.SetLimit(n.MaxConcurrency)
	}
	for _, child := range n.Children {
		child := child
		g.Go(func() error {
			res := e.walk(childCtx, child, state, ws)

			mu.Lock()
			defer mu.Unlock()
			if res.aborted {
				if ctx.Err() != nil {
					aborted = true
				}
				return nil
			}
			if res.outcome.IsSuccess() {
				return nil
			}
			if winner == nil || precedence(res.outcome) > precedence(winner.outcome) {
				if winner != nil && winner.outcome.Err() != nil {
					others = append(others, winner.outcome.Err().Error())
				}
				r := res
				winner = &r
				cancelChildren()
			} else {
				if res.outcome.Err() != nil {
					others = append(others, res.outcome.Err().Error())
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if aborted {
		return walkResult{aborted: true}
	}
	if winner != nil {
		if len(others) > 0 && winner.outcome.Metadata() == nil {
			meta := map[string]any{"other_failures": others}
			switch {
			case winner.outcome.IsFailure():
				r := Failure(winner.outcome.Err(), winner.outcome.ShouldRetry(), meta)
				return walkResult{outcome: r}
			case winner.outcome.IsSuspend():
				r := Suspend(winner.outcome.SignalName(), meta)
				return walkResult{outcome: r}
			}
		}
		return *winner
	}
	return walkResult{outcome: Success(nil)}
}

func (e *Engine[C]) walkStep(ctx context.Context, n *StepNode[C], state C, ws *walkState[C]) walkResult {
	step := n.StepRef
	if step == nil {
		resolved, err := e.resolver.Resolve(n.TypeID)
		if err != nil {
			richErr := richerr.New(richerr.CodeConfiguration, "workflow", n.TypeID, "unresolved step type", err)
			ws.traceBuf.Append(StepTrace{
				StepName:      n.TypeID,
				StepTypeID:    n.TypeID,
				ContextTypeID: ws.contextTypeID,
				StartTime:     time.Now(),
				EndTime:       time.Now(),
				Status:        TraceFailed,
				CorrelationID: ws.correlationID,
				ErrorMessage:  richErr.Error(),
			})
			return walkResult{outcome: Failure(richErr, false, nil)}
		}
		step = resolved
	}

	ws.mu.Lock()
	ws.resolvedSteps[n.TypeID] = step
	ws.mu.Unlock()

	var spanCtx context.Context = ctx
	var span Span
	if ws.opts.EnableTracing {
		spanCtx, span = e.tracer.StartSpan(ctx, "workflow.step."+step.Name())
		defer span.End()
		span.SetAttribute("step.name", step.Name())
	}

	firstStart := time.Now()
	bo := ws.opts.RetryPolicy.newBackoff()
	retriesUsed := 0

	var outcome StepOutcome
	aborted := false

	for {
		if spanCtx.Err() != nil {
			aborted = true
			break
		}

		attemptCtx := spanCtx
		var cancelAttempt context.CancelFunc
		if t := step.Timeout(); t > 0 {
			attemptCtx, cancelAttempt = context.WithTimeout(spanCtx, t)
		}

		outcome = e.safeExecute(attemptCtx, step, state)

		stepTimedOut := cancelAttempt != nil && attemptCtx.Err() == context.DeadlineExceeded && spanCtx.Err() == nil
		if cancelAttempt != nil {
			cancelAttempt()
		}

		if stepTimedOut {
			err := richerr.New(richerr.CodeStepTimeout, "workflow", step.Name(),
				fmt.Sprintf("step %s exceeded its timeout", step.Name()), context.DeadlineExceeded)
			outcome = Failure(err, step.CanRetry(), outcome.Metadata())
		}

		if outcome.IsSuccess() || outcome.IsSuspend() {
			break
		}

		if !ws.opts.RetryPolicy.shouldRetry(outcome, step.CanRetry(), retriesUsed) {
			break
		}

		d := bo.NextBackOff()
		if werr := wait(spanCtx, d); werr != nil {
			aborted = true
			break
		}
		retriesUsed++
		ws.mu.Lock()
		ws.retries++
		ws.mu.Unlock()
	}

	if span != nil && outcome.IsFailure() {
		span.RecordError(outcome.Err())
	}

	if aborted {
		status := TraceCancelled
		ws.traceBuf.Append(StepTrace{
			StepName:      step.Name(),
			StepTypeID:    n.TypeID,
			ContextTypeID: ws.contextTypeID,
			StartTime:     firstStart,
			EndTime:       time.Now(),
			Duration:      time.Since(firstStart),
			Status:        status,
			RetryAttempts: retriesUsed,
			CorrelationID: ws.correlationID,
		})
		e.sink.StepAttempt(ws.workflowID, step.Name(), retriesUsed+1, status, int64(time.Since(firstStart)))
		return walkResult{aborted: true}
	}

	end := time.Now()
	status := TraceCompleted
	errMsg := ""
	switch {
	case outcome.IsFailure():
		status = TraceFailed
		errMsg = outcome.Err().Error()
	case outcome.IsSuspend():
		status = TraceSuspended
	}

	ws.traceBuf.Append(StepTrace{
		StepName:      step.Name(),
		StepTypeID:    n.TypeID,
		ContextTypeID: ws.contextTypeID,
		StartTime:     firstStart,
		EndTime:       end,
		Duration:      end.Sub(firstStart),
		Status:        status,
		RetryAttempts: retriesUsed,
		CorrelationID: ws.correlationID,
		ErrorMessage:  errMsg,
	})
	e.sink.StepAttempt(ws.workflowID, step.Name(), retriesUsed+1, status, int64(end.Sub(firstStart)))

	return walkResult{outcome: outcome}
}

// safeExecute recovers a panicking step, converting it into an internal
// Failure instead of letting it escape the engine.
func (e *Engine[C]) safeExecute(ctx context.Context, step Step[C], state C) (outcome StepOutcome) {
	defer func() {
		if r := recover(); r != nil {
			err := richerr.New(richerr.CodeInternal, "workflow", step.Name(), fmt.Sprintf("step panicked: %v", r), nil)
			outcome = Failure(err, false, nil)
		}
	}()
	return step.Execute(ctx, state)
}
