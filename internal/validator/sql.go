// Package validator runs the lookcheck validators against a project tree:
// SQL, content, data tests and the LookML validator.
package validator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/leapstack-labs/lookcheck/internal/lookml"
	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/leapstack-labs/lookcheck/pkg/looker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// SQL validator defaults.
const (
	QueryTaskLimit          = 250
	DefaultChunkSize        = 500
	DefaultConcurrency      = 10
	DefaultRuntimeThreshold = 5.0
	DefaultPollInterval     = 500 * time.Millisecond
	ExpiredRetryLimit       = 1
	DefaultExpiredWait      = 300 * time.Second
	cancelTimeout           = 30 * time.Second
)

// Mode selects how explores are queried.
type Mode string

// Query modes.
const (
	// ModeBatch queries each explore in chunks and reports errors on the explore.
	ModeBatch Mode = "batch"
	// ModeHybrid queries in chunks and bisects failing chunks down to fields.
	ModeHybrid Mode = "hybrid"
	// ModeSingle queries every field on its own.
	ModeSingle Mode = "single"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeBatch, ModeHybrid, ModeSingle:
		return m, nil
	}
	return "", core.ConfigErrorf("invalid-mode", "Invalid query mode.",
		"Mode %q must be one of batch, hybrid or single.", s)
}

// FailFast reports whether errors stay on the explore instead of being
// narrowed down to fields.
func (m Mode) FailFast() bool {
	return m == ModeBatch
}

// ChunkSize returns the initial number of fields per query.
func (m Mode) ChunkSize(configured int) int {
	if m == ModeSingle {
		return 1
	}
	if configured <= 0 {
		return DefaultChunkSize
	}
	return configured
}

// SQLClient is the Looker API surface needed to validate SQL.
type SQLClient interface {
	CreateQuery(ctx context.Context, req looker.QueryRequest) (looker.Query, error)
	CreateQueryTask(ctx context.Context, queryID, resultFormat string) (string, error)
	GetQueryTaskMultiResults(ctx context.Context, taskIDs []string) (map[string]looker.QueryResult, error)
	CancelQueryTask(ctx context.Context, taskID string) error
	RunQuery(ctx context.Context, queryID string) (string, error)
}

// SQLConfig configures a SQLValidator.
type SQLConfig struct {
	Client SQLClient
	// Concurrency is the number of query tasks allowed to run at once.
	Concurrency int
	// RuntimeThreshold in seconds above which queries are profiled.
	RuntimeThreshold float64
	PollInterval     time.Duration
	// ExpiredWait is how long an expired task keeps being polled before it
	// is given up on and requeued.
	ExpiredWait time.Duration
	Logger      *slog.Logger
}

// SearchOptions control a single SQL validation pass.
type SearchOptions struct {
	FailFast  bool
	ChunkSize int
	Profile   bool
}

// ProfileEntry is a query that ran longer than the runtime threshold.
type ProfileEntry struct {
	// Explore is model.explore.
	Explore string
	// Field is the queried field, or "*" for a multi-field query.
	Field      string
	Runtime    float64
	QueryID    string
	ExploreURL string
}

// SQLValidator checks that the SQL generated for explores and fields runs.
type SQLValidator struct {
	client           SQLClient
	concurrency      int
	runtimeThreshold float64
	pollInterval     time.Duration
	expiredWait      time.Duration
	logger           *slog.Logger

	mu      sync.Mutex
	profile []ProfileEntry
}

// NewSQLValidator creates a SQL validator.
func NewSQLValidator(cfg SQLConfig) *SQLValidator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	threshold := cfg.RuntimeThreshold
	if threshold <= 0 {
		threshold = DefaultRuntimeThreshold
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	expiredWait := cfg.ExpiredWait
	if expiredWait <= 0 {
		expiredWait = DefaultExpiredWait
	}
	return &SQLValidator{
		client:           cfg.Client,
		concurrency:      concurrency,
		runtimeThreshold: threshold,
		pollInterval:     interval,
		expiredWait:      expiredWait,
		logger:           logger,
	}
}

// Concurrency returns the number of query slots.
func (v *SQLValidator) Concurrency() int {
	return v.concurrency
}

// RuntimeThreshold returns the profiling threshold in seconds.
func (v *SQLValidator) RuntimeThreshold() float64 {
	return v.runtimeThreshold
}

// Profile returns the profiled queries, slowest first.
func (v *SQLValidator) Profile() []ProfileEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := slices.Clone(v.profile)
	slices.SortStableFunc(out, func(a, b ProfileEntry) int {
		return cmp.Compare(b.Runtime, a.Runtime)
	})
	return out
}

// CompileExplore returns the SQL generated for all fields of an explore.
// Skipped explores compile to an empty string.
func (v *SQLValidator) CompileExplore(ctx context.Context, e *lookml.Explore) (lookml.CompiledSQL, error) {
	out := lookml.CompiledSQL{Model: e.Model, Explore: e.Name}
	if e.Skipped != "" || len(e.Fields) == 0 {
		return out, nil
	}
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	id, sql, err := v.compile(ctx, e.Model, e.Name, names)
	if err != nil {
		return out, err
	}
	out.QueryID, out.SQL = id, sql
	return out, nil
}

// CompileField returns the SQL generated for a single field.
func (v *SQLValidator) CompileField(ctx context.Context, f *lookml.Field) (lookml.CompiledSQL, error) {
	out := lookml.CompiledSQL{Model: f.Model, Explore: f.Explore, Field: f.Name}
	id, sql, err := v.compile(ctx, f.Model, f.Explore, []string{f.Name})
	if err != nil {
		return out, err
	}
	out.QueryID, out.SQL = id, sql
	return out, nil
}

func (v *SQLValidator) compile(ctx context.Context, model, explore string, fields []string) (string, string, error) {
	q, err := v.client.CreateQuery(ctx, looker.QueryRequest{Model: model, View: explore, Fields: fields})
	if err != nil {
		return "", "", fmt.Errorf("failed to compile %s/%s: %w", model, explore, err)
	}
	sql, err := v.client.RunQuery(ctx, q.ID)
	if err != nil {
		return "", "", fmt.Errorf("failed to compile %s/%s: %w", model, explore, err)
	}
	return q.ID, sql, nil
}

// Search queries the fields of the explores and records the outcome on the
// tree. Validation failures are recorded as data; the returned error is
// reserved for API failures, unexpected payloads and cancellation.
func (v *SQLValidator) Search(ctx context.Context, explores []*lookml.Explore, opts SearchOptions) error {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	s := &search{
		v:       v,
		opts:    opts,
		queue:   newWorkQueue(),
		running: newRunningSet(),
		slots:   semaphore.NewWeighted(int64(v.concurrency)),
	}

	for _, e := range explores {
		if e.Skipped != "" || len(e.Fields) == 0 {
			continue
		}
		fields := slices.Clone(e.Fields)
		slices.SortFunc(fields, func(a, b *lookml.Field) int {
			return cmp.Or(cmp.Compare(a.Model, b.Model), cmp.Compare(a.Explore, b.Explore), cmp.Compare(a.Name, b.Name))
		})
		for chunk := range slices.Chunk(fields, chunkSize) {
			s.queue.push(&Query{Explore: e, Fields: chunk})
		}
	}
	s.queue.closeIfIdle()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.produce(gctx) })
	g.Go(func() error { return s.poll(gctx) })
	err := g.Wait()

	if ctx.Err() != nil {
		n := s.cancelRunning(ctx)
		return &core.Error{
			Kind:   core.KindInterrupted,
			Name:   "validation-interrupted",
			Title:  "SQL validation was manually interrupted.",
			Detail: cancelledDetail(n),
			Err:    ctx.Err(),
		}
	}
	if err != nil {
		s.cancelRunning(ctx)
		if errors.Is(err, looker.ErrMalformedResult) || errors.Is(err, looker.ErrUnexpectedStatus) {
			return &core.Error{
				Kind:   core.KindProtocol,
				Name:   "unexpected-query-result-format",
				Title:  "Encountered an unexpected query result format.",
				Detail: "Unable to extract error details from the Looker API's response.",
				Err:    err,
			}
		}
		return err
	}
	return nil
}

func cancelledDetail(n int) string {
	switch n {
	case 0:
		return "No queries were running at the time so nothing was cancelled."
	case 1:
		return "Attempted to cancel 1 running query."
	default:
		return fmt.Sprintf("Attempted to cancel %d running queries.", n)
	}
}

// search is the state of one Search call. The producer submits queries; the
// poller resolves them and is the only goroutine that touches the tree.
type search struct {
	v       *SQLValidator
	opts    SearchOptions
	queue   *workQueue
	running *runningSet
	slots   *semaphore.Weighted
}

func (s *search) produce(ctx context.Context) error {
	for {
		q, ok, err := s.queue.pop(ctx)
		if err != nil || !ok {
			return err
		}
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return err
		}
		if err := s.submit(ctx, q); err != nil {
			s.slots.Release(1)
			return err
		}
	}
}

func (s *search) submit(ctx context.Context, q *Query) error {
	created, err := s.v.client.CreateQuery(ctx, looker.QueryRequest{
		Model:  q.Explore.Model,
		View:   q.Explore.Name,
		Fields: q.FieldNames(),
	})
	if err != nil {
		return err
	}
	q.ID, q.ExploreURL = created.ID, created.ShareURL

	taskID, err := s.v.client.CreateQueryTask(ctx, q.ID, looker.ResultFormatJSONBI)
	if err != nil {
		return err
	}
	q.TaskID = taskID
	s.running.add(taskID, q)
	s.v.logger.Debug("running query", "query", q.String(), "query_id", q.ID, "task_id", taskID)
	return nil
}

func (s *search) poll(ctx context.Context) error {
	ticker := time.NewTicker(s.v.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.queue.done:
			return nil
		case <-ticker.C:
		}

		ids := s.running.next(QueryTaskLimit)
		if len(ids) == 0 {
			continue
		}
		results, err := s.v.client.GetQueryTaskMultiResults(ctx, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			res, ok := results[id]
			if !ok {
				continue
			}
			s.handle(id, res)
		}
	}
}

// handle applies one task result.
func (s *search) handle(taskID string, res looker.QueryResult) {
	q := s.running.get(taskID)
	if q == nil {
		return
	}

	switch r := res.(type) {
	case looker.PendingResult:
		return

	case looker.CompletedResult:
		s.release(taskID)
		q.Runtime = r.Runtime
		s.record(q)
		s.complete(q)

	case looker.ErroredResult:
		s.release(taskID)
		q.Runtime = r.Runtime
		s.record(q)
		valid := r.ValidErrors()
		if len(valid) == 0 {
			s.complete(q)
			return
		}
		q.Errored = core.OutcomeErrored
		s.fail(q, r.SQL, valid)

	case looker.InterruptedResult:
		e := q.Explore
		if r.Expired() {
			// An expired task stays in the running set until the wait runs out.
			if q.expiredAt.IsZero() {
				q.expiredAt = time.Now()
			}
			if time.Since(q.expiredAt) <= s.v.expiredWait {
				return
			}
			s.release(taskID)
			q.expiredAt = time.Time{}
			if q.expiredRetries < ExpiredRetryLimit {
				s.v.logger.Debug("query task expired, retrying", "task_id", taskID, "query", q.String(),
					"expired_wait", s.v.expiredWait)
				q.expiredRetries++
				q.TaskID = ""
				s.queue.push(q)
				s.queue.finish()
				return
			}
			s.v.logger.Debug("query task keeps expiring, giving up", "task_id", taskID, "query", q.String())
			s.exploreError(q, fmt.Sprintf("Couldn't finish testing %s.%s because queries repeatedly expired in Looker.", e.Model, e.Name))
			return
		}
		s.release(taskID)
		s.exploreError(q, fmt.Sprintf("Couldn't finish testing %s.%s because the test query was killed in the database.", e.Model, e.Name))
	}
}

func (s *search) release(taskID string) {
	s.running.remove(taskID)
	s.slots.Release(1)
}

func (s *search) record(q *Query) {
	if !s.opts.Profile || q.Runtime <= s.v.runtimeThreshold {
		return
	}
	field := "*"
	if len(q.Fields) == 1 {
		field = q.Fields[0].Name
	}
	s.v.mu.Lock()
	defer s.v.mu.Unlock()
	s.v.profile = append(s.v.profile, ProfileEntry{
		Explore:    q.Explore.Model + "." + q.Explore.Name,
		Field:      field,
		Runtime:    q.Runtime,
		QueryID:    q.ID,
		ExploreURL: q.ExploreURL,
	})
}

func (s *search) complete(q *Query) {
	q.Errored = core.OutcomePassed
	for _, f := range q.Fields {
		f.MarkQueried()
	}
	q.Explore.MarkQueried()
	s.queue.finish()
}

func (s *search) fail(q *Query, sql string, errs []looker.QueryError) {
	defer s.queue.finish()
	e := q.Explore

	switch {
	case len(q.Fields) > 1 && s.opts.FailFast:
		e.MarkQueried()
		for _, qe := range errs {
			e.Errors = append(e.Errors, lookml.NewSQLError(e.Model, e.Name, qe.FullMessage(), lookml.SQLDetail{
				SQL:        sql,
				ExploreURL: q.ExploreURL,
				Line:       qe.Line(),
			}))
		}

	case len(q.Fields) > 1:
		children, err := q.Divide()
		if err != nil {
			// unreachable: the query has errored and has at least two fields
			s.v.logger.Error("failed to divide query", "query", q.String(), "error", err)
			return
		}
		s.v.logger.Debug("dividing errored query", "query", q.String(), "children", len(children))
		for _, child := range children {
			s.queue.push(child)
		}

	default:
		f := q.Fields[0]
		f.MarkQueried()
		for _, qe := range errs {
			f.Errors = append(f.Errors, lookml.NewSQLError(f.Model, f.Explore, qe.FullMessage(), lookml.SQLDetail{
				Field:      f.Name,
				SQL:        sql,
				LookMLURL:  f.URL,
				ExploreURL: q.ExploreURL,
				Line:       qe.Line(),
			}))
		}
	}
}

func (s *search) exploreError(q *Query, message string) {
	q.Errored = core.OutcomeErrored
	e := q.Explore
	e.MarkQueried()
	e.Errors = append(e.Errors, lookml.NewSQLError(e.Model, e.Name, message, lookml.SQLDetail{ExploreURL: q.ExploreURL}))
	s.queue.finish()
}

// cancelRunning asks Looker to cancel every task still running and returns
// how many it tried to cancel.
func (s *search) cancelRunning(ctx context.Context) int {
	ids := s.running.ids()
	if len(ids) == 0 {
		return 0
	}
	s.v.logger.Info("asking Looker to cancel running queries", "count", len(ids))

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	for _, id := range ids {
		if err := s.v.client.CancelQueryTask(cctx, id); err != nil && !looker.IsNotFound(err) {
			s.v.logger.Warn("failed to cancel query task", "task_id", id, "error", err)
		}
	}
	return len(ids)
}
