package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"photosweep/internal/hash"
	"photosweep/internal/issues"
	"photosweep/internal/match"
	"photosweep/internal/models"
	"photosweep/internal/source"
	"photosweep/internal/storage"
)

// Store is the part of the asset cache a pass reads and commits to
type Store interface {
	Records(ctx context.Context, statuses ...models.ScanStatus) ([]models.CacheRecord, error)
	Issues(ctx context.Context) ([]models.Issue, error)
	CommitScan(ctx context.Context, commit storage.Commit) (int64, error)
}

// Orchestrator drives scan passes over a library. At most one pass runs at a
// time; starting a new one cancels and awaits the previous.
type Orchestrator struct {
	src   source.AssetSource
	store Store

	workers          int
	hashTimeout      time.Duration
	drainTimeout     time.Duration
	progressStride   int
	progressInterval time.Duration
	logger           zerolog.Logger
	now              func() time.Time
	loc              *time.Location

	mu      sync.Mutex
	current *Pass
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithWorkers sets the number of concurrent hash computations
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithHashTimeout sets the deadline for hashing one asset
func WithHashTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.hashTimeout = d
	}
}

// WithDrainTimeout bounds how long a cancelled pass waits for in-flight hashes
func WithDrainTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.drainTimeout = d
		}
	}
}

// WithProgressStride emits progress at most every n items
func WithProgressStride(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.progressStride = n
		}
	}
}

// WithProgressInterval sets the minimum time between progress events
func WithProgressInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.progressInterval = d
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithClock sets the time source used for timestamps
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLocation sets the time zone used to bucket creation dates
func WithLocation(loc *time.Location) Option {
	return func(o *Orchestrator) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(src source.AssetSource, store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		src:              src,
		store:            store,
		workers:          4,
		hashTimeout:      30 * time.Second,
		drainTimeout:     5 * time.Second,
		progressStride:   25,
		progressInterval: 100 * time.Millisecond,
		logger:           zerolog.Nop(),
		now:              time.Now,
		loc:              time.Local,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start begins a pass. Cancelling ctx is treated as the consumer walking
// away: the pass is cancelled and further events are dropped.
func (o *Orchestrator) Start(ctx context.Context, opts models.ScanOptions) *Pass {
	o.mu.Lock()
	defer o.mu.Unlock()

	if prev := o.current; prev != nil {
		prev.Close()
		prev.Wait()
	}

	p, work := newPass(ctx)
	o.current = p

	r := &run{
		o:     o,
		p:     p,
		ctx:   work,
		opts:  opts,
		log:   o.logger.With().Str("mode", string(opts.Mode)).Logger(),
		stats: make(map[models.IssueKind]int),
	}
	go r.execute()

	return p
}

// Scan runs a pass to completion, calling fn for every update
func (o *Orchestrator) Scan(ctx context.Context, opts models.ScanOptions, fn func(models.ScanUpdate)) (*models.ScanResult, error) {
	p := o.Start(ctx, opts)
	for u := range p.Updates() {
		if fn != nil {
			fn(u)
		}
	}
	return p.Result()
}

// target is one asset the pass works on
type target struct {
	meta      models.AssetMetadata
	cached    *models.AssetSignature
	issues    []models.Issue
	hasIssues map[models.IssueKind]bool
}

type job struct {
	index int
	id    string
}

type hashResult struct {
	index int
	sig   *models.AssetSignature
	err   error
}

// run holds the state of one pass. It is owned by a single goroutine.
type run struct {
	o    *Orchestrator
	p    *Pass
	ctx  context.Context
	opts models.ScanOptions
	log  zerolog.Logger

	total      int
	processed  int
	cached     []match.Entry // scanned rows outside this pass
	targets    []target
	outcomes   []storage.Outcome
	entries    []match.Entry
	issues     []models.Issue
	stats      map[models.IssueKind]int
	limiter    *rate.Limiter
	discovered bool
	fatal      error // the source became unavailable mid-pass
}

func (r *run) execute() {
	start := time.Now()
	r.log.Info().Msg("scan started")

	terminal := r.scan()

	level := zerolog.InfoLevel
	if terminal.Type == models.UpdateFailed {
		level = zerolog.ErrorLevel
	}
	r.log.WithLevel(level).Err(terminal.Err).
		Str("outcome", string(terminal.Type)).
		Int("processed", r.processed).
		Int("total", r.total).
		Bool("consumer_gone", r.p.gone()).
		Dur("duration", time.Since(start)).
		Msg("scan finished")

	r.p.finish(terminal)
}

func (r *run) scan() models.ScanUpdate {
	r.p.emit(models.ProgressUpdate(0, 0, models.PhasePreparing))

	if err := r.prepare(); err != nil {
		if r.ctx.Err() != nil {
			return r.cancelled()
		}
		return models.ScanUpdate{Type: models.UpdateFailed, Err: err}
	}
	if r.ctx.Err() != nil {
		return r.cancelled()
	}

	r.limiter = rate.NewLimiter(rate.Every(r.o.progressInterval), 1)
	r.p.emit(models.ProgressUpdate(0, len(r.targets), models.PhaseScanning))

	r.iterate()
	if r.ctx.Err() != nil {
		return r.cancelled()
	}
	if r.fatal != nil {
		return models.ScanUpdate{Type: models.UpdateFailed, Err: fmt.Errorf("library became unavailable: %w", r.fatal)}
	}

	r.p.emit(models.ProgressUpdate(r.processed, len(r.targets), models.PhaseGrouping))
	result := r.group()

	r.p.emit(models.ProgressUpdate(r.processed, len(r.targets), models.PhaseSaving))
	finishedAt := r.o.now()
	result.ScannedAt = finishedAt

	// Persisting must not be torn by a late cancel.
	generation, err := r.o.store.CommitScan(context.WithoutCancel(r.ctx), storage.Commit{
		Mode:       r.opts.Mode,
		Outcomes:   r.outcomes,
		Groups:     result.DuplicateGroups,
		Result:     result,
		FinishedAt: finishedAt,
	})
	if err != nil {
		return models.ScanUpdate{Type: models.UpdateFailed, Err: fmt.Errorf("failed to save scan: %w", err)}
	}
	result.Generation = generation

	return models.ScanUpdate{Type: models.UpdateCompleted, Result: result}
}

// prepare resolves the assets to work on and the cached context around them
func (r *run) prepare() error {
	records, err := r.o.store.Records(r.ctx)
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	var targetIDs []string
	cachedSig := make(map[string]*models.AssetSignature)
	contextIDs := make(map[string]bool)
	for _, rec := range records {
		isTarget := r.opts.Mode != models.ScanIncremental || rec.Status == models.StatusPending
		if !isTarget {
			contextIDs[rec.Metadata.ID] = true
			if rec.Status == models.StatusScanned {
				r.cached = append(r.cached, match.Entry{Metadata: rec.Metadata, Signature: rec.Signature})
			}
			continue
		}
		targetIDs = append(targetIDs, rec.Metadata.ID)
		if rec.Status == models.StatusScanned && !r.opts.Rehash {
			cachedSig[rec.Metadata.ID] = rec.Signature
		}
	}

	if len(contextIDs) > 0 {
		cachedIssues, err := r.o.store.Issues(r.ctx)
		if err != nil {
			return fmt.Errorf("failed to read cached issues: %w", err)
		}
		for _, issue := range cachedIssues {
			if contextIDs[issue.AssetID] {
				r.issues = append(r.issues, issue)
				r.stats[issue.Kind]++
			}
		}
	}

	if len(targetIDs) > 0 {
		metas, err := r.o.src.FetchMetadata(r.ctx, targetIDs)
		if err != nil {
			return fmt.Errorf("failed to fetch metadata: %w", err)
		}
		for _, m := range metas {
			r.targets = append(r.targets, target{meta: m, cached: cachedSig[m.ID]})
		}
	}

	r.total = len(contextIDs) + len(r.targets)
	r.log.Debug().
		Int("targets", len(r.targets)).
		Int("cached", len(contextIDs)).
		Msg("scan prepared")
	return nil
}

// iterate detects issues inline and fans hashing out to the worker pool
func (r *run) iterate() {
	if len(r.targets) == 0 {
		return
	}

	hasher := hash.NewHasher(r.o.hashTimeout)
	detector := issues.NewDetector(r.opts.LargeFileThresholdBytes)

	// Workers stop reading as soon as the source is known to be gone
	work, stop := context.WithCancel(r.ctx)
	defer stop()

	jobs := make(chan job)
	results := make(chan hashResult, r.o.workers)
	quit := make(chan struct{})

	for i := 0; i < r.o.workers; i++ {
		go func() {
			for j := range jobs {
				sig, err := hasher.Sign(work, j.id, r.o.src.ReadResource)
				select {
				case results <- hashResult{index: j.index, sig: sig, err: err}:
				case <-quit:
					return
				}
			}
		}()
	}
	defer func() {
		close(jobs)
		close(quit)
	}()

	next, inFlight := 0, 0
	done := r.ctx.Done()
	var drain <-chan time.Time

	for {
		// Assets with a reusable signature need no read
		for done != nil && next < len(r.targets) && r.targets[next].cached != nil {
			r.dispatch(detector, next)
			r.complete(next, r.targets[next].cached, nil)
			next++
			if r.ctx.Err() != nil {
				break
			}
		}

		if next >= len(r.targets) && inFlight == 0 {
			return
		}
		if done == nil && inFlight == 0 {
			return
		}

		var send chan job
		var j job
		if done != nil && r.ctx.Err() == nil && next < len(r.targets) {
			send = jobs
			j = job{index: next, id: r.targets[next].meta.ID}
		}

		select {
		case send <- j:
			r.dispatch(detector, next)
			next++
			inFlight++
		case res := <-results:
			inFlight--
			r.complete(res.index, res.sig, res.err)
			if r.fatal != nil {
				r.log.Debug().Int("in_flight", inFlight).Msg("source unavailable, abandoning pass")
				return
			}
		case <-done:
			done = nil
			drain = time.After(r.o.drainTimeout)
			r.log.Debug().Int("in_flight", inFlight).Msg("scan cancelled, draining")
		case <-drain:
			r.log.Warn().Int("in_flight", inFlight).Msg("abandoning in-flight hashes")
			return
		}
	}
}

// dispatch runs issue detection for target i
func (r *run) dispatch(detector *issues.Detector, i int) {
	t := &r.targets[i]
	t.hasIssues = make(map[models.IssueKind]bool)
	for _, issue := range detector.Detect(t.meta) {
		t.issues = append(t.issues, issue)
		t.hasIssues[issue.Kind] = true
		r.addIssue(issue)
	}
}

// complete records the hash outcome of target i
func (r *run) complete(i int, sig *models.AssetSignature, err error) {
	t := &r.targets[i]

	if err != nil && r.ctx.Err() != nil {
		// Interrupted by cancellation, not a failure of the asset
		return
	}
	if errors.Is(err, source.ErrUnavailable) {
		if r.fatal == nil {
			r.fatal = err
		}
		return
	}

	outcome := storage.Outcome{Metadata: t.meta, ScannedAt: r.o.now()}
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timed out reading resource"
		}
		r.log.Warn().Err(err).Str("asset", t.meta.ID).Msg("failed to hash asset")
		outcome.FailureReason = reason

		if !t.hasIssues[models.IssueCorrupted] {
			issue := models.Issue{
				AssetID:  t.meta.ID,
				Kind:     models.IssueCorrupted,
				Severity: models.SeverityCritical,
				Message:  "unreadable: " + reason,
			}
			t.issues = append(t.issues, issue)
			t.hasIssues[models.IssueCorrupted] = true
			r.addIssue(issue)
		}
	} else {
		outcome.Signature = sig
		r.entries = append(r.entries, match.Entry{Metadata: t.meta, Signature: sig})
	}
	outcome.Issues = t.issues
	r.outcomes = append(r.outcomes, outcome)

	r.processed++
	r.discovered = true
	r.progress()
}

func (r *run) addIssue(issue models.Issue) {
	r.issues = append(r.issues, issue)
	r.stats[issue.Kind]++
	r.discovered = true
	r.p.emit(models.ScanUpdate{Type: models.UpdateIssueFound, Issue: &issue})
	r.p.emit(models.ScanUpdate{Type: models.UpdateSummary, Kind: issue.Kind, Count: r.stats[issue.Kind]})
}

// progress emits a progress event when both the stride and the interval
// allow it. The last item always reports.
func (r *run) progress() {
	total := len(r.targets)
	last := r.processed == total
	if !last && r.processed%r.o.progressStride != 0 {
		return
	}
	if !r.limiter.Allow() && !last {
		return
	}
	r.p.emit(models.ProgressUpdate(r.processed, total, models.PhaseScanning))
}

// group runs the grouping engine once over every signature collected and
// assembles the result
func (r *run) group() *models.ScanResult {
	engine := match.NewEngine(r.opts.DuplicateMode, r.opts.SimilarityThreshold, match.WithLocation(r.o.loc))

	all := make([]match.Entry, 0, len(r.cached)+len(r.entries))
	all = append(all, r.cached...)
	all = append(all, r.entries...)
	groups := engine.FindGroups(all)
	if groups == nil {
		groups = []models.DuplicateGroup{}
	}

	for i := range groups {
		g := groups[i]
		r.p.emit(models.ScanUpdate{Type: models.UpdateDuplicateGroup, Group: &g})
	}

	resultIssues := make([]models.Issue, 0, len(r.issues))
	resultIssues = append(resultIssues, r.issues...)
	duplicates := 0
	for _, g := range groups {
		dupIssues := g.Issues()
		resultIssues = append(resultIssues, dupIssues...)
		duplicates += len(dupIssues)
	}
	if duplicates > 0 {
		r.stats[models.IssueDuplicate] = duplicates
		r.p.emit(models.ScanUpdate{Type: models.UpdateSummary, Kind: models.IssueDuplicate, Count: duplicates})
	}

	return &models.ScanResult{
		TotalPhotos:     r.total,
		Processed:       r.processed,
		Issues:          resultIssues,
		DuplicateGroups: groups,
	}
}

// cancelled assembles the partial result. Nothing is persisted. When nothing
// was discovered before the cancel point the partial result is nil.
func (r *run) cancelled() models.ScanUpdate {
	u := models.ScanUpdate{Type: models.UpdateCancelled, Err: ErrCancelled}
	if !r.discovered {
		return u
	}
	result := r.group()
	result.ScannedAt = r.o.now()
	u.Result = result
	return u
}
