package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MimeLyc/contextual-book-translator/pkg/icron"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// Executor runs one step of a job. Returning an error consumes an attempt;
// the job is discarded once MaxAttempts is reached.
type Executor func(ctx context.Context, job *Job) (Result, error)

// DiscardHook is called after a job used up its attempts.
type DiscardHook func(job *Job, err error)

const (
	DefaultStuckTimeout  = 15 * time.Minute
	DefaultSweepSchedule = "@every 1m"
)

type Option func(*Queue)

func WithMaxJobs(n int) Option {
	return func(q *Queue) { q.maxJobs = n }
}

// WithBackoff sets the delay before a failed attempt is retried.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(q *Queue) {
		if fn != nil {
			q.backoff = fn
		}
	}
}

// WithStuckTimeout bounds a single step. Running jobs older than this are
// reset by the sweep.
func WithStuckTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.stuckTimeout = d
		}
	}
}

func WithSweepSchedule(expr string) Option {
	return func(q *Queue) {
		if strings.TrimSpace(expr) != "" {
			q.sweepSchedule = expr
		}
	}
}

func WithOnDiscard(hook DiscardHook) Option {
	return func(q *Queue) { q.onDiscard = hook }
}

// DefaultBackoff doubles from two seconds up to five minutes.
func DefaultBackoff(attempt int) time.Duration {
	d := 2 * time.Second
	for i := 1; i < attempt && d < 5*time.Minute; i++ {
		d *= 2
	}
	return min(d, 5*time.Minute)
}

type Queue struct {
	workerCount   int
	maxJobs       int
	store         Store
	backoff       func(attempt int) time.Duration
	stuckTimeout  time.Duration
	sweepSchedule string
	onDiscard     DiscardHook

	mu         sync.RWMutex
	jobs       map[string]*Job
	dedupe     map[string]string
	timers     map[string]*time.Timer
	idCounter  uint64
	leases     uint64
	started    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	cron   *cron.Cron
	sweeps singleflight.Group
}

func NewQueue(workerCount int, store Store, opts ...Option) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		workerCount:   workerCount,
		maxJobs:       1000,
		store:         store,
		backoff:       DefaultBackoff,
		stuckTimeout:  DefaultStuckTimeout,
		sweepSchedule: DefaultSweepSchedule,
		jobs:          make(map[string]*Job),
		dedupe:        make(map[string]string),
		timers:        make(map[string]*time.Timer),
		pendingIDs:    make(chan string, 1024),
		stopCh:        make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.hydrateFromStore(context.Background())
	return q
}

// Enqueue adds a job unless one with the same dedupe key is still in
// flight, in which case the existing job is returned with false.
func (q *Queue) Enqueue(req EnqueueRequest) (*Job, bool) {
	now := time.Now()
	key := DedupeKey(req.Kind, req.RunID, req.GroupID)

	q.mu.Lock()
	if id, ok := q.dedupe[key]; ok {
		if existing, exists := q.jobs[id]; exists && existing.Status.InFlight() {
			snapshot := cloneJob(existing)
			q.mu.Unlock()
			return snapshot, false
		}
		delete(q.dedupe, key)
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	id := fmt.Sprintf("job-%d", atomic.AddUint64(&q.idCounter, 1))
	job := &Job{
		ID:          id,
		Kind:        req.Kind,
		RunID:       req.RunID,
		GroupID:     req.GroupID,
		DedupeKey:   key,
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		RunAt:       now.Add(req.Delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	q.jobs[id] = job
	q.dedupe[key] = id
	started := q.started
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	if started {
		q.schedule(id, req.Delay)
	}
	return snapshot, true
}

func (q *Queue) Get(id string) (*Job, bool) {
	q.mu.RLock()
	job, ok := q.jobs[id]
	q.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// List returns all known jobs, oldest first.
func (q *Queue) List() []*Job {
	q.mu.RLock()
	ret := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		ret = append(ret, cloneJob(job))
	}
	q.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return jobSeq(ret[i].ID) < jobSeq(ret[j].ID)
		}
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

// ListByRun returns the jobs of one run, oldest first.
func (q *Queue) ListByRun(runID string) []*Job {
	all := q.List()
	ret := all[:0]
	for _, job := range all {
		if job.RunID == runID {
			ret = append(ret, job)
		}
	}
	return ret
}

func (q *Queue) Start(exec Executor) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return nil
	}

	c := cron.New(cron.WithParser(icron.Parser))
	if _, err := c.AddFunc(q.sweepSchedule, func() { q.SweepStuck() }); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("invalid sweep schedule %q: %w", q.sweepSchedule, err)
	}
	q.cron = c
	q.started = true

	now := time.Now()
	pending := make(map[string]time.Duration)
	for id, job := range q.jobs {
		if job.Status == StatusPending {
			pending[id] = job.RunAt.Sub(now)
		}
	}
	q.mu.Unlock()

	for id, delay := range pending {
		q.schedule(id, delay)
	}

	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(exec)
	}
	c.Start()
	return nil
}

func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.cancel()

		q.mu.Lock()
		for id, t := range q.timers {
			t.Stop()
			delete(q.timers, id)
		}
		c := q.cron
		q.mu.Unlock()

		if c != nil {
			<-c.Stop().Done()
		}
		q.wg.Wait()
	})
}

func (q *Queue) worker(exec Executor) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case id := <-q.pendingIDs:
			job, ok := q.markRunning(id)
			if !ok {
				continue
			}

			res, err := q.execute(exec, job)
			q.finish(job, res, err)
		}
	}
}

func (q *Queue) execute(exec Executor, job *Job) (res Result, err error) {
	ctx, cancel := context.WithTimeout(q.ctx, q.stuckTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job %s panicked: %v\n%s", job.ID, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return exec(ctx, cloneJob(job))
}

func (q *Queue) schedule(id string, delay time.Duration) {
	if delay <= 0 {
		q.enqueuePendingID(id)
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.timers[id]; ok {
		t.Stop()
	}
	select {
	case <-q.stopCh:
		return
	default:
	}
	q.timers[id] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, id)
		q.mu.Unlock()
		q.enqueuePendingID(id)
	})
}

func (q *Queue) enqueuePendingID(id string) {
	select {
	case q.pendingIDs <- id:
	default:
		go func() {
			select {
			case q.pendingIDs <- id:
			case <-q.stopCh:
			}
		}()
	}
}

func (q *Queue) markRunning(id string) (*Job, bool) {
	now := time.Now()
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.Status != StatusPending || job.RunAt.After(now) {
		q.mu.Unlock()
		return nil, false
	}
	job.Status = StatusRunning
	job.Attempt++
	job.Steps++
	job.StartedAt = now
	job.UpdatedAt = now
	job.lease = atomic.AddUint64(&q.leases, 1)
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	return snapshot, true
}

// finish applies the outcome of one step. Results from a run the sweep
// already reclaimed are dropped.
func (q *Queue) finish(ran *Job, res Result, runErr error) {
	now := time.Now()
	var (
		delay      time.Duration
		reschedule bool
		discarded  bool
	)

	q.mu.Lock()
	job, ok := q.jobs[ran.ID]
	if !ok || job.Status != StatusRunning || job.lease != ran.lease {
		q.mu.Unlock()
		log.Warn("Dropping stale result for job %s", ran.ID)
		return
	}
	job.UpdatedAt = now

	switch {
	case runErr != nil:
		job.Error = runErr.Error()
		if job.Attempt >= job.MaxAttempts {
			job.Status = StatusDiscarded
			discarded = true
			log.Error("Job %s (%s) discarded after %d attempts: %v", job.ID, job.Kind, job.Attempt, runErr)
		} else {
			job.Status = StatusPending
			delay = q.backoff(job.Attempt)
			reschedule = true
			log.Warn("Job %s (%s) attempt %d/%d failed, retrying in %s: %v", job.ID, job.Kind, job.Attempt, job.MaxAttempts, delay, runErr)
		}
	case res.Outcome == Continue:
		job.Status = StatusPending
		job.Attempt = 0
		job.Error = ""
		reschedule = true
	case res.Outcome == Snooze:
		job.Status = StatusPending
		job.Attempt--
		delay = res.Delay
		reschedule = true
		log.Debug("Job %s snoozed for %s", job.ID, delay)
	default:
		job.Status = StatusSuccess
		job.Error = ""
	}

	if reschedule {
		job.RunAt = now.Add(delay)
	} else {
		q.releaseDedupeLocked(job)
	}
	pruned := q.pruneTerminalJobsLocked()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	q.deleteJobsFromStore(pruned)
	if reschedule {
		q.schedule(snapshot.ID, delay)
	}
	if discarded && q.onDiscard != nil {
		q.onDiscard(snapshot, runErr)
	}
}

// SweepStuck resets running jobs whose step exceeded the stuck timeout and
// returns how many were reset. Overlapping calls share one sweep.
func (q *Queue) SweepStuck() int {
	v, _, _ := q.sweeps.Do("sweep", func() (interface{}, error) {
		cutoff := time.Now().Add(-q.stuckTimeout)
		reset := make([]*Job, 0)

		q.mu.Lock()
		for _, job := range q.jobs {
			if job.Status != StatusRunning || job.StartedAt.After(cutoff) {
				continue
			}
			job.Status = StatusPending
			job.lease = 0
			job.Error = "reset by stuck-job sweep"
			job.RunAt = time.Now()
			job.UpdatedAt = job.RunAt
			reset = append(reset, cloneJob(job))
		}
		q.mu.Unlock()

		for _, job := range reset {
			log.Warn("Job %s (%s) stuck since %s, resetting", job.ID, job.Kind, job.StartedAt.Format(time.RFC3339))
			q.persistJob(job)
			q.schedule(job.ID, 0)
		}
		return len(reset), nil
	})
	return v.(int)
}

func (q *Queue) releaseDedupeLocked(job *Job) {
	if job == nil || job.DedupeKey == "" {
		return
	}
	if id, ok := q.dedupe[job.DedupeKey]; ok && id == job.ID {
		delete(q.dedupe, job.DedupeKey)
	}
}

func (q *Queue) pruneTerminalJobsLocked() []string {
	if q.maxJobs <= 0 || len(q.jobs) <= q.maxJobs {
		return nil
	}

	type candidate struct {
		id        string
		updatedAt time.Time
	}
	terminal := make([]candidate, 0, len(q.jobs))
	for id, job := range q.jobs {
		if job == nil || job.Status.InFlight() {
			continue
		}
		terminal = append(terminal, candidate{id: id, updatedAt: job.UpdatedAt})
	}
	if len(terminal) == 0 {
		return nil
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].updatedAt.Before(terminal[j].updatedAt)
	})

	toRemove := min(len(q.jobs)-q.maxJobs, len(terminal))
	pruned := make([]string, 0, toRemove)
	for i := 0; i < toRemove; i++ {
		id := terminal[i].id
		q.releaseDedupeLocked(q.jobs[id])
		delete(q.jobs, id)
		pruned = append(pruned, id)
	}
	return pruned
}

func (q *Queue) deleteJobsFromStore(ids []string) {
	if q.store == nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if err := q.store.DeleteJob(context.Background(), id); err != nil {
			log.Error("Failed to delete pruned job %s from store: %v", id, err)
		}
	}
}

// hydrateFromStore reloads persisted jobs. A job that was running when the
// process died is pending again.
func (q *Queue) hydrateFromStore(ctx context.Context) {
	if q.store == nil {
		return
	}
	loaded, err := q.store.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	now := time.Now()
	toPersist := make([]*Job, 0)
	q.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		if job.Status == StatusRunning {
			job.Status = StatusPending
			job.RunAt = now
			job.UpdatedAt = now
			toPersist = append(toPersist, cloneJob(job))
		}
		if job.MaxAttempts <= 0 {
			job.MaxAttempts = DefaultMaxAttempts
		}
		q.jobs[job.ID] = job
		if job.Status.InFlight() && job.DedupeKey != "" {
			q.dedupe[job.DedupeKey] = job.ID
		}
		if n := jobSeq(job.ID); n > q.idCounter {
			q.idCounter = n
		}
	}
	q.mu.Unlock()

	if len(toPersist) > 0 {
		log.Info("Recovered %d interrupted job(s)", len(toPersist))
	}
	for _, job := range toPersist {
		q.persistJob(job)
	}
}

func jobSeq(jobID string) uint64 {
	if !strings.HasPrefix(jobID, "job-") {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(jobID, "job-"), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (q *Queue) persistJob(job *Job) {
	if q.store == nil || job == nil {
		return
	}
	if err := q.store.UpsertJob(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}
