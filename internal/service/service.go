// Package service wires the translation pipeline together and exposes the
// operations of the CLI and the control API.
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/MimeLyc/contextual-book-translator/internal/batch"
	"github.com/MimeLyc/contextual-book-translator/internal/book"
	"github.com/MimeLyc/contextual-book-translator/internal/config"
	"github.com/MimeLyc/contextual-book-translator/internal/document"
	"github.com/MimeLyc/contextual-book-translator/internal/healer"
	"github.com/MimeLyc/contextual-book-translator/internal/jobs"
	"github.com/MimeLyc/contextual-book-translator/internal/persistence"
	"github.com/MimeLyc/contextual-book-translator/internal/pool"
	"github.com/MimeLyc/contextual-book-translator/internal/quality"
	"github.com/MimeLyc/contextual-book-translator/internal/segment"
	"github.com/MimeLyc/contextual-book-translator/internal/translator"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
)

const segmentParallelism = 4

// EndpointSource supplies the endpoints a new run is started with.
type EndpointSource interface {
	Endpoints() translator.Endpoints
}

type Option func(*Service)

// WithTranslatorFactory replaces the HTTP model client, mainly for tests.
func WithTranslatorFactory(f TranslatorFactory) Option {
	return func(s *Service) {
		if f != nil {
			s.newTranslator = f
		}
	}
}

func WithSegmenter(seg *segment.Segmenter) Option {
	return func(s *Service) {
		if seg != nil {
			s.segmenter = seg
		}
	}
}

type Service struct {
	cfg       *config.Config
	store     *persistence.SQLiteStore
	endpoints EndpointSource
	segmenter *segment.Segmenter
	pool      *pool.Pool
	queue     *jobs.Queue
	worker    *batch.Worker
	tr        *liveTranslator

	newTranslator TranslatorFactory
}

func New(cfg *config.Config, store *persistence.SQLiteStore, endpoints EndpointSource, opts ...Option) *Service {
	s := &Service{
		cfg:       cfg,
		store:     store,
		endpoints: endpoints,
		segmenter: segment.Default(),
		pool: pool.New(
			pool.WithFailureCooldown(cfg.Pool.FailureCooldown),
			pool.WithStaleBusy(cfg.Pool.StaleBusy),
		),
		tr: &liveTranslator{},
	}
	s.newTranslator = func(e translator.Endpoints) (translator.Translator, error) {
		return translator.NewClient(e, s.pool)
	}
	for _, opt := range opts {
		opt(s)
	}

	s.queue = jobs.NewQueue(
		cfg.Batch.Workers,
		store,
		jobs.WithStuckTimeout(cfg.Batch.StuckTimeout),
		jobs.WithSweepSchedule(cfg.Batch.SweepSchedule),
		jobs.WithOnDiscard(s.onDiscard),
	)
	s.worker = batch.NewWorker(
		batch.Config{BatchSize: cfg.Batch.Size, Snooze: cfg.Batch.Snooze},
		store,
		s.tr,
		healer.New(cfg.Tolerance()),
		quality.NewGuard(cfg.QualityConfig(), s.tr),
		scheduler{queue: s.queue, maxAttempts: cfg.Batch.MaxAttempts},
	)
	return s
}

// scheduler fills in the configured attempt budget.
type scheduler struct {
	queue       *jobs.Queue
	maxAttempts int
}

func (s scheduler) Enqueue(req jobs.EnqueueRequest) (*jobs.Job, bool) {
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = s.maxAttempts
	}
	return s.queue.Enqueue(req)
}

// Start installs a model client for recovered jobs and starts the workers.
// A missing endpoint is only logged here; jobs fail until one is configured.
func (s *Service) Start() error {
	if err := s.installTranslator(); err != nil {
		log.Warn("No model client yet: %v", err)
	}
	if err := s.queue.Start(s.execute); err != nil {
		return WrapError(err, ErrConfig, "start job queue")
	}
	log.Info("Service started with %d worker(s)", s.cfg.Batch.Workers)
	return nil
}

func (s *Service) Stop() {
	s.queue.Stop()
	s.pool.Close()
}

// Reconfigure swaps in a model client for the current endpoints. Steps
// already running finish on the previous client.
func (s *Service) Reconfigure() error {
	if err := s.installTranslator(); err != nil {
		return wrap(err, ErrMissingEndpointConfig, "install model client")
	}
	log.Info("Model client reconfigured")
	return nil
}

func (s *Service) installTranslator() error {
	endpoints := s.endpoints.Endpoints()
	if err := endpoints.Validate(); err != nil {
		return err
	}
	tr, err := s.newTranslator(endpoints)
	if err != nil {
		return err
	}
	s.tr.set(tr)
	return nil
}

func (s *Service) execute(ctx context.Context, job *jobs.Job) (res jobs.Result, err error) {
	err = SafeExecute(func() error {
		var stepErr error
		res, stepErr = s.worker.Step(ctx, job)
		return stepErr
	})
	if err != nil {
		log.Warn("Job %s (%s, group %d) attempt %d/%d failed: %v", job.ID, job.Kind, job.GroupID, job.Attempt, job.MaxAttempts, err)
	}
	return res, err
}

// onDiscard parks the group of a job that ran out of attempts. It stays
// paused until the operator resumes the project.
func (s *Service) onDiscard(job *jobs.Job, err error) {
	log.Error("Job %s discarded after %d attempt(s): %v", job.ID, job.Attempt, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if setErr := s.store.SetGroupStatus(ctx, job.GroupID, book.GroupPaused); setErr != nil {
		log.Error("Failed to pause group %d: %v", job.GroupID, setErr)
	}
}

// Import segments every document of an unpacked book and stores one group
// per document. Documents that fail to parse are reported and skipped.
func (s *Service) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if strings.TrimSpace(req.Path) == "" {
		return nil, NewError(ErrValidation, "book path is required")
	}
	sourceLang, targetLang, err := s.languages(req)
	if err != nil {
		return nil, err
	}

	session, err := document.Open(req.Path)
	if err != nil {
		return nil, WrapError(err, ErrFileNotFound, "open book").WithContext("path", req.Path)
	}
	names, err := session.List()
	if err != nil {
		return nil, WrapError(err, ErrFileRead, "list documents")
	}
	if len(names) == 0 {
		return nil, NewError(ErrValidation, "book contains no XHTML documents").WithContext("path", req.Path)
	}

	files := make([]segment.File, 0, len(names))
	for _, name := range names {
		data, err := session.ReadFile(name)
		if err != nil {
			return nil, wrap(err, ErrFileRead, "read document").WithContext("file", name)
		}
		files = append(files, segment.File{Name: name, Data: data})
	}

	results, err := s.segmenter.SegmentFiles(ctx, files, segmentParallelism)
	if err != nil {
		return nil, err
	}

	name := req.Name
	if strings.TrimSpace(name) == "" {
		name = filepath.Base(session.Root())
	}
	project := &book.Project{
		ID:         uuid.NewString(),
		Name:       name,
		SourcePath: session.Root(),
		SourceLang: sourceLang,
		TargetLang: targetLang,
	}
	ret := &ImportResult{Project: project}
	var firstErr error
	for _, r := range results {
		if r.Err != nil {
			log.Error("Skipping %s: %v", r.Name, r.Err)
			ret.Failed = append(ret.Failed, FileError{File: r.Name, Error: r.Err.Error()})
			if firstErr == nil {
				firstErr = r.Err
			}
		}
	}
	if len(ret.Failed) == len(results) {
		return nil, wrap(firstErr, ErrParse, "no document could be segmented").
			WithContext("files", len(results))
	}

	if err := s.store.CreateProject(ctx, project); err != nil {
		return nil, WrapError(err, ErrUnknown, "create project")
	}
	position := 0
	for _, r := range results {
		if r.Err != nil || len(r.Units) == 0 {
			continue
		}
		g := &book.Group{ProjectID: project.ID, GroupKey: r.Name, Position: position}
		if err := s.store.CreateGroup(ctx, g, r.Units); err != nil {
			return nil, WrapError(err, ErrUnknown, "store group").WithContext("file", r.Name)
		}
		position++
		ret.Groups++
		ret.Units += len(r.Units)
	}
	log.Info("Imported %s as project %s: %d group(s), %d unit(s), %d failed file(s)",
		req.Path, project.ID, ret.Groups, ret.Units, len(ret.Failed))
	return ret, nil
}

func (s *Service) languages(req ImportRequest) (string, string, error) {
	source := s.cfg.Translate.SourceLanguage
	target := s.cfg.Translate.TargetLanguage
	if req.SourceLang != "" {
		tag, err := language.Parse(req.SourceLang)
		if err != nil {
			return "", "", WrapError(err, ErrValidation, "invalid source language")
		}
		source = tag
	}
	if req.TargetLang != "" {
		tag, err := language.Parse(req.TargetLang)
		if err != nil {
			return "", "", WrapError(err, ErrValidation, "invalid target language")
		}
		target = tag
	}
	if source == target {
		return "", "", NewError(ErrValidation, "source and target language are the same").
			WithContext("language", source.String())
	}
	return source.String(), target.String(), nil
}

// StartRun starts a fresh run over every group of a project. Endpoints are
// resolved first so that a run never starts without a usable model.
func (s *Service) StartRun(ctx context.Context, projectID string) (*book.Run, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, wrap(err, ErrUnknown, "load project")
	}
	if latest, err := s.store.LatestRun(ctx, projectID); err == nil {
		if latest.Status == book.RunRunning || latest.Status == book.RunPaused {
			return nil, NewError(ErrConflict, "project already has an active run").
				WithContext("run", latest.ID).
				WithContext("status", latest.Status)
		}
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return nil, WrapError(err, ErrUnknown, "load latest run")
	}

	if err := s.installTranslator(); err != nil {
		return nil, WrapError(err, ErrMissingEndpointConfig, "resolve model endpoints")
	}

	if err := s.store.ResetProject(ctx, project.ID); err != nil {
		return nil, WrapError(err, ErrUnknown, "reset project")
	}
	if project.Status != book.ProjectActive {
		if err := s.store.SetProjectStatus(ctx, project.ID, book.ProjectActive); err != nil {
			return nil, WrapError(err, ErrUnknown, "activate project")
		}
	}
	run := &book.Run{ID: uuid.NewString(), ProjectID: project.ID, Status: book.RunRunning}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, WrapError(err, ErrUnknown, "create run")
	}

	groups, err := s.store.ListGroups(ctx, project.ID)
	if err != nil {
		return nil, WrapError(err, ErrUnknown, "list groups")
	}
	for _, g := range groups {
		s.enqueue(jobs.KindTranslateGroup, run.ID, g.ID)
	}
	log.Info("Run %s started for project %s with %d group(s)", run.ID, project.ID, len(groups))
	return run, nil
}

func (s *Service) enqueue(kind jobs.Kind, runID string, groupID int64) *jobs.Job {
	job, created := s.queue.Enqueue(jobs.EnqueueRequest{
		Kind:        kind,
		RunID:       runID,
		GroupID:     groupID,
		MaxAttempts: s.cfg.Batch.MaxAttempts,
	})
	if !created {
		log.Debug("Job %s already in flight for group %d", job.ID, groupID)
	}
	return job
}

// Pause stops workers from starting new units of the project. Units already
// sent to a model finish and are committed.
func (s *Service) Pause(ctx context.Context, projectID string) error {
	if err := s.store.SetProjectStatus(ctx, projectID, book.ProjectPaused); err != nil {
		return wrap(err, ErrUnknown, "pause project")
	}
	run, err := s.store.LatestRun(ctx, projectID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil
		}
		return WrapError(err, ErrUnknown, "load latest run")
	}
	if run.Status == book.RunRunning {
		if err := s.store.SetRunStatus(ctx, run.ID, book.RunPaused, ""); err != nil {
			return WrapError(err, ErrUnknown, "pause run")
		}
	}
	log.Info("Project %s paused", projectID)
	return nil
}

// Resume reactivates the project and re-enqueues every unfinished group,
// including groups parked after their job ran out of attempts.
func (s *Service) Resume(ctx context.Context, projectID string) (*book.Run, error) {
	if err := s.store.SetProjectStatus(ctx, projectID, book.ProjectActive); err != nil {
		return nil, wrap(err, ErrUnknown, "resume project")
	}
	run, err := s.store.LatestRun(ctx, projectID)
	if err != nil {
		return nil, wrap(err, ErrUnknown, "load latest run")
	}
	if run.Status == book.RunPaused {
		if err := s.store.SetRunStatus(ctx, run.ID, book.RunRunning, ""); err != nil {
			return nil, WrapError(err, ErrUnknown, "resume run")
		}
		run.Status = book.RunRunning
	}

	groups, err := s.store.ListGroups(ctx, projectID)
	if err != nil {
		return nil, WrapError(err, ErrUnknown, "list groups")
	}
	requeued := 0
	for _, g := range groups {
		if run.Status == book.RunRunning && g.Status != book.GroupReady {
			s.enqueue(jobs.KindTranslateGroup, run.ID, g.ID)
			requeued++
		}
		dirty, err := s.store.ListDirtyUnits(ctx, g.ID, 1)
		if err != nil {
			return nil, WrapError(err, ErrUnknown, "list dirty units")
		}
		if len(dirty) > 0 {
			s.enqueue(jobs.KindRetranslateDirty, run.ID, g.ID)
		}
	}
	log.Info("Project %s resumed, %d group(s) requeued", projectID, requeued)
	return run, nil
}

// RequeueUnit marks a unit dirty and schedules its retranslation in the
// latest run of its project.
func (s *Service) RequeueUnit(ctx context.Context, unitID int64) (*jobs.Job, error) {
	unit, err := s.store.GetUnit(ctx, unitID)
	if err != nil {
		return nil, wrap(err, ErrUnknown, "load unit")
	}
	group, err := s.store.GetGroup(ctx, unit.GroupID)
	if err != nil {
		return nil, wrap(err, ErrUnknown, "load group")
	}
	run, err := s.store.LatestRun(ctx, group.ProjectID)
	if err != nil {
		return nil, wrap(err, ErrUnknown, "load latest run")
	}
	if run.Status == book.RunFailed {
		return nil, NewError(ErrConflict, "latest run failed; start a new run").WithContext("run", run.ID)
	}
	if err := s.store.SetUnitDirty(ctx, unit.ID, true); err != nil {
		return nil, WrapError(err, ErrUnknown, "mark unit dirty")
	}
	return s.enqueue(jobs.KindRetranslateDirty, run.ID, group.ID), nil
}

// Export reassembles every document with the latest run's translations and
// writes the whole book to output. Units without a translation keep their
// source markup.
func (s *Service) Export(ctx context.Context, projectID, output string) (*ExportResult, error) {
	if strings.TrimSpace(output) == "" {
		return nil, NewError(ErrValidation, "output path is required")
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, wrap(err, ErrUnknown, "load project")
	}
	run, err := s.store.LatestRun(ctx, projectID)
	if err != nil {
		return nil, wrap(err, ErrUnknown, "load latest run")
	}
	session, err := document.Open(project.SourcePath)
	if err != nil {
		return nil, WrapError(err, ErrFileNotFound, "open book").WithContext("path", project.SourcePath)
	}
	groups, err := s.store.ListGroups(ctx, projectID)
	if err != nil {
		return nil, WrapError(err, ErrUnknown, "list groups")
	}

	ret := &ExportResult{Output: output}
	for _, g := range groups {
		units, err := s.store.ListUnits(ctx, g.ID)
		if err != nil {
			return nil, WrapError(err, ErrUnknown, "list units")
		}
		bts, err := s.store.ListBlockTranslations(ctx, run.ID, g.ID)
		if err != nil {
			return nil, WrapError(err, ErrUnknown, "list translations")
		}
		translations := make(map[string]string, len(bts))
		for _, u := range units {
			bt, ok := bts[u.ID]
			if !ok {
				ret.Missing++
				continue
			}
			translations[u.UnitKey] = bt.TranslatedMarkup
			ret.Translated++
		}
		if len(translations) < len(units) {
			ret.Incomplete = append(ret.Incomplete, g.GroupKey)
		}

		data, err := session.ReadFile(g.GroupKey)
		if err != nil {
			return nil, wrap(err, ErrFileRead, "read document").WithContext("file", g.GroupKey)
		}
		out, err := s.segmenter.Assemble(g.GroupKey, data, translations)
		if err != nil {
			return nil, wrap(err, ErrParse, "assemble document").WithContext("file", g.GroupKey)
		}
		if err := session.WriteFile(g.GroupKey, out); err != nil {
			return nil, wrap(err, ErrFileWrite, "stage document").WithContext("file", g.GroupKey)
		}
		ret.Files++
	}
	if err := session.Build(output); err != nil {
		return nil, wrap(err, ErrFileWrite, "build output").WithContext("output", output)
	}
	log.Info("Exported project %s run %s to %s: %d translated, %d missing", projectID, run.ID, output, ret.Translated, ret.Missing)
	return ret, nil
}

// Status reports progress of the project's latest run.
func (s *Service) Status(ctx context.Context, projectID string) (*Status, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, wrap(err, ErrUnknown, "load project")
	}
	ret := &Status{Project: project, Jobs: []*jobs.Job{}}
	runID := ""
	run, err := s.store.LatestRun(ctx, projectID)
	switch {
	case err == nil:
		ret.Run = run
		runID = run.ID
		ret.Jobs = s.queue.ListByRun(run.ID)
	case !errors.Is(err, persistence.ErrNotFound):
		return nil, WrapError(err, ErrUnknown, "load latest run")
	}

	progress, err := s.store.GroupProgress(ctx, runID, projectID)
	if err != nil {
		return nil, WrapError(err, ErrUnknown, "load progress")
	}
	ret.Groups = progress
	total, done := 0, 0
	for _, p := range progress {
		total += p.Group.UnitCount
		done += p.Group.Cursor
	}
	if total > 0 {
		ret.Percent = float64(done) * 100 / float64(total)
	}
	return ret, nil
}

func (s *Service) Projects(ctx context.Context) ([]*book.Project, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, WrapError(err, ErrUnknown, "list projects")
	}
	return projects, nil
}

func (s *Service) Jobs() []*jobs.Job {
	return s.queue.List()
}

func (s *Service) Job(id string) (*jobs.Job, bool) {
	return s.queue.Get(id)
}

// Endpoints is a snapshot of the endpoint pool.
func (s *Service) Endpoints() []pool.Endpoint {
	return s.pool.Snapshot()
}

// Wait blocks until the latest run of the project is no longer running or
// ctx ends. It is used by the CLI to run a book to completion.
func (s *Service) Wait(ctx context.Context, projectID string, every time.Duration) (*book.Run, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		run, err := s.store.LatestRun(ctx, projectID)
		if err != nil {
			return nil, wrap(err, ErrUnknown, "load latest run")
		}
		if run.Status != book.RunRunning {
			return run, nil
		}
		if s.stalled(run.ID) {
			return run, fmt.Errorf("run %s has no jobs left in flight", run.ID)
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

// stalled reports a running run whose jobs were all discarded.
func (s *Service) stalled(runID string) bool {
	list := s.queue.ListByRun(runID)
	if len(list) == 0 {
		return false
	}
	for _, j := range list {
		if j.Status.InFlight() {
			return false
		}
	}
	for _, j := range list {
		if j.Status == jobs.StatusDiscarded {
			return true
		}
	}
	return false
}
