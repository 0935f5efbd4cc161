// Package batch drives translation of a group one unit at a time. Every
// step is a job; progress is only ever recorded through the group cursor.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MimeLyc/contextual-book-translator/internal/book"
	"github.com/MimeLyc/contextual-book-translator/internal/healer"
	"github.com/MimeLyc/contextual-book-translator/internal/jobs"
	"github.com/MimeLyc/contextual-book-translator/internal/persistence"
	"github.com/MimeLyc/contextual-book-translator/internal/placeholder"
	"github.com/MimeLyc/contextual-book-translator/internal/quality"
	"github.com/MimeLyc/contextual-book-translator/internal/segment"
	"github.com/MimeLyc/contextual-book-translator/internal/termmap"
	"github.com/MimeLyc/contextual-book-translator/internal/translator"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
)

const (
	DefaultBatchSize = 10
	DefaultSnooze    = 5 * time.Second
)

// Store is everything the worker reads and writes.
type Store interface {
	persistence.UnitWriter
	GetProject(ctx context.Context, id string) (*book.Project, error)
	GetRun(ctx context.Context, id string) (*book.Run, error)
	SetRunStatus(ctx context.Context, id string, status book.RunStatus, errMsg string) error
	GetGroup(ctx context.Context, groupID int64) (*book.Group, error)
	ListGroups(ctx context.Context, projectID string) ([]*book.Group, error)
	FetchPendingUnits(ctx context.Context, groupID int64, cursor, limit int) ([]*book.Unit, error)
	ListDirtyUnits(ctx context.Context, groupID int64, limit int) ([]*book.Unit, error)
	ListUnits(ctx context.Context, groupID int64) ([]*book.Unit, error)
	ListBlockTranslations(ctx context.Context, runID string, groupID int64) (map[int64]*book.BlockTranslation, error)
	WithinTx(ctx context.Context, fn func(persistence.UnitWriter) error) error
}

type Scheduler interface {
	Enqueue(req jobs.EnqueueRequest) (*jobs.Job, bool)
}

type Healer interface {
	Heal(source, translated string) (string, error)
}

type Guard interface {
	Check(ctx context.Context, source, translated, targetLang string) error
}

type Config struct {
	BatchSize int
	// Snooze is how long a job waits before looking at a paused run again.
	Snooze time.Duration
}

type Worker struct {
	cfg        Config
	store      Store
	translator translator.Translator
	healer     Healer
	guard      Guard
	scheduler  Scheduler
}

// NewWorker wires a worker. guard may be nil, which disables the quality
// pass after a group is ready.
func NewWorker(cfg Config, store Store, tr translator.Translator, h Healer, guard Guard, scheduler Scheduler) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Snooze <= 0 {
		cfg.Snooze = DefaultSnooze
	}
	return &Worker{
		cfg:        cfg,
		store:      store,
		translator: tr,
		healer:     h,
		guard:      guard,
		scheduler:  scheduler,
	}
}

// Step runs one step of job. It is the queue's executor.
func (w *Worker) Step(ctx context.Context, job *jobs.Job) (jobs.Result, error) {
	switch job.Kind {
	case jobs.KindTranslateGroup:
		return w.translateGroup(ctx, job)
	case jobs.KindRetranslateDirty:
		return w.retranslateDirty(ctx, job)
	case jobs.KindQualityGuard:
		return w.qualityGuard(ctx, job)
	default:
		return jobs.Result{}, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// scope is what one step works on.
type scope struct {
	project *book.Project
	run     *book.Run
	group   *book.Group
}

type liveness int

const (
	live liveness = iota
	paused
	finished
)

// check decides whether kind may make progress on the run. Dirty units and
// quality checks may still be worked on after the run completed.
func check(kind jobs.Kind, p *book.Project, r *book.Run) liveness {
	if r.Status == book.RunFailed {
		return finished
	}
	if r.Status == book.RunCompleted {
		if kind == jobs.KindTranslateGroup {
			return finished
		}
		if p.Status == book.ProjectActive {
			return live
		}
		return paused
	}
	if book.Runnable(p, r) {
		return live
	}
	return paused
}

func (w *Worker) load(ctx context.Context, job *jobs.Job) (*scope, error) {
	run, err := w.store.GetRun(ctx, job.RunID)
	if err != nil {
		return nil, err
	}
	project, err := w.store.GetProject(ctx, run.ProjectID)
	if err != nil {
		return nil, err
	}
	group, err := w.store.GetGroup(ctx, job.GroupID)
	if err != nil {
		return nil, err
	}
	return &scope{project: project, run: run, group: group}, nil
}

// recheck reloads run and project between units so a pause is seen before
// the next model call.
func (w *Worker) recheck(ctx context.Context, kind jobs.Kind, sc *scope) (liveness, error) {
	run, err := w.store.GetRun(ctx, sc.run.ID)
	if err != nil {
		return paused, err
	}
	project, err := w.store.GetProject(ctx, sc.project.ID)
	if err != nil {
		return paused, err
	}
	sc.run, sc.project = run, project
	return check(kind, project, run), nil
}

// yield turns a non-live state into the step result.
func (w *Worker) yield(ctx context.Context, state liveness, sc *scope) (jobs.Result, error) {
	if state == finished {
		log.Info("Run %s is %s, dropping work on group %s", sc.run.ID, sc.run.Status, sc.group.GroupKey)
		return jobs.DoneResult(), nil
	}
	if sc.group.Status == book.GroupRunning || sc.group.Status == book.GroupPending {
		if err := w.store.SetGroupStatus(ctx, sc.group.ID, book.GroupPaused); err != nil {
			return jobs.Result{}, err
		}
		sc.group.Status = book.GroupPaused
		log.Info("Group %s paused", sc.group.GroupKey)
	}
	return jobs.SnoozeResult(w.cfg.Snooze), nil
}

func (w *Worker) translateGroup(ctx context.Context, job *jobs.Job) (jobs.Result, error) {
	sc, err := w.load(ctx, job)
	if err != nil {
		return jobs.Result{}, err
	}
	if state := check(job.Kind, sc.project, sc.run); state != live {
		return w.yield(ctx, state, sc)
	}
	if sc.group.Status != book.GroupRunning {
		if err := w.store.SetGroupStatus(ctx, sc.group.ID, book.GroupRunning); err != nil {
			return jobs.Result{}, err
		}
		sc.group.Status = book.GroupRunning
	}

	units, err := w.store.FetchPendingUnits(ctx, sc.group.ID, sc.group.Cursor, w.cfg.BatchSize)
	if err != nil {
		return jobs.Result{}, fmt.Errorf("fetch pending units: %w", err)
	}
	if len(units) == 0 {
		return w.finalize(ctx, sc)
	}

	glossary := w.glossary(sc.project)
	for i, u := range units {
		if i > 0 {
			state, err := w.recheck(ctx, job.Kind, sc)
			if err != nil {
				return jobs.Result{}, err
			}
			if state != live {
				return w.yield(ctx, state, sc)
			}
		}
		if err := w.translateUnit(ctx, sc, u, glossary, true); err != nil {
			return jobs.Result{}, err
		}
	}

	if len(units) == w.cfg.BatchSize {
		log.Debug("Group %s at %d/%d, continuing", sc.group.GroupKey, sc.group.Cursor, sc.group.UnitCount)
		return jobs.ContinueResult(), nil
	}
	return w.finalize(ctx, sc)
}

func (w *Worker) finalize(ctx context.Context, sc *scope) (jobs.Result, error) {
	if err := w.store.SetGroupStatus(ctx, sc.group.ID, book.GroupReady); err != nil {
		return jobs.Result{}, err
	}
	log.Info("Group %s ready (%d units)", sc.group.GroupKey, sc.group.UnitCount)

	if w.guard != nil {
		w.scheduler.Enqueue(jobs.EnqueueRequest{
			Kind:    jobs.KindQualityGuard,
			RunID:   sc.run.ID,
			GroupID: sc.group.ID,
		})
	}

	groups, err := w.store.ListGroups(ctx, sc.project.ID)
	if err != nil {
		return jobs.Result{}, err
	}
	for _, g := range groups {
		if g.Status != book.GroupReady {
			return jobs.DoneResult(), nil
		}
	}
	if err := w.store.SetRunStatus(ctx, sc.run.ID, book.RunCompleted, ""); err != nil {
		return jobs.Result{}, err
	}
	log.Info("Run %s completed", sc.run.ID)
	return jobs.DoneResult(), nil
}

func (w *Worker) glossary(p *book.Project) termmap.TermMap {
	tm, err := termmap.LoadNearest(p.SourcePath, p.SourceLang, p.TargetLang)
	if err != nil {
		log.Warn("Failed to load glossary for project %s: %v", p.ID, err)
		return nil
	}
	return tm
}

// translateUnit translates, heals and commits one unit. When advance is set
// the unit goes through translating and the cursor moves past it; both
// happen in the same transaction as the result.
func (w *Worker) translateUnit(ctx context.Context, sc *scope, u *book.Unit, glossary termmap.TermMap, advance bool) error {
	if advance {
		if err := w.store.SetUnitStatus(ctx, u.ID, book.UnitTranslating); err != nil {
			return err
		}
	}

	res, err := w.translator.Translate(ctx, translator.Request{
		SourceLang: sc.project.SourceLang,
		TargetLang: sc.project.TargetLang,
		Texts:      []string{u.TaggedText},
		Context:    sc.group.ContextSummary,
		Glossary:   glossary,
	})
	if err != nil {
		return fmt.Errorf("translate unit %s: %w", u.UnitKey, err)
	}
	tagged := ""
	if len(res.Translations) > 0 {
		tagged = res.Translations[0]
	}

	status := book.BlockOK
	if !res.Validated {
		status = book.BlockUnvalidated
	}
	healed, err := w.healer.Heal(u.TaggedText, tagged)
	if err != nil {
		if !errors.Is(err, healer.ErrHealingFailed) {
			return fmt.Errorf("heal unit %s: %w", u.UnitKey, err)
		}
		status = book.BlockHealingFailed
		log.Warn("Unit %s of group %s: %v", u.UnitKey, sc.group.GroupKey, err)
	}

	protected := placeholder.Desemanticize(healed, u.SemanticIndex)
	bt := &book.BlockTranslation{
		RunID:            sc.run.ID,
		UnitID:           u.ID,
		TranslatedText:   placeholder.StripTags(healed),
		TranslatedMarkup: placeholder.Restore(segment.EscapeText(protected), u.PlaceholderMap),
		Status:           status,
		RawResponse:      res.Raw,
		UpdatedAt:        time.Now(),
	}

	cursor := sc.group.Cursor
	err = w.store.WithinTx(ctx, func(tx persistence.UnitWriter) error {
		if err := tx.UpsertBlockTranslation(ctx, bt); err != nil {
			return err
		}
		if err := tx.SetUnitStatus(ctx, u.ID, book.UnitTranslated); err != nil {
			return err
		}
		if err := tx.SetUnitDirty(ctx, u.ID, false); err != nil {
			return err
		}
		if advance {
			c, err := tx.AdvanceCursor(ctx, sc.group.ID, u.Position)
			if err != nil {
				return err
			}
			cursor = c
		}
		if res.ContextSummary != "" {
			return tx.SetGroupContext(ctx, sc.group.ID, res.ContextSummary)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit unit %s: %w", u.UnitKey, err)
	}

	sc.group.Cursor = cursor
	if res.ContextSummary != "" {
		sc.group.ContextSummary = res.ContextSummary
	}
	log.Debug("Unit %s translated (%s), cursor %d/%d", u.UnitKey, status, cursor, sc.group.UnitCount)
	return nil
}

// retranslateDirty translates dirty units again without touching the cursor.
func (w *Worker) retranslateDirty(ctx context.Context, job *jobs.Job) (jobs.Result, error) {
	sc, err := w.load(ctx, job)
	if err != nil {
		return jobs.Result{}, err
	}
	if state := check(job.Kind, sc.project, sc.run); state != live {
		return w.yield(ctx, state, sc)
	}

	units, err := w.store.ListDirtyUnits(ctx, sc.group.ID, w.cfg.BatchSize)
	if err != nil {
		return jobs.Result{}, fmt.Errorf("list dirty units: %w", err)
	}
	if len(units) == 0 {
		return jobs.DoneResult(), nil
	}

	glossary := w.glossary(sc.project)
	for i, u := range units {
		if i > 0 {
			state, err := w.recheck(ctx, job.Kind, sc)
			if err != nil {
				return jobs.Result{}, err
			}
			if state != live {
				return w.yield(ctx, state, sc)
			}
		}
		if err := w.translateUnit(ctx, sc, u, glossary, false); err != nil {
			return jobs.Result{}, err
		}
	}
	if len(units) == w.cfg.BatchSize {
		return jobs.ContinueResult(), nil
	}
	log.Info("Retranslated %d dirty unit(s) of group %s", len(units), sc.group.GroupKey)
	return jobs.DoneResult(), nil
}

// qualityGuard marks units whose translation is too close to the source as
// dirty and schedules their retranslation.
func (w *Worker) qualityGuard(ctx context.Context, job *jobs.Job) (jobs.Result, error) {
	if w.guard == nil {
		return jobs.DoneResult(), nil
	}
	sc, err := w.load(ctx, job)
	if err != nil {
		return jobs.Result{}, err
	}
	if state := check(job.Kind, sc.project, sc.run); state != live {
		return w.yield(ctx, state, sc)
	}

	units, err := w.store.ListUnits(ctx, sc.group.ID)
	if err != nil {
		return jobs.Result{}, err
	}
	bts, err := w.store.ListBlockTranslations(ctx, sc.run.ID, sc.group.ID)
	if err != nil {
		return jobs.Result{}, err
	}

	flagged := 0
	for _, u := range units {
		bt, ok := bts[u.ID]
		if !ok || u.Dirty {
			continue
		}
		err := w.guard.Check(ctx, placeholder.StripTags(u.TaggedText), bt.TranslatedText, sc.project.TargetLang)
		if err == nil {
			continue
		}
		if !errors.Is(err, quality.ErrSimilarityViolation) {
			return jobs.Result{}, fmt.Errorf("quality check of unit %s: %w", u.UnitKey, err)
		}
		if err := w.store.SetUnitDirty(ctx, u.ID, true); err != nil {
			return jobs.Result{}, err
		}
		flagged++
		log.Warn("Unit %s of group %s marked dirty: %v", u.UnitKey, sc.group.GroupKey, err)
	}

	if flagged > 0 {
		w.scheduler.Enqueue(jobs.EnqueueRequest{
			Kind:    jobs.KindRetranslateDirty,
			RunID:   sc.run.ID,
			GroupID: sc.group.ID,
		})
	}
	return jobs.DoneResult(), nil
}
