// Package schedule runs saved queries on cron schedules and persists each
// result to the job store, where later queries can read it with loadjob.
//
// Schedules are read from a YAML file:
//
//	retention: 168h
//	jobs:
//	  - name: errors-hourly
//	    cron: "0 * * * *"
//	    query: index="logs/*" status=error | stats count by host
package schedule

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"speakquery/internal/dataset"
	"speakquery/internal/logging"
)

var (
	// ErrDuplicateJob is returned when a job name is registered twice.
	ErrDuplicateJob = errors.New("scheduled job already exists")
	// ErrUnknownJob is returned for a job name that is not registered.
	ErrUnknownJob = errors.New("unknown scheduled job")
	// ErrInvalidJob is wrapped by every job validation failure.
	ErrInvalidJob = errors.New("invalid scheduled job")
)

// pruneJobName is the internal job that deletes expired results.
const pruneJobName = "_prune"

var jobNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Executor runs a query. *query.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, query string) (*dataset.Dataset, error)
}

// Store persists results. *jobstore.Store satisfies it.
type Store interface {
	Save(query string, ds *dataset.Dataset) (uuid.UUID, error)
	Prune(cutoff time.Time) (int, error)
}

// Job is one scheduled query.
type Job struct {
	Name  string `yaml:"name"`
	Cron  string `yaml:"cron"`
	Query string `yaml:"query"`
}

func (j Job) validate() error {
	switch {
	case !jobNameRe.MatchString(j.Name):
		return fmt.Errorf("%w: bad name %q", ErrInvalidJob, j.Name)
	case j.Cron == "":
		return fmt.Errorf("%w: %s: cron is required", ErrInvalidJob, j.Name)
	case j.Query == "":
		return fmt.Errorf("%w: %s: query is required", ErrInvalidJob, j.Name)
	}
	return nil
}

// File is the on-disk schedule definition.
type File struct {
	// Retention deletes saved results older than this. Zero keeps them.
	Retention time.Duration `yaml:"retention,omitempty"`
	Jobs      []Job         `yaml:"jobs"`
}

// LoadFile reads and validates a schedule file. Unknown keys are rejected.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is an explicit flag
	if err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse schedule file %s: %w", path, err)
	}
	if f.Retention < 0 {
		return nil, fmt.Errorf("%w: negative retention", ErrInvalidJob)
	}
	seen := make(map[string]bool, len(f.Jobs))
	for _, j := range f.Jobs {
		if err := j.validate(); err != nil {
			return nil, err
		}
		if seen[j.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, j.Name)
		}
		seen[j.Name] = true
	}
	return &f, nil
}

// Config wires a Runner.
type Config struct {
	Executor  Executor
	Store     Store
	Retention time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

// JobInfo describes a registered job.
type JobInfo struct {
	Name    string
	Cron    string
	Query   string
	LastRun time.Time // zero if never run
	NextRun time.Time // zero if not scheduled
	LastID  uuid.UUID // result of the last successful run
	LastErr error
}

type entry struct {
	spec    Job
	job     gocron.Job
	lastID  uuid.UUID
	lastErr error
}

// Runner owns a cron scheduler whose jobs execute queries. Runs of the same
// job never overlap; a run that is still going when the next one is due
// skips that tick.
type Runner struct {
	cfg       Config
	logger    *slog.Logger
	scheduler gocron.Scheduler

	mu   sync.Mutex
	jobs map[string]*entry
	ctx  context.Context
}

// New creates a stopped Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Executor == nil || cfg.Store == nil {
		return nil, errors.New("schedule: executor and store are required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create cron scheduler: %w", err)
	}
	r := &Runner{
		cfg:       cfg,
		logger:    logging.Default(cfg.Logger).With("component", "scheduler"),
		scheduler: s,
		jobs:      make(map[string]*entry),
		ctx:       context.Background(),
	}
	if cfg.Retention > 0 {
		_, err := s.NewJob(
			gocron.DurationJob(min(cfg.Retention, time.Hour)),
			gocron.NewTask(r.prune),
			gocron.WithName(pruneJobName),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, fmt.Errorf("create prune job: %w", err)
		}
	}
	return r, nil
}

// Add registers a job. Cron expressions have five fields; a sixth leading
// seconds field is accepted too.
func (r *Runner) Add(j Job) error {
	if err := j.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[j.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, j.Name)
	}
	withSeconds := len(strings.Fields(j.Cron)) == 6
	e := &entry{spec: j}
	gj, err := r.scheduler.NewJob(
		gocron.CronJob(j.Cron, withSeconds),
		gocron.NewTask(func() {
			r.mu.Lock()
			ctx := r.ctx
			r.mu.Unlock()
			_, _ = r.run(ctx, e)
		}),
		gocron.WithName(j.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidJob, j.Name, err)
	}
	e.job = gj
	r.jobs[j.Name] = e
	r.logger.Info("scheduled job added", "name", j.Name, "cron", j.Cron)
	return nil
}

// Remove stops and removes a job.
func (r *Runner) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if err := r.scheduler.RemoveJob(e.job.ID()); err != nil {
		r.logger.Warn("failed to remove scheduled job", "name", name, "error", err)
	}
	delete(r.jobs, name)
	r.logger.Info("scheduled job removed", "name", name)
	return nil
}

// RunNow runs a job immediately, outside its schedule.
func (r *Runner) RunNow(ctx context.Context, name string) (uuid.UUID, error) {
	r.mu.Lock()
	e, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return r.run(ctx, e)
}

func (r *Runner) run(ctx context.Context, e *entry) (uuid.UUID, error) {
	start := r.cfg.Now()
	id, err := r.execute(ctx, e.spec)

	r.mu.Lock()
	e.lastErr = err
	if err == nil {
		e.lastID = id
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("scheduled query failed", "name", e.spec.Name, "error", err)
		return uuid.Nil, err
	}
	r.logger.Info("scheduled query finished", "name", e.spec.Name, "job", id, "elapsed", r.cfg.Now().Sub(start))
	return id, nil
}

func (r *Runner) execute(ctx context.Context, j Job) (uuid.UUID, error) {
	ds, err := r.cfg.Executor.Execute(ctx, j.Query)
	if err != nil {
		return uuid.Nil, fmt.Errorf("run %s: %w", j.Name, err)
	}
	id, err := r.cfg.Store.Save(j.Query, ds)
	if err != nil {
		return uuid.Nil, fmt.Errorf("save %s: %w", j.Name, err)
	}
	return id, nil
}

func (r *Runner) prune() {
	if _, err := r.cfg.Store.Prune(r.cfg.Now().Add(-r.cfg.Retention)); err != nil {
		r.logger.Warn("job prune failed", "error", err)
	}
}

// List returns the registered jobs sorted by name.
func (r *Runner) List() []JobInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]JobInfo, 0, len(r.jobs))
	for name, e := range r.jobs {
		info := JobInfo{
			Name:    name,
			Cron:    e.spec.Cron,
			Query:   e.spec.Query,
			LastID:  e.lastID,
			LastErr: e.lastErr,
		}
		if lr, err := e.job.LastRun(); err == nil {
			info.LastRun = lr
		}
		if nr, err := e.job.NextRun(); err == nil {
			info.NextRun = nr
		}
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b JobInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos
}

// Start begins executing jobs. Scheduled runs use ctx; cancelling it
// aborts running queries but does not stop the scheduler.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	n := len(r.jobs)
	r.mu.Unlock()
	r.scheduler.Start()
	r.logger.Info("scheduler started", "jobs", n)
}

// Stop shuts down the scheduler and waits for running jobs to finish.
func (r *Runner) Stop() error {
	if err := r.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	r.logger.Info("scheduler stopped")
	return nil
}
