// Package schedule runs configured tasks on cron expressions while the
// gateway is up.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"scriptagent/internal/config"
)

// Job is a periodic unit of work.
type Job interface {
	// Name returns a unique identifier for this job.
	Name() string
	// Schedule returns a 5-field cron expression or a descriptor such as "@hourly".
	Schedule() string
	Run(ctx context.Context) error
}

// Scheduler runs registered jobs. A tick is skipped while the previous
// run of the same job is still in flight.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   []Job
	locks  map[string]*sync.Mutex
	logger *slog.Logger
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Jobs must be registered before Start.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		locks:  make(map[string]*sync.Mutex),
		logger: logger,
	}
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec reports whether spec is a valid schedule expression.
func ValidateSpec(spec string) error {
	_, err := parser.Parse(spec)
	return err
}

// RegisterJob adds a job. Names must be unique.
func (s *Scheduler) RegisterJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := j.Name()
	if _, exists := s.locks[name]; exists {
		return fmt.Errorf("schedule: duplicate job name %q", name)
	}
	s.locks[name] = &sync.Mutex{}
	s.jobs = append(s.jobs, j)
	return nil
}

// Jobs returns the registered jobs in registration order.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.jobs...)
}

// Start begins executing registered jobs. It fails if any job has an
// invalid schedule, in which case nothing is started.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(cron.WithParser(parser))

	for _, job := range s.jobs {
		lock := s.locks[job.Name()]
		if _, err := c.AddFunc(job.Schedule(), func() { s.run(ctx, job, lock) }); err != nil {
			cancel()
			return fmt.Errorf("schedule: invalid spec for job %q: %w", job.Name(), err)
		}
	}

	s.cron, s.cancel = c, cancel
	c.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

func (s *Scheduler) run(ctx context.Context, job Job, lock *sync.Mutex) {
	if !lock.TryLock() {
		s.logger.Warn("job still running, skipping tick", "job", job.Name())
		return
	}
	defer lock.Unlock()

	s.logger.Debug("job started", "job", job.Name())
	if err := job.Run(ctx); err != nil {
		s.logger.Error("job failed", "job", job.Name(), "err", err)
		return
	}
	s.logger.Debug("job completed", "job", job.Name())
}

// Stop cancels running jobs and waits for them to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TaskRunner runs one task and returns its textual result.
type TaskRunner interface {
	Run(ctx context.Context, task string) string
}

// TaskJob runs a fixed task through the agent.
type TaskJob struct {
	JobName string
	Spec    string
	Task    string
	Runner  TaskRunner
	Logger  *slog.Logger
	// OnResult, if set, receives each result.
	OnResult func(name, result string)
}

var _ Job = (*TaskJob)(nil)

func (j *TaskJob) Name() string     { return j.JobName }
func (j *TaskJob) Schedule() string { return j.Spec }

// Run executes the task. A failed task is reported as an error so the
// scheduler logs it.
func (j *TaskJob) Run(ctx context.Context) error {
	result := j.Runner.Run(ctx, j.Task)
	if j.OnResult != nil {
		j.OnResult(j.JobName, result)
	}
	if msg, failed := strings.CutPrefix(result, "Error during execution: "); failed {
		return fmt.Errorf("task %q: %s", j.Task, msg)
	}
	if j.Logger != nil {
		j.Logger.Info("scheduled task completed", "job", j.JobName, "result_len", len(result))
	}
	return nil
}

// FromConfig builds a scheduler with a TaskJob for every enabled schedule.
func FromConfig(schedules []config.ScheduleConfig, runner TaskRunner, logger *slog.Logger) (*Scheduler, error) {
	s := NewScheduler(logger)
	for _, sc := range schedules {
		if !sc.Enabled {
			continue
		}
		if err := ValidateSpec(sc.Spec); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", sc.Name, err)
		}
		if err := s.RegisterJob(&TaskJob{JobName: sc.Name, Spec: sc.Spec, Task: sc.Task, Runner: runner, Logger: s.logger}); err != nil {
			return nil, err
		}
	}
	return s, nil
}
