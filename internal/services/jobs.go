package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mescon/repeatd/internal/clock"
	"github.com/mescon/repeatd/internal/domain"
	"github.com/mescon/repeatd/internal/eventbus"
	"github.com/mescon/repeatd/internal/logger"
	"github.com/mescon/repeatd/internal/probe"
	"github.com/mescon/repeatd/internal/repeater"
)

var (
	// ErrJobNotFound is returned for an unknown or already aborted job ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidJob is returned when a job configuration fails validation.
	ErrInvalidJob = errors.New("invalid job")
)

// JobConfig describes a job to schedule.
type JobConfig struct {
	Name     string
	Kind     string
	Target   string
	Interval time.Duration
	Delay    time.Duration
}

// JobInfo is a point-in-time view of a job.
type JobInfo struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Kind       string        `json:"kind"`
	Target     string        `json:"target,omitempty"`
	Interval   time.Duration `json:"-"`
	Delay      time.Duration `json:"-"`
	IntervalMs int64         `json:"interval_ms"`
	DelayMs    int64         `json:"delay_ms"`
	Count      int           `json:"count"`
	LastRun    *time.Time    `json:"last_run,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	Failures   int64         `json:"failures"`
	Running    bool          `json:"running"`
	Aborted    bool          `json:"aborted"`
	CreatedAt  time.Time     `json:"created_at"`
}

type job struct {
	id        string
	cfg       JobConfig
	prober    probe.Prober
	createdAt time.Time
	rep       *repeater.Repeater

	mu        sync.Mutex
	lastError string
	failures  int64
}

// JobService schedules probe jobs, one repeater per job, and publishes their
// lifecycle on the event bus.
type JobService struct {
	eventBus     eventbus.Publisher
	probers      *probe.Registry
	clock        clock.Clock
	probeTimeout time.Duration
	repeaters    *repeater.Collection

	mu   sync.RWMutex
	jobs map[string]*job
}

// NewJobService creates a job service. A nil clock uses the real clock.
func NewJobService(eb eventbus.Publisher, probers *probe.Registry, clk clock.Clock) *JobService {
	if clk == nil {
		clk = clock.Default
	}
	return &JobService{
		eventBus:  eb,
		probers:   probers,
		clock:     clk,
		repeaters: repeater.NewCollection(),
		jobs:      make(map[string]*job),
	}
}

// SetProbeTimeout bounds each probe. Zero means probes are only bounded by abort.
func (s *JobService) SetProbeTimeout(d time.Duration) {
	s.probeTimeout = d
}

// AddJob validates cfg and schedules it. The first probe runs after cfg.Delay.
func (s *JobService) AddJob(cfg JobConfig) (JobInfo, error) {
	if cfg.Interval < 0 || cfg.Delay < 0 {
		return JobInfo{}, fmt.Errorf("%w: interval and delay must not be negative", ErrInvalidJob)
	}
	prober, err := s.probers.ForKind(probe.Kind(cfg.Kind))
	if err != nil {
		return JobInfo{}, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	if probe.Kind(cfg.Kind) == probe.KindHTTP && cfg.Target == "" {
		return JobInfo{}, fmt.Errorf("%w: http jobs need a target URL", ErrInvalidJob)
	}

	j := &job{
		id:        uuid.New().String(),
		cfg:       cfg,
		prober:    prober,
		createdAt: s.clock.Now().UTC(),
	}
	if j.cfg.Name == "" {
		j.cfg.Name = fmt.Sprintf("%s-%s", cfg.Kind, j.id[:8])
	}

	// register before the repeater exists so observer callbacks can find the job
	s.mu.Lock()
	s.jobs[j.id] = j
	s.mu.Unlock()

	rep, err := s.repeaters.Add(repeater.Bind(j, s.runTick), repeater.Options{
		Interval: cfg.Interval,
		Delay:    cfg.Delay,
		Name:     j.cfg.Name,
		Clock:    s.clock,
		Observer: func(ev repeater.Event) { s.observe(j, ev) },
	})
	if err != nil {
		s.mu.Lock()
		delete(s.jobs, j.id)
		s.mu.Unlock()
		return JobInfo{}, err
	}

	s.mu.Lock()
	j.rep = rep
	s.mu.Unlock()

	s.publish(j, domain.JobAdded, map[string]interface{}{
		"kind":        cfg.Kind,
		"target":      cfg.Target,
		"interval_ms": cfg.Interval.Milliseconds(),
		"delay_ms":    cfg.Delay.Milliseconds(),
	})
	logger.Infof("Job %s (%s) scheduled every %s after %s", j.cfg.Name, j.id, cfg.Interval, cfg.Delay)

	return s.snapshot(j), nil
}

// LoadJobs adds every config, logging the ones that fail. Returns how many were added.
func (s *JobService) LoadJobs(configs []JobConfig) int {
	added := 0
	for _, cfg := range configs {
		if _, err := s.AddJob(cfg); err != nil {
			logger.Errorf("Failed to add job %q: %v", cfg.Name, err)
			continue
		}
		added++
	}
	logger.Infof("Loaded %d of %d configured jobs", added, len(configs))
	return added
}

// runTick is the repeater callback for a job.
func (s *JobService) runTick(j *job, t *repeater.Tick) error {
	ctx := t.Context()
	if s.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.probeTimeout)
		defer cancel()
	}

	err := j.prober.Probe(ctx, j.cfg.Target)
	if err == nil {
		j.mu.Lock()
		j.lastError = ""
		j.mu.Unlock()
	}
	return err
}

// observe bridges repeater events onto the event bus.
func (s *JobService) observe(j *job, ev repeater.Event) {
	switch ev.Kind {
	case repeater.EventRun:
		delta, ok := ev.Tick.Delta()
		s.publish(j, domain.TickStarted, domain.NewTickEventData(ev.Tick.Count(), delta, ok, nil))

	case repeater.EventError:
		cause := ev.Err
		count := 0
		var cbErr *repeater.CallbackError
		if errors.As(ev.Err, &cbErr) {
			cause = cbErr.Err
			count = cbErr.Count
		}
		j.mu.Lock()
		j.lastError = cause.Error()
		j.failures++
		j.mu.Unlock()

		logger.Warnf("Job %s: tick %d failed: %v", j.cfg.Name, count, cause)
		var delta time.Duration
		var hasDelta bool
		if ev.Tick != nil {
			delta, hasDelta = ev.Tick.Delta()
		}
		s.publish(j, domain.TickFailed, domain.NewTickEventData(count, delta, hasDelta, cause))

	case repeater.EventAbort:
		s.publish(j, domain.AbortRequested, nil)

	case repeater.EventAborted:
		s.mu.Lock()
		delete(s.jobs, j.id)
		s.mu.Unlock()
		s.publish(j, domain.JobAborted, map[string]interface{}{"count": int64(ev.Repeater.Count())})
		logger.Infof("Job %s (%s) aborted", j.cfg.Name, j.id)
	}
}

func (s *JobService) publish(j *job, eventType domain.EventType, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	err := s.eventBus.Publish(domain.Event{
		JobID:     j.id,
		JobName:   j.cfg.Name,
		EventType: eventType,
		EventData: data,
	})
	if err != nil {
		logger.Errorf("Failed to publish %s for job %s: %v", eventType, j.id, err)
	}
}

// List returns all live jobs ordered by creation time.
func (s *JobService) List() []JobInfo {
	s.mu.RLock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.RUnlock()

	infos := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		infos = append(infos, s.snapshot(j))
	}
	sort.Slice(infos, func(a, b int) bool {
		if infos[a].CreatedAt.Equal(infos[b].CreatedAt) {
			return infos[a].Name < infos[b].Name
		}
		return infos[a].CreatedAt.Before(infos[b].CreatedAt)
	})
	return infos
}

// Get returns the job with the given ID.
func (s *JobService) Get(id string) (JobInfo, bool) {
	j, ok := s.lookup(id)
	if !ok {
		return JobInfo{}, false
	}
	return s.snapshot(j), true
}

// AbortJob aborts one job. The channel closes once its in-flight probe has finished.
func (s *JobService) AbortJob(id string) (<-chan struct{}, error) {
	j, ok := s.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	logger.Infof("Aborting job %s (%s)", j.cfg.Name, id)
	return j.rep.Abort(), nil
}

// SetJobInterval changes a job's interval from its next run onwards.
func (s *JobService) SetJobInterval(id string, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: interval must not be negative", ErrInvalidJob)
	}
	j, ok := s.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	j.rep.SetInterval(d)
	logger.Infof("Job %s interval set to %s", j.cfg.Name, d)
	return nil
}

// AbortAll aborts every live job. The channel closes once all of them have finished.
func (s *JobService) AbortAll() <-chan struct{} {
	logger.Infof("Aborting all jobs (%d live)", s.repeaters.Len())
	return s.repeaters.Abort()
}

// Len returns the number of live jobs.
func (s *JobService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Shutdown aborts every job and waits for in-flight probes, up to ctx's deadline.
func (s *JobService) Shutdown(ctx context.Context) error {
	logger.Infof("Job service: initiating shutdown...")
	if err := s.repeaters.AbortAndWait(ctx); err != nil {
		logger.Warnf("Job service: shutdown did not complete: %v", err)
		return err
	}
	logger.Infof("Job service: shutdown complete")
	return nil
}

func (s *JobService) lookup(id string) (*job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok || j.rep == nil {
		return nil, false
	}
	return j, true
}

func (s *JobService) snapshot(j *job) JobInfo {
	info := JobInfo{
		ID:         j.id,
		Name:       j.cfg.Name,
		Kind:       j.cfg.Kind,
		Target:     j.cfg.Target,
		Delay:      j.cfg.Delay,
		DelayMs:    j.cfg.Delay.Milliseconds(),
		Interval:   j.cfg.Interval,
		IntervalMs: j.cfg.Interval.Milliseconds(),
		CreatedAt:  j.createdAt,
	}

	s.mu.RLock()
	rep := j.rep
	s.mu.RUnlock()
	if rep != nil {
		info.Interval = rep.Interval()
		info.IntervalMs = info.Interval.Milliseconds()
		info.Count = rep.Count()
		info.Running = rep.Running()
		info.Aborted = rep.Aborted()
		if last, ok := rep.LastRun(); ok {
			last = last.UTC()
			info.LastRun = &last
		}
	}

	j.mu.Lock()
	info.LastError = j.lastError
	info.Failures = j.failures
	j.mu.Unlock()
	return info
}
