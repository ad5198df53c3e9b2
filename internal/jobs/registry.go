package jobs

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/crewgate/internal/buffer"
	"github.com/mattjoyce/crewgate/internal/log"
	"github.com/mattjoyce/crewgate/internal/spawner"
)

// Event types published on job transitions.
const (
	EventStarted   = "job.started"
	EventCompleted = "job.completed"
	EventFailed    = "job.failed"
	EventKilled    = "job.killed"
	EventSwept     = "job.swept"
)

// Terminator escalates termination of a process. *spawner.Spawner implements it.
type Terminator interface {
	Terminate(p *spawner.Process)
}

// Publisher receives job transition events. *events.Hub implements it.
type Publisher interface {
	Publish(eventType string, data any)
}

// Recorder journals finalized jobs. It is write-only: the registry never
// reads state back.
type Recorder interface {
	Record(ctx context.Context, info Info, stdoutBytes, stderrBytes int) error
}

// Config holds registry tunables. Zero values fall back to package defaults.
type Config struct {
	MaxStdout     int
	Retention     time.Duration
	SweepInterval time.Duration
	WaitTimeout   time.Duration
	// MaxWait caps any timeout a caller passes to Wait.
	MaxWait time.Duration
}

// Job is one background invocation. Mutable fields are guarded by mu; the
// output buffers carry their own locks.
type Job struct {
	id      string
	seq     uint64
	agent   string
	prompt  string
	digest  string
	model   string
	started time.Time
	proc    *spawner.Process

	stdout *buffer.Buffer
	stderr *buffer.Buffer
	done   chan struct{}

	mu          sync.Mutex
	status      Status
	pid         *int
	completedAt *time.Time
	exitCode    *int
	err         string
}

// ID returns the job id.
func (j *Job) ID() string { return j.id }

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) info(withPreview bool) Info {
	j.mu.Lock()
	defer j.mu.Unlock()
	info := Info{
		ID:           j.id,
		Agent:        j.agent,
		Status:       j.status,
		Prompt:       j.prompt,
		PromptDigest: j.digest,
		Model:        j.model,
		StartedAt:    j.started,
		Error:        j.err,
	}
	if j.pid != nil {
		pid := *j.pid
		info.PID = &pid
	}
	if j.completedAt != nil {
		t := *j.completedAt
		info.CompletedAt = &t
	}
	if j.exitCode != nil {
		code := *j.exitCode
		info.ExitCode = &code
	}
	if withPreview {
		preview := buffer.Head(j.stdout.String(), PreviewLimit)
		info.StdoutPreview = &preview
	}
	return info
}

// terminalAt reports the completion time if the job is terminal.
func (j *Job) terminalAt() (time.Time, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusRunning || j.completedAt == nil {
		return time.Time{}, false
	}
	return *j.completedAt, true
}

// Registry owns every background job for the lifetime of the service.
type Registry struct {
	cfg      Config
	term     Terminator
	events   Publisher
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	jobs    map[string]*Job
	counter uint64
}

// Option configures a Registry.
type Option func(*Registry)

// WithPublisher sends transition events to p.
func WithPublisher(p Publisher) Option {
	return func(r *Registry) { r.events = p }
}

// WithRecorder journals finalized jobs to rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

// WithClock overrides the registry's time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, term Terminator, opts ...Option) *Registry {
	if cfg.MaxStdout <= 0 {
		cfg.MaxStdout = buffer.DefaultMaxStdout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.WaitTimeout > cfg.MaxWait {
		cfg.WaitTimeout = cfg.MaxWait
	}
	r := &Registry{
		cfg:    cfg,
		term:   term,
		logger: log.WithComponent("jobs"),
		now:    time.Now,
		jobs:   make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FormatID renders the n-th job id: "job_" plus base-36, zero padded to 4.
func FormatID(n uint64) string {
	s := strconv.FormatUint(n, 36)
	if len(s) < 4 {
		s = strings.Repeat("0", 4-len(s)) + s
	}
	return "job_" + s
}

// Digest returns the hex BLAKE3 digest of a prompt.
func Digest(prompt string) string {
	sum := blake3.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Create registers a running job for proc and starts collecting its output.
// The registry takes ownership of proc.
func (r *Registry) Create(agent string, proc *spawner.Process, meta Meta) *Job {
	j := &Job{
		agent:   agent,
		prompt:  buffer.Head(meta.Prompt, PromptLimit),
		digest:  Digest(meta.Prompt),
		model:   meta.Model,
		started: r.now(),
		proc:    proc,
		stdout:  buffer.NewStdout(r.cfg.MaxStdout),
		stderr:  buffer.NewStderr(),
		done:    make(chan struct{}),
		status:  StatusRunning,
	}
	if pid, ok := proc.PID(); ok {
		j.pid = &pid
	}

	r.mu.Lock()
	r.counter++
	j.seq = r.counter
	j.id = FormatID(r.counter)
	r.jobs[j.id] = j
	r.mu.Unlock()

	log.WithJob(j.id).Info("job started", "agent", agent, "pid", j.pid, "model", meta.Model)
	r.publish(EventStarted, j.info(false))

	proc.Attach(j.stdout, j.stderr)
	proc.OnExit(func(exit spawner.Exit) { r.finish(j, exit) })
	return j
}

// finish runs once the process has exited and all output is buffered. A job
// already marked killed keeps that status; only exit details are filled in.
func (r *Registry) finish(j *Job, exit spawner.Exit) {
	now := r.now()

	j.mu.Lock()
	j.exitCode = exit.Code
	if exit.Err != nil {
		j.err = exit.Err.Error()
	}
	transitioned := false
	if j.status == StatusRunning {
		if exit.Err == nil && exit.Code != nil && *exit.Code == 0 {
			j.status = StatusCompleted
		} else {
			j.status = StatusFailed
		}
		j.completedAt = &now
		close(j.done)
		transitioned = true
	}
	status := j.status
	j.mu.Unlock()

	logger := log.WithJob(j.id)
	if exit.Err != nil {
		logger.Warn("job process error", "agent", j.agent, "error", exit.Err)
	}
	logger.Info("job finished", "agent", j.agent, "status", status, "exit_code", exit.Code)

	info := j.info(false)
	if transitioned {
		if status == StatusCompleted {
			r.publish(EventCompleted, info)
		} else {
			r.publish(EventFailed, info)
		}
	}
	r.record(info, j)
}

// Get returns a snapshot of the job with a stdout preview.
func (r *Registry) Get(id string) (Info, error) {
	j, ok := r.lookup(id)
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j.info(true), nil
}

// Wait blocks until the job is terminal, the timeout passes, or ctx ends. A
// timeout is not an error: the running snapshot is returned annotated, and
// the job keeps running. timeout <= 0 means the configured default; anything
// above MaxWait is capped.
func (r *Registry) Wait(ctx context.Context, id string, timeout time.Duration) (*WaitResult, error) {
	j, ok := r.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if timeout <= 0 {
		timeout = r.cfg.WaitTimeout
	}
	if timeout > r.cfg.MaxWait {
		timeout = r.cfg.MaxWait
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-j.done:
		return r.waitResult(j), nil
	default:
	}

	select {
	case <-j.done:
		return r.waitResult(j), nil
	case <-timer.C:
		res := r.waitResult(j)
		if res.Job.Status == StatusRunning {
			res.Job.Error = fmt.Sprintf("wait timeout after %dms (job still running)", timeout.Milliseconds())
			res.TimedOut = true
		}
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) waitResult(j *Job) *WaitResult {
	return &WaitResult{
		Job:    j.info(true),
		Stdout: j.stdout.String(),
		Stderr: j.stderr.String(),
	}
}

// Kill terminates a running job and marks it killed immediately. Killing a
// terminal job returns its snapshot unchanged.
func (r *Registry) Kill(id string) (Info, error) {
	j, ok := r.lookup(id)
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	j.mu.Lock()
	if j.status != StatusRunning {
		j.mu.Unlock()
		return j.info(true), nil
	}
	now := r.now()
	j.status = StatusKilled
	j.completedAt = &now
	close(j.done)
	j.mu.Unlock()

	if r.term != nil && j.proc != nil {
		r.term.Terminate(j.proc)
	}

	log.WithJob(j.id).Info("job killed", "agent", j.agent)
	info := j.info(true)
	r.publish(EventKilled, j.info(false))
	return info, nil
}

// List returns snapshots without previews, newest first.
func (r *Registry) List(filter Filter, limit int) []Info {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if filter == "" {
		filter = FilterAll
	}

	r.mu.RLock()
	snapshot := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		snapshot = append(snapshot, j)
	}
	r.mu.RUnlock()

	sort.Slice(snapshot, func(a, b int) bool {
		ja, jb := snapshot[a], snapshot[b]
		if !ja.started.Equal(jb.started) {
			return ja.started.After(jb.started)
		}
		return ja.seq > jb.seq
	})

	out := make([]Info, 0, limit)
	for _, j := range snapshot {
		info := j.info(false)
		if !filter.match(info.Status) {
			continue
		}
		out = append(out, info)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Len returns the number of jobs held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Sweep evicts terminal jobs whose completion is older than the retention
// period. It returns the evicted ids.
func (r *Registry) Sweep() []string {
	cutoff := r.now().Add(-r.cfg.Retention)

	r.mu.RLock()
	var expired []*Job
	for _, j := range r.jobs {
		if at, ok := j.terminalAt(); ok && at.Before(cutoff) {
			expired = append(expired, j)
		}
	}
	r.mu.RUnlock()

	if len(expired) == 0 {
		return nil
	}

	ids := make([]string, 0, len(expired))
	r.mu.Lock()
	for _, j := range expired {
		delete(r.jobs, j.id)
		ids = append(ids, j.id)
	}
	r.mu.Unlock()
	sort.Strings(ids)

	r.logger.Info("swept expired jobs", "count", len(ids))
	r.publish(EventSwept, map[string]any{"ids": ids})
	return ids
}

// Start runs the periodic sweep until ctx is done. It returns immediately.
func (r *Registry) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.logger.Debug("sweep stopped")
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

func (r *Registry) lookup(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	return j, ok
}

func (r *Registry) publish(eventType string, data any) {
	if r.events != nil {
		r.events.Publish(eventType, data)
	}
}

func (r *Registry) record(info Info, j *Job) {
	if r.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.recorder.Record(ctx, info, j.stdout.Len(), j.stderr.Len()); err != nil {
		log.WithJob(j.id).Warn("failed to record job history", "error", err)
	}
}
