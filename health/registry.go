// Package health tracks in-flight background work and derives the coarse
// liveness signal served by the runtime's ping route.
package health

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the value reported by the ping route.
type Status string

const (
	Healthy     Status = "Healthy"
	HealthyBusy Status = "HealthyBusy"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool { return s == Healthy || s == HealthyBusy }

// ErrStatusPending may be returned by a StatusFunc whose answer is not known
// yet. The registry reports Healthy rather than waiting for it.
var ErrStatusPending = errors.New("health: status pending")

// StatusFunc computes a custom status. A returned error other than
// ErrStatusPending makes the registry fall back to the automatic status.
type StatusFunc func() (Status, error)

// TaskHandle describes one registered unit of in-flight work.
type TaskHandle struct {
	ID        int64
	Name      string
	StartTime time.Time
	Metadata  map[string]any
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger used to report swallowed status callback failures.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// WithStatusFunc installs a custom status callback at construction time.
func WithStatusFunc(fn StatusFunc) Option {
	return func(r *Registry) { r.custom = fn }
}

// Registry counts in-flight work and computes the health status. It is safe
// for concurrent use.
type Registry struct {
	now func() time.Time
	log *slog.Logger

	nextID atomic.Int64

	mu         sync.Mutex
	tasks      map[int64]*TaskHandle
	forced     *Status
	custom     StatusFunc
	lastAuto   Status
	lastUpdate time.Time
}

// NewRegistry returns an empty registry reporting Healthy.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		now:   time.Now,
		log:   slog.New(slog.DiscardHandler),
		tasks: make(map[int64]*TaskHandle),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.lastAuto = Healthy
	r.lastUpdate = r.now()
	return r
}

// AddTask registers a unit of work and returns its id. Ids are never reused.
func (r *Registry) AddTask(name string, metadata map[string]any) int64 {
	id := r.nextID.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[id] = &TaskHandle{ID: id, Name: name, StartTime: r.now(), Metadata: metadata}
	r.observeLocked()
	return id
}

// CompleteTask removes a task and reports whether it was registered.
// Completing an unknown or already completed id is a no-op.
func (r *Registry) CompleteTask(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return false
	}
	delete(r.tasks, id)
	r.observeLocked()
	return true
}

// Len returns the number of in-flight tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Task returns a copy of the handle registered under id.
func (r *Registry) Task(id int64) (TaskHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return TaskHandle{}, false
	}
	return *t, true
}

// ForceStatus pins the reported status until ClearForcedStatus is called.
func (r *Registry) ForceStatus(s Status) error {
	if !s.Valid() {
		return fmt.Errorf("health: invalid status %q", s)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forced = &s
	return nil
}

// ClearForcedStatus removes a status set with ForceStatus.
func (r *Registry) ClearForcedStatus() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forced = nil
}

// Forced returns the pinned status, if any.
func (r *Registry) Forced() (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.forced == nil {
		return "", false
	}
	return *r.forced, true
}

// SetStatusFunc installs or (with nil) removes the custom status callback.
func (r *Registry) SetStatusFunc(fn StatusFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom = fn
}

// Status evaluates the providers in priority order: forced, custom callback,
// automatic. The first one that produces an answer wins.
func (r *Registry) Status() Status {
	r.mu.Lock()
	forced, custom, auto := r.forced, r.custom, r.lastAuto
	r.mu.Unlock()

	if forced != nil {
		return *forced
	}
	if custom != nil {
		if s, ok := r.callCustom(custom); ok {
			return s
		}
	}
	return auto
}

// callCustom runs the callback outside the lock so a slow or re-entrant
// callback cannot block task bookkeeping.
func (r *Registry) callCustom(fn StatusFunc) (s Status, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Warn("health.status_func.panic", slog.Any("panic", p))
			s, ok = "", false
		}
	}()
	s, err := fn()
	if errors.Is(err, ErrStatusPending) {
		return Healthy, true
	}
	if err != nil {
		r.log.Warn("health.status_func.fail", slog.String("err", err.Error()))
		return "", false
	}
	if !s.Valid() {
		r.log.Warn("health.status_func.invalid", slog.String("status", string(s)))
		return "", false
	}
	return s, true
}

// LastStatusUpdate returns the time the automatic status last changed.
func (r *Registry) LastStatusUpdate() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUpdate
}

func (r *Registry) observeLocked() {
	auto := Healthy
	if len(r.tasks) > 0 {
		auto = HealthyBusy
	}
	if auto != r.lastAuto {
		r.lastAuto = auto
		r.lastUpdate = r.now()
	}
}

// JobInfo is a running task as reported by Info.
type JobInfo struct {
	Name string `json:"name"`
	// Duration is the elapsed time in seconds.
	Duration float64 `json:"duration"`
}

// TaskInfo summarizes in-flight work.
type TaskInfo struct {
	ActiveCount int       `json:"active_count"`
	RunningJobs []JobInfo `json:"running_jobs"`
}

// Info returns a snapshot of in-flight tasks ordered by registration.
func (r *Registry) Info() TaskInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	handles := make([]*TaskHandle, 0, len(r.tasks))
	for _, t := range r.tasks {
		handles = append(handles, t)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].ID < handles[j].ID })

	info := TaskInfo{ActiveCount: len(handles), RunningJobs: make([]JobInfo, 0, len(handles))}
	for _, t := range handles {
		info.RunningJobs = append(info.RunningJobs, JobInfo{
			Name:     t.Name,
			Duration: now.Sub(t.StartTime).Round(time.Millisecond).Seconds(),
		})
	}
	return info
}
