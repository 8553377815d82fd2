package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/crewline/foreman/pkg/lead"
	"github.com/crewline/foreman/pkg/log"
	"github.com/crewline/foreman/pkg/metrics"
	"github.com/crewline/foreman/pkg/protocol"
	"github.com/crewline/foreman/pkg/state"
	"github.com/crewline/foreman/pkg/status"
	"github.com/crewline/foreman/pkg/types"
)

// ErrAlreadyStarted is returned by Add and Start after execution begins
var ErrAlreadyStarted = errors.New("orchestrator already started")

// Config assembles an Orchestrator
type Config struct {
	ProjectID string

	// MaxConcurrentLeads bounds how many leads run at once; leads
	// beyond it wait their turn. Values below 1 are treated as 1.
	MaxConcurrentLeads int

	Bus   status.Bus            // optional
	State *state.ExecutionState // optional
}

// ServiceStatus is a point-in-time view of one lead
type ServiceStatus struct {
	Name        string `json:"name"`
	TotalTasks  int    `json:"total_tasks"`
	Completed   int    `json:"completed"`
	CurrentTask string `json:"current_task,omitempty"`
	Paused      bool   `json:"paused"`
	Running     bool   `json:"running"`
	Cancelled   bool   `json:"cancelled"`
}

// ProjectStatus is a point-in-time view of the whole run
type ProjectStatus struct {
	ProjectID  string          `json:"project_id"`
	TotalTasks int             `json:"total_tasks"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Pending    int             `json:"pending"`
	Blocked    int             `json:"blocked"`
	Services   []ServiceStatus `json:"services"`
}

// Orchestrator supervises one Team Lead per service, admitting at most
// MaxConcurrentLeads into execution at a time. It implements
// lead.Events, turning lifecycle callbacks into observer messages.
type Orchestrator struct {
	cfg Config
	sem *semaphore.Weighted

	mu      sync.Mutex
	order   []string
	leads   map[string]*lead.TeamLead
	running map[string]bool
	results map[string][]types.TaskResult
	blocked int
	started bool
	fatal   error

	wg       sync.WaitGroup
	shutdown sync.Once
}

// New creates an orchestrator. Leads are attached with Add before Start.
func New(cfg Config) *Orchestrator {
	limit := cfg.MaxConcurrentLeads
	if limit < 1 {
		limit = 1
	}
	return &Orchestrator{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(limit)),
		leads:   make(map[string]*lead.TeamLead),
		running: make(map[string]bool),
		results: make(map[string][]types.TaskResult),
	}
}

// Add attaches a lead. Duplicate service names and post-Start adds are
// rejected.
func (o *Orchestrator) Add(l *lead.TeamLead) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return ErrAlreadyStarted
	}
	name := l.ServiceName()
	if _, exists := o.leads[name]; exists {
		return fmt.Errorf("duplicate service %q", name)
	}
	o.leads[name] = l
	o.order = append(o.order, name)
	return nil
}

// Start launches every attached lead. Each one waits for an admission
// slot, so at most MaxConcurrentLeads execute concurrently.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	order := append([]string(nil), o.order...)
	o.mu.Unlock()

	logger := log.WithProject(o.cfg.ProjectID)
	logger.Info().
		Int("services", len(order)).
		Int("max_concurrent", o.cfg.MaxConcurrentLeads).
		Msg("starting execution")

	for _, name := range order {
		o.mu.Lock()
		l := o.leads[name]
		o.mu.Unlock()

		o.wg.Add(1)
		go o.runLead(ctx, l)
	}
	o.publishBatch()
	return nil
}

// Wait blocks until every lead finishes and returns the first fatal
// error, if any. Task and stage failures are not fatal; only a failed
// checkpoint flush is.
func (o *Orchestrator) Wait() error {
	o.wg.Wait()
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fatal
}

// Run is Start followed by Wait
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}
	return o.Wait()
}

// runLead executes one lead under the admission semaphore. A panic in a
// lead is contained here: the engine keeps running the other services.
func (o *Orchestrator) runLead(ctx context.Context, l *lead.TeamLead) {
	defer o.wg.Done()

	logger := log.WithService(l.ServiceName())

	if err := o.sem.Acquire(ctx, 1); err != nil {
		logger.Warn().Err(err).Msg("lead never admitted, context ended")
		return
	}
	defer o.sem.Release(1)

	o.setRunning(l.ServiceName(), true)
	metrics.LeadsRunning.Inc()
	o.publishBatch()
	defer func() {
		o.setRunning(l.ServiceName(), false)
		metrics.LeadsRunning.Dec()

		if r := recover(); r != nil {
			metrics.LeadCrashes.Inc()
			logger.Error().
				Interface("panic", r).
				Msg("team lead crashed, containing")
			o.failRemaining(l)
		}
	}()

	results, err := l.Run(ctx)

	o.mu.Lock()
	o.results[l.ServiceName()] = results
	o.mu.Unlock()

	if err != nil {
		if errors.Is(err, lead.ErrCheckpoint) {
			logger.Error().Err(err).Msg("checkpoint failure, shutting down engine")
			o.mu.Lock()
			if o.fatal == nil {
				o.fatal = err
			}
			o.mu.Unlock()
			o.Shutdown()
			return
		}
		logger.Error().Err(err).Msg("team lead finished with error")
	}
	logger.Info().Int("tasks", len(results)).Msg("team lead finished")
}

// failRemaining accounts a crashed lead's unfinished tasks as failed so
// counters and observers stay consistent with what will never run. The
// service keeps its entry in Results.
func (o *Orchestrator) failRemaining(l *lead.TeamLead) {
	name := l.ServiceName()
	logger := log.WithService(name)

	o.mu.Lock()
	if _, ok := o.results[name]; !ok {
		o.results[name] = nil
	}
	o.mu.Unlock()

	if o.cfg.State != nil {
		for _, t := range l.Tasks() {
			if rec, ok := o.cfg.State.Task(t.ID); ok &&
				(rec.Status == types.TaskStatusSucceeded || rec.Status == types.TaskStatusFailed) {
				continue
			}
			if err := o.cfg.State.CheckpointTaskCompleted(t.ID, false, "", "team lead crashed", nil); err != nil {
				logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to record crashed task")
			}
		}
	}
	o.publishBatch()
}

// Shutdown cancels every lead. Running stages are not killed; the loop
// exits at the next wake-up. Safe to call more than once.
func (o *Orchestrator) Shutdown() {
	o.shutdown.Do(func() {
		logger := log.WithProject(o.cfg.ProjectID)
		logger.Info().Msg("shutting down leads")
		o.mu.Lock()
		leads := make([]*lead.TeamLead, 0, len(o.leads))
		for _, l := range o.leads {
			leads = append(leads, l)
		}
		o.mu.Unlock()
		for _, l := range leads {
			l.Cancel()
		}
	})
}

// PauseAll closes every lead's gate
func (o *Orchestrator) PauseAll() {
	o.eachLead(func(l *lead.TeamLead) { l.Pause() })
	logger := log.WithProject(o.cfg.ProjectID)
	logger.Info().Msg("all services paused")
}

// ResumeAll reopens every lead's gate
func (o *Orchestrator) ResumeAll() {
	o.eachLead(func(l *lead.TeamLead) { l.Resume() })
	logger := log.WithProject(o.cfg.ProjectID)
	logger.Info().Msg("all services resumed")
}

// PauseService pauses one lead; false when the service is unknown
func (o *Orchestrator) PauseService(name string) bool {
	l, ok := o.leadByName(name)
	if !ok {
		return false
	}
	l.Pause()
	return true
}

// ResumeService resumes one lead; false when the service is unknown
func (o *Orchestrator) ResumeService(name string) bool {
	l, ok := o.leadByName(name)
	if !ok {
		return false
	}
	l.Resume()
	return true
}

// Status returns a snapshot of the run
func (o *Orchestrator) Status() ProjectStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	ps := ProjectStatus{
		ProjectID: o.cfg.ProjectID,
		Blocked:   o.blocked,
	}
	for _, name := range o.order {
		l := o.leads[name]
		ps.Services = append(ps.Services, ServiceStatus{
			Name:        name,
			TotalTasks:  l.TaskCount(),
			Completed:   l.CompletedCount(),
			CurrentTask: l.CurrentTask(),
			Paused:      l.IsPaused(),
			Running:     o.running[name],
			Cancelled:   l.IsCancelled(),
		})
	}

	if o.cfg.State != nil {
		ps.TotalTasks, ps.Succeeded, ps.Failed, ps.Pending = o.cfg.State.Counters()
		return ps
	}
	for _, svc := range ps.Services {
		ps.TotalTasks += svc.TotalTasks
	}
	return ps
}

// Results returns each service's task results collected so far
func (o *Orchestrator) Results() map[string][]types.TaskResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string][]types.TaskResult, len(o.results))
	for name, rs := range o.results {
		out[name] = append([]types.TaskResult(nil), rs...)
	}
	return out
}

// lead.Events implementation

// TaskStarted implements lead.Events
func (o *Orchestrator) TaskStarted(service string, task types.TaskSpec) {
	o.send(protocol.NewWorkerStatus(task.ID, task.Title, service, service, protocol.WorkerRunning))
	o.publishBatch()
}

// TaskRetrying implements lead.Events
func (o *Orchestrator) TaskRetrying(service string, task types.TaskSpec, attempt int) {
	o.send(protocol.NewWorkerStatus(task.ID, task.Title, service, service, protocol.WorkerRetrying))
}

// TaskFinished implements lead.Events
func (o *Orchestrator) TaskFinished(service string, result types.TaskResult) {
	st := protocol.WorkerFailed
	if result.Success {
		st = protocol.WorkerSucceeded
	}
	update := protocol.NewWorkerStatus(result.TaskID, result.TaskTitle, service, service, st)
	update.PRURL = result.PRURL
	update.Error = result.Error
	if l, ok := o.leadByName(service); ok && l.TaskCount() > 0 {
		update.Progress = float64(l.CompletedCount()) / float64(l.TaskCount())
	}
	o.send(update)
	o.publishBatch()
}

// TaskBlocked implements lead.Events
func (o *Orchestrator) TaskBlocked(service string) {
	o.mu.Lock()
	o.blocked++
	o.mu.Unlock()
	o.publishBatch()
}

// TaskUnblocked implements lead.Events
func (o *Orchestrator) TaskUnblocked(service string) {
	o.mu.Lock()
	if o.blocked > 0 {
		o.blocked--
	}
	o.mu.Unlock()
	o.publishBatch()
}

func (o *Orchestrator) publishBatch() {
	if o.cfg.Bus == nil {
		return
	}

	o.mu.Lock()
	blocked := o.blocked
	running := 0
	for _, r := range o.running {
		if r {
			running++
		}
	}
	o.mu.Unlock()

	total, succeeded, failed, pending := 0, 0, 0, 0
	if o.cfg.State != nil {
		total, succeeded, failed, pending = o.cfg.State.Counters()
	}
	queued := pending - running - blocked
	if queued < 0 {
		queued = 0
	}
	o.cfg.Bus.Send(o.cfg.ProjectID, protocol.NewWorkerBatch(total, queued, running, succeeded, failed, blocked))
}

func (o *Orchestrator) send(msg any) {
	if o.cfg.Bus != nil {
		o.cfg.Bus.Send(o.cfg.ProjectID, msg)
	}
}

func (o *Orchestrator) setRunning(service string, running bool) {
	o.mu.Lock()
	o.running[service] = running
	o.mu.Unlock()
}

func (o *Orchestrator) leadByName(name string) (*lead.TeamLead, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.leads[name]
	return l, ok
}

func (o *Orchestrator) eachLead(fn func(*lead.TeamLead)) {
	o.mu.Lock()
	leads := make([]*lead.TeamLead, 0, len(o.leads))
	for _, name := range o.order {
		leads = append(leads, o.leads[name])
	}
	o.mu.Unlock()
	for _, l := range leads {
		fn(l)
	}
}

// RemainingWork filters a task manifest down to the tasks a recovered
// execution state still owes, preserving manifest order. Services with
// nothing left are dropped.
func RemainingWork(es *state.ExecutionState, services []types.ServiceSpec) []types.ServiceSpec {
	var out []types.ServiceSpec
	for _, svc := range services {
		pending := es.PendingTaskIDs(svc.Name)
		if len(pending) == 0 {
			continue
		}
		keep := make(map[string]bool, len(pending))
		for _, id := range pending {
			keep[id] = true
		}
		filtered := types.ServiceSpec{Name: svc.Name}
		for _, t := range svc.Tasks {
			if keep[t.ID] {
				filtered.Tasks = append(filtered.Tasks, t)
			}
		}
		if len(filtered.Tasks) > 0 {
			out = append(out, filtered)
		}
	}
	return out
}
