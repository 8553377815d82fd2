package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crewline/foreman/pkg/metrics"
	"github.com/crewline/foreman/pkg/types"
)

// CheckpointFile is the name of the per-project checkpoint document
const CheckpointFile = "execution.json"

// ExecutionState is the single on-disk record of everything that
// happened and everything still to do for one project. All mutation
// goes through the checkpoint methods, which serialize changes to disk
// before returning. The struct is safe for concurrent use.
type ExecutionState struct {
	mu  sync.Mutex
	dir string // projects root; checkpoint lives at dir/<project>/execution.json

	ProjectID string                          `json:"project_id"`
	StartedAt string                          `json:"started_at"`
	UpdatedAt string                          `json:"updated_at"`
	Tasks     map[string]*types.TaskRecord    `json:"tasks"`
	Services  map[string]*types.ServiceRecord `json:"services"`
	Blockers  map[string]*types.BlockerRecord `json:"blockers"`

	// Derived counters, recomputed from Tasks and never trusted from disk
	TotalTasks int `json:"total_tasks"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Pending    int `json:"pending"`
}

// New builds a fresh execution state from a task manifest. Every task
// starts pending; nothing is written until the first checkpoint.
func New(projectsDir, projectID string, services []types.ServiceSpec) *ExecutionState {
	s := &ExecutionState{
		dir:       projectsDir,
		ProjectID: projectID,
		StartedAt: now(),
		Tasks:     make(map[string]*types.TaskRecord),
		Services:  make(map[string]*types.ServiceRecord),
		Blockers:  make(map[string]*types.BlockerRecord),
	}
	for _, svc := range services {
		rec := &types.ServiceRecord{ServiceName: svc.Name}
		for _, t := range svc.Tasks {
			rec.TaskIDs = append(rec.TaskIDs, t.ID)
			s.Tasks[t.ID] = &types.TaskRecord{
				TaskID:      t.ID,
				Title:       t.Title,
				ServiceName: svc.Name,
				Status:      types.TaskStatusPending,
			}
		}
		s.Services[svc.Name] = rec
	}
	s.recount()
	return s
}

// Path returns the checkpoint file location for a project
func Path(projectsDir, projectID string) string {
	return filepath.Join(projectsDir, projectID, CheckpointFile)
}

// Exists reports whether a checkpoint is present for the project
func Exists(projectsDir, projectID string) bool {
	_, err := os.Stat(Path(projectsDir, projectID))
	return err == nil
}

// Load reads a checkpoint from disk. Counters are recomputed, unknown
// fields are ignored, and a corrupt document is a loud error: the
// engine must never silently truncate prior work.
func Load(projectsDir, projectID string) (*ExecutionState, error) {
	data, err := os.ReadFile(Path(projectsDir, projectID))
	if err != nil {
		return nil, fmt.Errorf("failed to read execution state: %w", err)
	}

	s := &ExecutionState{dir: projectsDir}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse execution state for project %s: %w", projectID, err)
	}
	if s.Tasks == nil {
		s.Tasks = make(map[string]*types.TaskRecord)
	}
	if s.Services == nil {
		s.Services = make(map[string]*types.ServiceRecord)
	}
	if s.Blockers == nil {
		s.Blockers = make(map[string]*types.BlockerRecord)
	}
	s.recount()
	return s, nil
}

// Save flushes the state to disk atomically
func (s *ExecutionState) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *ExecutionState) saveLocked() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.CheckpointDuration)
		metrics.CheckpointWrites.Inc()
	}()

	s.UpdatedAt = now()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode execution state: %w", err)
	}
	if err := WriteFileAtomic(Path(s.dir, s.ProjectID), data); err != nil {
		return fmt.Errorf("failed to checkpoint project %s: %w", s.ProjectID, err)
	}
	return nil
}

// CheckpointTaskStarted marks a task in-progress. In-memory only: the
// durable record is written at completion; an interrupted start is
// rediscovered by recovery.
func (s *ExecutionState) CheckpointTaskStarted(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.Tasks[taskID]
	if !ok {
		return
	}
	task.Status = types.TaskStatusInProgress
	task.StartedAt = now()
	task.Attempts++
	if svc, ok := s.Services[task.ServiceName]; ok {
		svc.CurrentTaskID = taskID
	}
	s.recount()
}

// CheckpointTaskCompleted marks a task succeeded or failed and flushes
func (s *ExecutionState) CheckpointTaskCompleted(taskID string, success bool, prURL, errText string, stages []types.StageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.Tasks[taskID]
	if !ok {
		return fmt.Errorf("unknown task %s", taskID)
	}
	if success {
		task.Status = types.TaskStatusSucceeded
	} else {
		task.Status = types.TaskStatusFailed
	}
	task.CompletedAt = now()
	task.PRURL = prURL
	task.Error = errText
	if len(stages) > 0 {
		task.Stages = stages
	}

	if svc, ok := s.Services[task.ServiceName]; ok {
		if success && !contains(svc.CompletedTaskIDs, taskID) {
			svc.CompletedTaskIDs = append(svc.CompletedTaskIDs, taskID)
		}
		svc.CurrentTaskID = ""
	}

	s.recount()
	return s.saveLocked()
}

// SetTaskBlocked toggles a task between blocked and in-progress while
// it waits on a human decision. In-memory only, like task start.
func (s *ExecutionState) SetTaskBlocked(taskID string, blocked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.Tasks[taskID]
	if !ok {
		return
	}
	if blocked {
		task.Status = types.TaskStatusBlocked
	} else {
		task.Status = types.TaskStatusInProgress
	}
	s.recount()
}

// CheckpointBlockerCreated records a new blocker and flushes
func (s *ExecutionState) CheckpointBlockerCreated(rec types.BlockerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := rec
	s.Blockers[rec.BlockerID] = &cp
	return s.saveLocked()
}

// CheckpointBlockerResolved marks a blocker resolved and flushes
func (s *ExecutionState) CheckpointBlockerResolved(blockerID, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocker, ok := s.Blockers[blockerID]
	if !ok {
		return fmt.Errorf("unknown blocker %s", blockerID)
	}
	blocker.Resolved = true
	blocker.Answer = answer
	return s.saveLocked()
}

// PendingTaskIDs returns the ordered subsequence of a service's task
// list whose tasks are still pending or blocked
func (s *ExecutionState) PendingTaskIDs(serviceName string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.Services[serviceName]
	if !ok {
		return nil
	}
	var out []string
	for _, tid := range svc.TaskIDs {
		task, ok := s.Tasks[tid]
		if !ok {
			continue
		}
		if task.Status == types.TaskStatusPending || task.Status == types.TaskStatusBlocked {
			out = append(out, tid)
		}
	}
	return out
}

// TasksNeedingRequeue returns tasks that were in-progress when the
// process died. Only meaningful during recovery.
func (s *ExecutionState) TasksNeedingRequeue() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for tid, task := range s.Tasks {
		if task.Status == types.TaskStatusInProgress {
			out = append(out, tid)
		}
	}
	return out
}

// Task returns a copy of a task record
func (s *ExecutionState) Task(taskID string) (types.TaskRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.Tasks[taskID]
	if !ok {
		return types.TaskRecord{}, false
	}
	return *task, true
}

// Blocker returns a copy of a blocker record
func (s *ExecutionState) Blocker(blockerID string) (types.BlockerRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.Blockers[blockerID]
	if !ok {
		return types.BlockerRecord{}, false
	}
	return *b, true
}

// UnresolvedBlockers returns copies of all blockers awaiting an answer
func (s *ExecutionState) UnresolvedBlockers() []types.BlockerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.BlockerRecord
	for _, b := range s.Blockers {
		if !b.Resolved {
			out = append(out, *b)
		}
	}
	return out
}

// ServiceNames returns all service names in the state
func (s *ExecutionState) ServiceNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.Services))
	for name := range s.Services {
		names = append(names, name)
	}
	return names
}

// Counters returns the derived counters (total, succeeded, failed, pending)
func (s *ExecutionState) Counters() (total, succeeded, failed, pending int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TotalTasks, s.Succeeded, s.Failed, s.Pending
}

// Snapshot is a point-in-time summary of execution progress
type Snapshot struct {
	ProjectID    string `json:"project_id"`
	TotalTasks   int    `json:"total_tasks"`
	Succeeded    int    `json:"succeeded"`
	Failed       int    `json:"failed"`
	Pending      int    `json:"pending"`
	OpenBlockers int    `json:"open_blockers"`
	UpdatedAt    string `json:"updated_at"`
}

// Snapshot returns a consistent summary of the state
func (s *ExecutionState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := 0
	for _, b := range s.Blockers {
		if !b.Resolved {
			open++
		}
	}
	return Snapshot{
		ProjectID:    s.ProjectID,
		TotalTasks:   s.TotalTasks,
		Succeeded:    s.Succeeded,
		Failed:       s.Failed,
		Pending:      s.Pending,
		OpenBlockers: open,
		UpdatedAt:    s.UpdatedAt,
	}
}

// recount recomputes summary counters from task statuses.
// Callers must hold s.mu.
func (s *ExecutionState) recount() {
	succeeded, failed, pending := 0, 0, 0
	for _, t := range s.Tasks {
		switch t.Status {
		case types.TaskStatusSucceeded:
			succeeded++
		case types.TaskStatusFailed:
			failed++
		default:
			// pending, in_progress and blocked all count as outstanding
			pending++
		}
	}
	s.Succeeded = succeeded
	s.Failed = failed
	s.Pending = pending
	s.TotalTasks = len(s.Tasks)

	metrics.TasksTotal.WithLabelValues(string(types.TaskStatusSucceeded)).Set(float64(succeeded))
	metrics.TasksTotal.WithLabelValues(string(types.TaskStatusFailed)).Set(float64(failed))
	metrics.TasksTotal.WithLabelValues(string(types.TaskStatusPending)).Set(float64(pending))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
