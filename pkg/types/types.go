package types

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusSucceeded  TaskStatus = "succeeded"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// Stage identifies one of the three sub-agent stages of a task pipeline
type Stage string

const (
	StageCodeWriter Stage = "code_writer"
	StageUnitTester Stage = "unit_tester"
	StageQATester   Stage = "qa_tester"
)

// StageRecord is the persisted outcome of a single sub-agent stage.
// Output is truncated to RecordOutputLimit before it reaches disk.
type StageRecord struct {
	Stage   Stage  `json:"agent_type"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RecordOutputLimit caps stage output persisted in the checkpoint file
const RecordOutputLimit = 2000

// TaskRecord is the durable record of a task in the execution state
type TaskRecord struct {
	TaskID      string        `json:"task_id"`
	Title       string        `json:"title"`
	ServiceName string        `json:"service_name"`
	Status      TaskStatus    `json:"status"`
	PRURL       string        `json:"pr_url,omitempty"`
	Error       string        `json:"error,omitempty"`
	Stages      []StageRecord `json:"sub_agent_results,omitempty"`
	Attempts    int           `json:"attempts"`
	StartedAt   string        `json:"started_at,omitempty"`
	CompletedAt string        `json:"completed_at,omitempty"`
}

// ServiceRecord tracks per-service execution order and progress.
// CompletedTaskIDs is an append-only prefix-subset of TaskIDs.
type ServiceRecord struct {
	ServiceName      string   `json:"service_name"`
	TaskIDs          []string `json:"task_ids"`
	CompletedTaskIDs []string `json:"completed_task_ids"`
	CurrentTaskID    string   `json:"current_task_id,omitempty"`
	Paused           bool     `json:"paused,omitempty"`
}

// BlockerRecord is the durable record of a human-decision wait-point
type BlockerRecord struct {
	BlockerID   string `json:"blocker_id"`
	ServiceName string `json:"service_name"`
	Question    string `json:"question"`
	IssueID     string `json:"linear_issue_id,omitempty"`
	IssueURL    string `json:"linear_issue_url,omitempty"`
	Resolved    bool   `json:"resolved"`
	Answer      string `json:"answer,omitempty"`
}

// TaskSpec is the loader-facing definition of a unit of work.
// It is immutable once execution starts; progress lives in TaskRecord.
type TaskSpec struct {
	ID           string   `json:"id" yaml:"id"`
	Title        string   `json:"title" yaml:"title"`
	Description  string   `json:"description" yaml:"description"`
	TestCommands []string `json:"test_commands,omitempty" yaml:"test_commands,omitempty"`
}

// ServiceSpec groups the ordered tasks of one service in a task manifest
type ServiceSpec struct {
	Name  string     `json:"name" yaml:"name"`
	Tasks []TaskSpec `json:"tasks" yaml:"tasks"`
}

// TaskResult is the in-memory outcome a Team Lead produces per task
type TaskResult struct {
	TaskID     string
	TaskTitle  string
	Success    bool
	CodeWriter *StageResult
	UnitTester *StageResult
	QATester   *StageResult
	PRURL      string
	Error      string
}

// StageResult is the boundary-truncated outcome of one stage invocation
type StageResult struct {
	Success bool
	Output  string
	Error   string
}

// StageRecords converts the attached stage results into persistable
// records, applying the RecordOutputLimit truncation.
func (r *TaskResult) StageRecords() []StageRecord {
	var out []StageRecord
	add := func(stage Stage, sr *StageResult) {
		if sr == nil {
			return
		}
		out = append(out, StageRecord{
			Stage:   stage,
			Success: sr.Success,
			Output:  Truncate(sr.Output, RecordOutputLimit),
			Error:   Truncate(sr.Error, RecordOutputLimit),
		})
	}
	add(StageCodeWriter, r.CodeWriter)
	add(StageUnitTester, r.UnitTester)
	add(StageQATester, r.QATester)
	return out
}

// Truncate clips s to at most limit bytes
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit]
}
