package protocol

// Message type discriminators pushed to observers
const (
	TypeWorkerStatus        = "worker_status"
	TypeWorkerBatch         = "worker_batch"
	TypeBlockerNotification = "blocker_notification"
)

// WorkerState is the observer-facing status of a single task
type WorkerState string

const (
	WorkerQueued    WorkerState = "queued"
	WorkerRunning   WorkerState = "running"
	WorkerPROpened  WorkerState = "pr_opened"
	WorkerSucceeded WorkerState = "succeeded"
	WorkerFailed    WorkerState = "failed"
	WorkerRetrying  WorkerState = "retrying"
)

// WorkerStatusUpdate reports the progress of one task to observers
type WorkerStatusUpdate struct {
	Type        string      `json:"type"`
	TaskID      string      `json:"task_id"`
	TaskTitle   string      `json:"task_title"`
	ServiceName string      `json:"service_name"`
	WorkerID    string      `json:"worker_id"`
	Status      WorkerState `json:"status"`
	PRURL       string      `json:"pr_url,omitempty"`
	Error       string      `json:"error,omitempty"`
	Progress    float64     `json:"progress"`
}

// WorkerBatchUpdate aggregates counters across all services
type WorkerBatchUpdate struct {
	Type       string `json:"type"`
	TotalTasks int    `json:"total_tasks"`
	Queued     int    `json:"queued"`
	Running    int    `json:"running"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	Blocked    int    `json:"blocked"`
}

// BlockerNotification announces a new or resolved human-decision blocker
type BlockerNotification struct {
	Type        string `json:"type"`
	BlockerID   string `json:"blocker_id"`
	ServiceName string `json:"service_name"`
	Question    string `json:"question"`
	IssueURL    string `json:"linear_issue_url,omitempty"`
	Resolved    bool   `json:"resolved"`
}

// NewWorkerStatus builds a WorkerStatusUpdate with its type tag set
func NewWorkerStatus(taskID, title, service, workerID string, status WorkerState) WorkerStatusUpdate {
	return WorkerStatusUpdate{
		Type:        TypeWorkerStatus,
		TaskID:      taskID,
		TaskTitle:   title,
		ServiceName: service,
		WorkerID:    workerID,
		Status:      status,
	}
}

// NewWorkerBatch builds a WorkerBatchUpdate with its type tag set
func NewWorkerBatch(total, queued, running, succeeded, failed, blocked int) WorkerBatchUpdate {
	return WorkerBatchUpdate{
		Type:       TypeWorkerBatch,
		TotalTasks: total,
		Queued:     queued,
		Running:    running,
		Succeeded:  succeeded,
		Failed:     failed,
		Blocked:    blocked,
	}
}

// NewBlockerNotification builds a BlockerNotification with its type tag set
func NewBlockerNotification(blockerID, service, question, issueURL string, resolved bool) BlockerNotification {
	return BlockerNotification{
		Type:        TypeBlockerNotification,
		BlockerID:   blockerID,
		ServiceName: service,
		Question:    question,
		IssueURL:    issueURL,
		Resolved:    resolved,
	}
}
