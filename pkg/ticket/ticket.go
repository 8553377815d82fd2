package ticket

import "context"

// Priority levels as Linear defines them
const (
	PriorityNone   = 0
	PriorityUrgent = 1
	PriorityHigh   = 2
	PriorityMedium = 3
	PriorityLow    = 4
)

// Issue is a ticket in the external tracker
type Issue struct {
	ID         string
	Identifier string
	Title      string
	URL        string
	Priority   int
}

// Comment is a reply on an issue
type Comment struct {
	ID        string
	Body      string
	UserID    string
	CreatedAt string
}

// IssueInput carries the fields needed to open an issue
type IssueInput struct {
	Title       string
	Description string
	TeamID      string
	Priority    int
}

// Ticketer is the narrow capability set the engine consumes from the
// ticket system. The blocker registry opens an issue per blocker and
// recovery polls comments to pick up answers that arrived while the
// server was down.
type Ticketer interface {
	CreateIssue(ctx context.Context, in IssueInput) (Issue, error)
	GetIssueComments(ctx context.Context, issueID string) ([]Comment, error)
	AddComment(ctx context.Context, issueID, body string) (Comment, error)
}
