package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/foreman/pkg/ticket"
	"github.com/crewline/foreman/pkg/types"
)

// fakeTicketer serves canned comments per issue id
type fakeTicketer struct {
	comments map[string][]ticket.Comment
	err      error
}

func (f *fakeTicketer) CreateIssue(ctx context.Context, in ticket.IssueInput) (ticket.Issue, error) {
	return ticket.Issue{}, nil
}

func (f *fakeTicketer) GetIssueComments(ctx context.Context, issueID string) ([]ticket.Comment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.comments[issueID], nil
}

func (f *fakeTicketer) AddComment(ctx context.Context, issueID, body string) (ticket.Comment, error) {
	return ticket.Comment{}, nil
}

func TestRecoverRequeuesInterruptedTasks(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "proj-1", testServices())
	require.NoError(t, s.CheckpointTaskCompleted("t1", true, "", "", nil))
	s.CheckpointTaskStarted("t2")
	require.NoError(t, s.Save())

	recovered, err := Recover(context.Background(), dir, "proj-1", nil)
	require.NoError(t, err)

	task, ok := recovered.Task("t2")
	require.True(t, ok)
	assert.Equal(t, types.TaskStatusPending, task.Status)
	assert.Empty(t, task.StartedAt)
	// Prior attempts stay on the record across restarts
	assert.Equal(t, 1, task.Attempts)
	assert.Empty(t, recovered.Services["auth"].CurrentTaskID)

	// Finished work is untouched
	task, _ = recovered.Task("t1")
	assert.Equal(t, types.TaskStatusSucceeded, task.Status)

	assert.Equal(t, []string{"t2"}, recovered.PendingTaskIDs("auth"))
}

func TestRecoverReconcilesBlockersFromComments(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "proj-1", testServices())
	require.NoError(t, s.CheckpointBlockerCreated(types.BlockerRecord{
		BlockerID:   "b1",
		ServiceName: "auth",
		Question:    "Which OAuth provider?",
		IssueID:     "iss-1",
	}))

	tk := &fakeTicketer{comments: map[string][]ticket.Comment{
		"iss-1": {
			{ID: "c1", Body: "Maybe GitHub?"},
			{ID: "c2", Body: "Use Google"},
		},
	}}

	recovered, err := Recover(context.Background(), dir, "proj-1", tk)
	require.NoError(t, err)

	// The latest comment wins as the answer
	b, ok := recovered.Blocker("b1")
	require.True(t, ok)
	assert.True(t, b.Resolved)
	assert.Equal(t, "Use Google", b.Answer)

	// The resolution was flushed
	loaded, err := Load(dir, "proj-1")
	require.NoError(t, err)
	b, _ = loaded.Blocker("b1")
	assert.True(t, b.Resolved)
}

func TestRecoverBlockerWithoutCommentsStaysOpen(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "proj-1", testServices())
	require.NoError(t, s.CheckpointBlockerCreated(types.BlockerRecord{
		BlockerID: "b1",
		Question:  "Still waiting",
		IssueID:   "iss-1",
	}))

	recovered, err := Recover(context.Background(), dir, "proj-1", &fakeTicketer{})
	require.NoError(t, err)

	b, _ := recovered.Blocker("b1")
	assert.False(t, b.Resolved)
}

func TestRecoverTicketLookupFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "proj-1", testServices())
	require.NoError(t, s.CheckpointBlockerCreated(types.BlockerRecord{
		BlockerID: "b1",
		Question:  "q",
		IssueID:   "iss-1",
	}))

	tk := &fakeTicketer{err: errors.New("linear is down")}
	recovered, err := Recover(context.Background(), dir, "proj-1", tk)
	require.NoError(t, err)

	b, _ := recovered.Blocker("b1")
	assert.False(t, b.Resolved)
}

func TestRecoverBlockerWithoutIssueSkipped(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "proj-1", testServices())
	require.NoError(t, s.CheckpointBlockerCreated(types.BlockerRecord{
		BlockerID: "b1",
		Question:  "q",
	}))

	tk := &fakeTicketer{comments: map[string][]ticket.Comment{
		"": {{Body: "should never be read"}},
	}}
	recovered, err := Recover(context.Background(), dir, "proj-1", tk)
	require.NoError(t, err)

	b, _ := recovered.Blocker("b1")
	assert.False(t, b.Resolved)
}

func TestRecoverMissingCheckpoint(t *testing.T) {
	_, err := Recover(context.Background(), t.TempDir(), "nope", nil)
	assert.Error(t, err)
}
