package blocker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/foreman/pkg/state"
	"github.com/crewline/foreman/pkg/status"
	"github.com/crewline/foreman/pkg/ticket"
	"github.com/crewline/foreman/pkg/types"
)

// fakeTicketer records created issues and can be made to fail
type fakeTicketer struct {
	mu      sync.Mutex
	created []ticket.IssueInput
	fail    bool
}

func (f *fakeTicketer) CreateIssue(ctx context.Context, in ticket.IssueInput) (ticket.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return ticket.Issue{}, errors.New("linear is down")
	}
	f.created = append(f.created, in)
	return ticket.Issue{
		ID:         "iss-1",
		Identifier: "ENG-42",
		URL:        "https://linear.app/team/issue/ENG-42",
	}, nil
}

func (f *fakeTicketer) GetIssueComments(ctx context.Context, issueID string) ([]ticket.Comment, error) {
	return nil, nil
}

func (f *fakeTicketer) AddComment(ctx context.Context, issueID, body string) (ticket.Comment, error) {
	return ticket.Comment{}, nil
}

func newTestState(t *testing.T) *state.ExecutionState {
	t.Helper()
	return state.New(t.TempDir(), "proj-1", []types.ServiceSpec{
		{Name: "auth", Tasks: []types.TaskSpec{{ID: "t1", Title: "Login"}}},
	})
}

func TestCreateOpensUrgentTicket(t *testing.T) {
	tk := &fakeTicketer{}
	r := NewRegistry(tk, "team-1", nil)

	b, err := r.Create(context.Background(), "proj-1", "auth", "Which OAuth provider?", nil)
	require.NoError(t, err)

	assert.Equal(t, "iss-1", b.IssueID)
	assert.Equal(t, "https://linear.app/team/issue/ENG-42", b.IssueURL)

	require.Len(t, tk.created, 1)
	assert.Equal(t, ticket.PriorityUrgent, tk.created[0].Priority)
	assert.Contains(t, tk.created[0].Title, "[auth] BLOCKER:")
	assert.Contains(t, tk.created[0].Description, "Which OAuth provider?")
}

func TestCreateSurvivesTicketFailure(t *testing.T) {
	tk := &fakeTicketer{fail: true}
	r := NewRegistry(tk, "team-1", nil)

	b, err := r.Create(context.Background(), "proj-1", "auth", "q", nil)
	require.NoError(t, err)
	assert.Empty(t, b.IssueID)

	// The blocker still resolves through the registry
	assert.True(t, r.Resolve(b.BlockerID, "answer", nil))
	assert.Equal(t, "answer", b.Answer())
}

func TestCreateCheckpointsBlocker(t *testing.T) {
	es := newTestState(t)
	r := NewRegistry(nil, "", nil)

	b, err := r.Create(context.Background(), "proj-1", "auth", "q", es)
	require.NoError(t, err)

	rec, ok := es.Blocker(b.BlockerID)
	require.True(t, ok)
	assert.False(t, rec.Resolved)
	assert.Equal(t, "q", rec.Question)
}

func TestWaitReleasesOnResolve(t *testing.T) {
	r := NewRegistry(nil, "", nil)
	b, err := r.Create(context.Background(), "proj-1", "auth", "q", nil)
	require.NoError(t, err)

	got := make(chan string, 1)
	go func() {
		answer, err := b.Wait(context.Background())
		if err == nil {
			got <- answer
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.True(t, r.Resolve(b.BlockerID, "Use Google", nil))

	select {
	case answer := <-got:
		assert.Equal(t, "Use Google", answer)
	case <-time.After(time.Second):
		t.Fatal("Wait never released")
	}
}

func TestFirstAnswerWins(t *testing.T) {
	r := NewRegistry(nil, "", nil)
	b, err := r.Create(context.Background(), "proj-1", "auth", "q", nil)
	require.NoError(t, err)

	assert.True(t, r.Resolve(b.BlockerID, "first", nil))
	assert.True(t, r.Resolve(b.BlockerID, "second", nil))
	assert.Equal(t, "first", b.Answer())
}

func TestWaitAfterResolveReturnsImmediately(t *testing.T) {
	r := NewRegistry(nil, "", nil)
	b, err := r.Create(context.Background(), "proj-1", "auth", "q", nil)
	require.NoError(t, err)
	r.Resolve(b.BlockerID, "answer", nil)

	// Multiple waiters all observe the release without consuming it
	for i := 0; i < 3; i++ {
		answer, err := b.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "answer", answer)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	r := NewRegistry(nil, "", nil)
	b, err := r.Create(context.Background(), "proj-1", "auth", "q", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveUnknownBlocker(t *testing.T) {
	r := NewRegistry(nil, "", nil)
	assert.False(t, r.Resolve("nope", "answer", nil))
}

func TestResolveCheckpointsAnswer(t *testing.T) {
	es := newTestState(t)
	r := NewRegistry(nil, "", nil)

	b, err := r.Create(context.Background(), "proj-1", "auth", "q", es)
	require.NoError(t, err)
	require.True(t, r.Resolve(b.BlockerID, "Use Google", es))

	rec, ok := es.Blocker(b.BlockerID)
	require.True(t, ok)
	assert.True(t, rec.Resolved)
	assert.Equal(t, "Use Google", rec.Answer)
}

func TestResolveByTicket(t *testing.T) {
	tk := &fakeTicketer{}
	r := NewRegistry(tk, "team-1", nil)

	b, err := r.Create(context.Background(), "proj-1", "auth", "q", nil)
	require.NoError(t, err)

	assert.True(t, r.ResolveByTicket("iss-1", "Use Google", nil))
	assert.Equal(t, "Use Google", b.Answer())

	assert.False(t, r.ResolveByTicket("iss-unknown", "x", nil))
}

func TestRestoreFromState(t *testing.T) {
	es := newTestState(t)
	require.NoError(t, es.CheckpointBlockerCreated(types.BlockerRecord{
		BlockerID: "b1", ServiceName: "auth", Question: "open", IssueID: "iss-1",
	}))
	require.NoError(t, es.CheckpointBlockerCreated(types.BlockerRecord{
		BlockerID: "b2", ServiceName: "auth", Question: "closed", Resolved: true, Answer: "done",
	}))

	r := NewRegistry(nil, "", nil)
	assert.Equal(t, 1, r.RestoreFromState(es))

	b, ok := r.Get("b1")
	require.True(t, ok)
	assert.Equal(t, "iss-1", b.IssueID)
	assert.False(t, b.Resolved())

	_, ok = r.Get("b2")
	assert.False(t, ok)

	// Restoring again is a no-op
	assert.Equal(t, 0, r.RestoreFromState(es))
}

func TestCreateReusesRestoredBlocker(t *testing.T) {
	es := newTestState(t)
	require.NoError(t, es.CheckpointBlockerCreated(types.BlockerRecord{
		BlockerID: "b1", ServiceName: "auth", Question: "Which provider?",
		IssueID: "iss-old", IssueURL: "https://linear.app/team/issue/ENG-1",
	}))

	tk := &fakeTicketer{}
	r := NewRegistry(tk, "team-1", nil)
	require.Equal(t, 1, r.RestoreFromState(es))

	// The requeued stage asks the same question again: no second ticket
	b, err := r.Create(context.Background(), "proj-1", "auth", "Which provider?", es)
	require.NoError(t, err)
	assert.Equal(t, "b1", b.BlockerID)
	assert.Equal(t, "iss-old", b.IssueID)
	assert.Empty(t, tk.created)

	// The original ticket still resolves the restored wait-point
	assert.True(t, r.ResolveByTicket("iss-old", "Use Google", es))
	answer, err := b.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Use Google", answer)

	// A different question opens a fresh ticket as usual
	b2, err := r.Create(context.Background(), "proj-1", "auth", "Other question?", nil)
	require.NoError(t, err)
	assert.NotEqual(t, "b1", b2.BlockerID)
	require.Len(t, tk.created, 1)
}

func TestBlockerNotificationsOnBus(t *testing.T) {
	broker := status.NewBroker()
	defer broker.Close()
	sub := broker.Subscribe("proj-1")

	r := NewRegistry(nil, "", broker)
	b, err := r.Create(context.Background(), "proj-1", "auth", "q", nil)
	require.NoError(t, err)
	r.Resolve(b.BlockerID, "answer", nil)

	require.Len(t, sub, 2)
}

func TestCleanup(t *testing.T) {
	r := NewRegistry(nil, "", nil)
	b, err := r.Create(context.Background(), "proj-1", "auth", "q", nil)
	require.NoError(t, err)

	r.Cleanup(b.BlockerID)
	_, ok := r.Get(b.BlockerID)
	assert.False(t, ok)

	assert.Empty(t, r.Pending())
}
