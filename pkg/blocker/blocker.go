package blocker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/crewline/foreman/pkg/log"
	"github.com/crewline/foreman/pkg/metrics"
	"github.com/crewline/foreman/pkg/protocol"
	"github.com/crewline/foreman/pkg/state"
	"github.com/crewline/foreman/pkg/status"
	"github.com/crewline/foreman/pkg/ticket"
	"github.com/crewline/foreman/pkg/types"
)

// PendingBlocker is an in-flight wait-point for a human decision. The
// release latch is one-shot and sticky: once resolved it stays
// resolved, the first answer wins, and any number of waiters observe it
// without consuming it.
type PendingBlocker struct {
	BlockerID   string
	ProjectID   string
	ServiceName string
	Question    string
	IssueID     string
	IssueURL    string

	mu       sync.Mutex
	answer   string
	resolved bool
	done     chan struct{}
}

func newPendingBlocker(blockerID, projectID, service, question, issueID, issueURL string) *PendingBlocker {
	return &PendingBlocker{
		BlockerID:   blockerID,
		ProjectID:   projectID,
		ServiceName: service,
		Question:    question,
		IssueID:     issueID,
		IssueURL:    issueURL,
		done:        make(chan struct{}),
	}
}

// Wait blocks until the blocker is resolved or the context ends.
// Blocker waits are unbounded; human time is the budget.
func (b *PendingBlocker) Wait(ctx context.Context) (string, error) {
	select {
	case <-b.done:
		return b.Answer(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resolved reports whether an answer has arrived
func (b *PendingBlocker) Resolved() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolved
}

// Answer returns the recorded answer (empty until resolved)
func (b *PendingBlocker) Answer() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.answer
}

// resolve stores the answer and releases the latch exactly once.
// Returns false when already resolved; the original answer is kept.
func (b *PendingBlocker) resolve(answer string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resolved {
		return false
	}
	// Answer must be visible before the release is observable
	b.answer = answer
	b.resolved = true
	close(b.done)
	return true
}

// Registry is the process-wide table of active blockers. It is kept
// consistent with the execution state by the same checkpoint methods;
// on restart it is rebuilt from the checkpoint via RestoreFromState.
type Registry struct {
	mu       sync.RWMutex
	blockers map[string]*PendingBlocker

	tickets ticket.Ticketer // nil when the ticket system is not configured
	teamID  string
	bus     status.Bus // nil when no observers are wired
}

// NewRegistry creates a blocker registry. tickets and bus may be nil.
func NewRegistry(tickets ticket.Ticketer, teamID string, bus status.Bus) *Registry {
	return &Registry{
		blockers: make(map[string]*PendingBlocker),
		tickets:  tickets,
		teamID:   teamID,
		bus:      bus,
	}
}

// Create registers a new blocker: opens an urgent ticket when the
// ticket system is configured, checkpoints the record when an execution
// state is passed, and notifies observers. The returned handle's Wait
// observes the resolution.
func (r *Registry) Create(ctx context.Context, projectID, serviceName, question string, es *state.ExecutionState) (*PendingBlocker, error) {
	logger := log.WithComponent("blocker")

	// A requeued task re-raises the same question after a restart; hand
	// back the restored wait-point and its ticket instead of opening a
	// duplicate.
	r.mu.RLock()
	for _, b := range r.blockers {
		if b.ServiceName == serviceName && b.Question == question && !b.Resolved() {
			r.mu.RUnlock()
			logger.Info().
				Str("blocker_id", b.BlockerID).
				Str("service", serviceName).
				Msg("reusing restored blocker")
			return b, nil
		}
	}
	r.mu.RUnlock()

	blockerID := uuid.NewString()[:8]

	issueID, issueURL := "", ""
	if r.tickets != nil && r.teamID != "" {
		description := fmt.Sprintf(
			"## Blocker\n\n**Service**: %s\n\n**Question**: %s\n\n---\n*Reply in a comment to resolve this blocker.*",
			serviceName, question,
		)
		issue, err := r.tickets.CreateIssue(ctx, ticket.IssueInput{
			Title:       fmt.Sprintf("[%s] BLOCKER: %s", serviceName, types.Truncate(question, 80)),
			Description: description,
			TeamID:      r.teamID,
			Priority:    ticket.PriorityUrgent,
		})
		if err != nil {
			// Ticket failures degrade: the blocker still works via Resolve
			logger.Error().Err(err).Str("service", serviceName).Msg("failed to create blocker ticket")
		} else {
			issueID = issue.ID
			issueURL = issue.URL
			logger.Info().
				Str("issue", issue.Identifier).
				Str("service", serviceName).
				Msg("created blocker ticket")
		}
	}

	b := newPendingBlocker(blockerID, projectID, serviceName, question, issueID, issueURL)

	r.mu.Lock()
	r.blockers[blockerID] = b
	r.mu.Unlock()
	metrics.BlockersOpen.Inc()

	if es != nil {
		if err := es.CheckpointBlockerCreated(types.BlockerRecord{
			BlockerID:   blockerID,
			ServiceName: serviceName,
			Question:    question,
			IssueID:     issueID,
			IssueURL:    issueURL,
		}); err != nil {
			return nil, fmt.Errorf("failed to checkpoint blocker: %w", err)
		}
	}

	if r.bus != nil {
		r.bus.Send(projectID, protocol.NewBlockerNotification(blockerID, serviceName, question, issueURL, false))
	}

	logger.Info().
		Str("blocker_id", blockerID).
		Str("service", serviceName).
		Str("question", types.Truncate(question, 100)).
		Msg("blocker created")
	return b, nil
}

// Resolve releases a blocker with the given answer. Returns true when
// the id was known. Resolution is idempotent; a second answer is
// discarded.
func (r *Registry) Resolve(blockerID, answer string, es *state.ExecutionState) bool {
	r.mu.RLock()
	b, ok := r.blockers[blockerID]
	r.mu.RUnlock()
	logger := log.WithComponent("blocker")
	if !ok {
		logger.Warn().Str("blocker_id", blockerID).Msg("no blocker found")
		return false
	}

	if b.resolve(answer) {
		metrics.BlockersOpen.Dec()
		metrics.BlockersResolved.Inc()
		if es != nil {
			if err := es.CheckpointBlockerResolved(blockerID, answer); err != nil {
				logger.Error().Err(err).
					Str("blocker_id", blockerID).
					Msg("failed to checkpoint blocker resolution")
			}
		}
		if r.bus != nil {
			r.bus.Send(b.ProjectID, protocol.NewBlockerNotification(b.BlockerID, b.ServiceName, b.Question, b.IssueURL, true))
		}
		logger.Info().
			Str("blocker_id", blockerID).
			Str("answer", types.Truncate(answer, 100)).
			Msg("blocker resolved")
	}
	return true
}

// ResolveByTicket resolves the blocker that owns the given ticket id.
// Called from the webhook path when a human replies on the issue.
func (r *Registry) ResolveByTicket(issueID, answer string, es *state.ExecutionState) bool {
	r.mu.RLock()
	var match *PendingBlocker
	for _, b := range r.blockers {
		if b.IssueID == issueID {
			match = b
			break
		}
	}
	r.mu.RUnlock()

	if match == nil {
		logger := log.WithComponent("blocker")
		logger.Warn().Str("issue_id", issueID).Msg("no blocker found for ticket")
		return false
	}
	return r.Resolve(match.BlockerID, answer, es)
}

// RestoreFromState rebuilds wait-points for every unresolved blocker in
// the checkpoint so freshly started workers can await them. Returns the
// number restored.
func (r *Registry) RestoreFromState(es *state.ExecutionState) int {
	restored := 0
	for _, rec := range es.UnresolvedBlockers() {
		r.mu.Lock()
		if _, exists := r.blockers[rec.BlockerID]; !exists {
			r.blockers[rec.BlockerID] = newPendingBlocker(
				rec.BlockerID, es.ProjectID, rec.ServiceName, rec.Question, rec.IssueID, rec.IssueURL,
			)
			restored++
			metrics.BlockersOpen.Inc()
		}
		r.mu.Unlock()
	}
	if restored > 0 {
		logger := log.WithComponent("blocker")
		logger.Info().Int("count", restored).Msg("restored blockers from checkpoint")
	}
	return restored
}

// Get returns the blocker with the given id
func (r *Registry) Get(blockerID string) (*PendingBlocker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blockers[blockerID]
	return b, ok
}

// Pending returns a snapshot of the active blockers
func (r *Registry) Pending() map[string]*PendingBlocker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*PendingBlocker, len(r.blockers))
	for id, b := range r.blockers {
		out[id] = b
	}
	return out
}

// Cleanup removes a blocker from the registry after processing
func (r *Registry) Cleanup(blockerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.blockers[blockerID]; ok {
		if !b.Resolved() {
			metrics.BlockersOpen.Dec()
		}
		delete(r.blockers, blockerID)
	}
}

// ClearAll empties the registry (shutdown and tests)
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, b := range r.blockers {
		if !b.Resolved() {
			metrics.BlockersOpen.Dec()
		}
		delete(r.blockers, id)
	}
}
