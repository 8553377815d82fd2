package state

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/crewline/foreman/pkg/log"
	"github.com/crewline/foreman/pkg/ticket"
	"github.com/crewline/foreman/pkg/types"
)

// Recover loads a project's checkpoint and prepares it for a fresh run:
// interrupted tasks go back to pending, and unresolved blockers are
// reconciled against ticket comments that may have arrived while the
// server was down. The reconciled state is flushed before returning.
//
// tk may be nil when no ticket system is configured; reconciliation is
// then skipped and blockers stay unresolved until answered directly.
func Recover(ctx context.Context, projectsDir, projectID string, tk ticket.Ticketer) (*ExecutionState, error) {
	s, err := Load(projectsDir, projectID)
	if err != nil {
		return nil, err
	}

	logger := log.WithProject(projectID)

	requeued := s.requeueInterrupted(logger)
	s.reconcileBlockers(ctx, tk, logger)

	s.mu.Lock()
	s.recount()
	err = s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	total, succeeded, _, pending := s.Counters()
	logger.Info().
		Int("total", total).
		Int("succeeded", succeeded).
		Int("pending", pending).
		Int("requeued", requeued).
		Msg("recovered execution state")
	return s, nil
}

// requeueInterrupted resets in-progress tasks to pending and clears the
// owning service's current task pointer when it pointed at them
func (s *ExecutionState) requeueInterrupted(logger zerolog.Logger) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	requeued := 0
	for tid, task := range s.Tasks {
		if task.Status != types.TaskStatusInProgress {
			continue
		}
		task.Status = types.TaskStatusPending
		task.StartedAt = ""
		task.CompletedAt = ""
		if svc, ok := s.Services[task.ServiceName]; ok && svc.CurrentTaskID == tid {
			svc.CurrentTaskID = ""
		}
		logger.Info().Str("task_id", tid).Msg("reset interrupted task to pending")
		requeued++
	}
	return requeued
}

// reconcileBlockers checks the ticket system for comments that resolved
// blockers during the outage. The latest comment wins as the answer. A
// failed lookup leaves that blocker unresolved; it can still be
// answered through the registry.
func (s *ExecutionState) reconcileBlockers(ctx context.Context, tk ticket.Ticketer, logger zerolog.Logger) {
	if tk == nil {
		return
	}

	unresolved := s.UnresolvedBlockers()
	for _, rec := range unresolved {
		if rec.IssueID == "" {
			continue
		}
		comments, err := tk.GetIssueComments(ctx, rec.IssueID)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("blocker_id", rec.BlockerID).
				Msg("failed to check ticket comments for blocker")
			continue
		}
		if len(comments) == 0 {
			continue
		}

		answer := comments[len(comments)-1].Body
		s.mu.Lock()
		if b, ok := s.Blockers[rec.BlockerID]; ok && !b.Resolved {
			b.Resolved = true
			b.Answer = answer
		}
		s.mu.Unlock()
		logger.Info().
			Str("blocker_id", rec.BlockerID).
			Msg("blocker resolved via ticket comment during recovery")
	}
}
