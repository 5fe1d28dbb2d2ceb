package recovery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ibam/learnsync/core"
	"github.com/ibam/learnsync/core/deadletter"
)

const (
	reasonRetriesExhausted = "retries exhausted"
	reasonRejected         = "rejected by server"
)

// enqueue appends an operation and flushes right away when online.
func (s *Service) enqueue(ctx context.Context, typ OperationType, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "encoding %s payload", typ)
	}
	op := Operation{
		ID:         uuid.NewString(),
		Type:       typ,
		Payload:    raw,
		Timestamp:  s.now().UTC(),
		MaxRetries: s.opts.MaxRetries,
	}

	s.mu.Lock()
	s.queue = append(s.queue, op)
	err = s.saveQueueLocked(ctx)
	online := s.online
	s.mu.Unlock()

	if online {
		s.tryFlush(ctx)
	}
	return err
}

// Flush sends every queued operation in order, after any running pass completes.
func (s *Service) Flush(ctx context.Context) FlushResult {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	return s.flush(ctx)
}

// tryFlush runs a pass unless one is already running; queued operations join the next pass.
func (s *Service) tryFlush(ctx context.Context) {
	if !s.flushMu.TryLock() {
		return
	}
	defer s.flushMu.Unlock()
	s.flush(ctx)
}

// flush is one pass over a snapshot of the queue; s.flushMu must be held.
func (s *Service) flush(ctx context.Context) FlushResult {
	var res FlushResult

	s.mu.Lock()
	if !s.online || len(s.queue) == 0 {
		s.mu.Unlock()
		s.reportDeadLetters(ctx)
		return res
	}
	ops := append([]Operation(nil), s.queue...)
	s.mu.Unlock()

	removed := make(map[string]bool, len(ops))
	retried := make(map[string]Operation)
	var abandoned []DeadLetter

	for _, op := range ops {
		err := s.client.Send(ctx, op)
		if err == nil {
			removed[op.ID] = true
			res.Processed++
			s.logger.Debug(fmt.Sprintf("operation processed: %s - %s", op.Type, op.ID))
			continue
		}

		op.RetryCount++
		op.LastError = err.Error()
		s.logger.Info(fmt.Sprintf("operation failed: %s - %s (attempt %d): %v", op.Type, op.ID, op.RetryCount, err))

		permanent := IsPermanent(err)
		if !permanent && op.RetryCount <= op.MaxRetries {
			retried[op.ID] = op
			res.Failed++
			continue
		}

		dl := DeadLetter{Operation: op, AbandonedAt: s.now().UTC(), Reason: reasonRetriesExhausted}
		if permanent {
			dl.Reason = reasonRejected
		}
		abandoned = append(abandoned, dl)
		removed[op.ID] = true
		res.Abandoned++
	}

	// operations queued during the pass keep their place after the snapshot
	s.mu.Lock()
	queue := make([]Operation, 0, len(s.queue))
	for _, op := range s.queue {
		if removed[op.ID] {
			continue
		}
		if r, ok := retried[op.ID]; ok {
			op = r
		}
		queue = append(queue, op)
	}
	s.queue = queue
	_ = s.saveQueueLocked(ctx)
	if len(abandoned) > 0 {
		s.deadLetters = append(s.deadLetters, abandoned...)
		_ = s.saveDeadLettersLocked(ctx)
	}
	s.mu.Unlock()

	for _, dl := range abandoned {
		s.logger.Warn(
			fmt.Sprintf("operation abandoned after %d attempts: %s - %s (%s)", dl.RetryCount, dl.Type, dl.ID, dl.Reason),
			map[string]interface{}{"lastError": dl.LastError},
			core.Learner{ID: keyOf(dl.Payload).UserID},
		)
		s.emit(EventOperationAbandoned, dl)
		s.notify(NotifyError, "Some of your progress could not be saved. Our team has been notified.")
	}
	if res.Processed > 0 {
		s.emit(EventOperationsProcessed, res)
	}

	s.reportDeadLetters(ctx)
	return res
}

// reportDeadLetters sends the unreported dead letters to the server, one report per learner.
// Failures are retried on the next pass.
func (s *Service) reportDeadLetters(ctx context.Context) {
	s.mu.Lock()
	if !s.online {
		s.mu.Unlock()
		return
	}
	var current payloadKey
	if s.state != nil {
		current = payloadKey{UserID: s.state.UserID, ModuleID: s.state.ModuleID, SessionID: s.state.SessionID}
	}
	var reports []*deadletter.Report
	byLearner := make(map[string]*deadletter.Report)
	for _, dl := range s.deadLetters {
		if dl.Reported {
			continue
		}
		key := keyOf(dl.Payload)
		if key.UserID == "" {
			key = current
		}
		if key.UserID == "" {
			continue
		}
		report, ok := byLearner[key.UserID]
		if !ok {
			report = &deadletter.Report{LearnerID: key.UserID, ModuleID: key.ModuleID, SessionID: key.SessionID}
			byLearner[key.UserID] = report
			reports = append(reports, report)
		}
		report.Operations = append(report.Operations, deadletter.Operation{
			ID:          dl.ID,
			Type:        string(dl.Type),
			Payload:     dl.Payload,
			RetryCount:  dl.RetryCount,
			LastError:   dl.LastError,
			Timestamp:   dl.Timestamp,
			AbandonedAt: dl.AbandonedAt,
		})
	}
	s.mu.Unlock()

	sent := make(map[string]bool)
	for _, report := range reports {
		if err := s.client.ReportDeadLetters(ctx, *report); err != nil {
			s.logger.Error(
				fmt.Sprintf("reporting %d dead letter(s) of %s: %v", len(report.Operations), report.LearnerID, err),
				err, core.Learner{ID: report.LearnerID},
			)
			continue
		}
		for _, op := range report.Operations {
			sent[op.ID] = true
		}
	}
	if len(sent) == 0 {
		return
	}

	s.mu.Lock()
	for i := range s.deadLetters {
		if sent[s.deadLetters[i].ID] {
			s.deadLetters[i].Reported = true
		}
	}
	_ = s.saveDeadLettersLocked(ctx)
	s.mu.Unlock()
}

type payloadKey struct {
	UserID    string `json:"userId"`
	ModuleID  int    `json:"moduleId"`
	SessionID int    `json:"sessionId"`
}

func keyOf(payload json.RawMessage) payloadKey {
	var k payloadKey
	_ = json.Unmarshal(payload, &k)
	return k
}
