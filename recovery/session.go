package recovery

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// StartSession replaces the session state and sends the operations left by a previous run.
func (s *Service) StartSession(ctx context.Context, userID string, moduleID, sessionID int) error {
	s.mu.Lock()
	s.state = &SessionState{
		UserID:          userID,
		ModuleID:        moduleID,
		SessionID:       sessionID,
		CurrentSection:  firstSection,
		SectionProgress: make(map[string]Data),
		FormData:        make(map[string]Data),
		LastSaved:       s.now().UTC(),
		IsOnline:        s.online,
	}
	err := s.saveStateLocked(ctx)
	started := s.state.clone()
	s.mu.Unlock()

	s.emit(EventSessionStarted, started)
	s.tryFlush(ctx)
	return err
}

// mutate applies fn to the session state, marks it pending and persists it.
func (s *Service) mutate(ctx context.Context, fn func(st *SessionState)) (*SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, ErrNoSession
	}
	fn(s.state)
	s.state.PendingChanges = true
	return s.state.clone(), s.saveStateLocked(ctx)
}

// UpdateProgress merges data into the progress of section and queues a progress_update.
func (s *Service) UpdateProgress(ctx context.Context, section string, data Data) error {
	now := s.now().UTC()
	st, err := s.mutate(ctx, func(st *SessionState) {
		st.CurrentSection = section
		merged := st.SectionProgress[section].merge(data)
		merged["lastUpdated"] = now
		st.SectionProgress[section] = merged
	})
	if st == nil {
		return err
	}

	qErr := s.enqueue(ctx, OpProgressUpdate, progressPayload{
		UserID:    st.UserID,
		ModuleID:  st.ModuleID,
		SessionID: st.SessionID,
		Section:   section,
		Data:      data,
	})
	s.emit(EventProgressUpdated, ProgressUpdated{Section: section, Data: data})
	return firstErr(err, qErr)
}

// SaveFormData stores the latest draft of a form and queues a form_save.
func (s *Service) SaveFormData(ctx context.Context, formID string, data Data) error {
	now := s.now().UTC()
	st, err := s.mutate(ctx, func(st *SessionState) {
		saved := Data{}.merge(data)
		saved["lastSaved"] = now
		st.FormData[formID] = saved
	})
	if st == nil {
		return err
	}

	qErr := s.enqueue(ctx, OpFormSave, formPayload{
		UserID:    st.UserID,
		FormID:    formID,
		ModuleID:  st.ModuleID,
		SessionID: st.SessionID,
		Data:      data,
	})
	s.emit(EventFormSaved, FormSaved{FormID: formID, Data: data})
	return firstErr(err, qErr)
}

// CompleteSection marks section as completed and queues a section_complete.
func (s *Service) CompleteSection(ctx context.Context, section string) error {
	now := s.now().UTC()
	st, err := s.mutate(ctx, func(st *SessionState) {
		merged := st.SectionProgress[section].merge(Data{"completed": true, "completedAt": now})
		st.SectionProgress[section] = merged
	})
	if st == nil {
		return err
	}

	qErr := s.enqueue(ctx, OpSectionComplete, completePayload{
		UserID:      st.UserID,
		ModuleID:    st.ModuleID,
		SessionID:   st.SessionID,
		Section:     section,
		CompletedAt: now,
	})
	s.emit(EventSectionCompleted, SectionCompleted{Section: section})
	return firstErr(err, qErr)
}

// ForceSave flushes the queue, waiting for a running pass, and reports whether it drained.
func (s *Service) ForceSave(ctx context.Context) bool {
	if !s.HasPendingChanges() {
		return true
	}

	s.Flush(ctx)

	s.mu.Lock()
	pending := len(s.queue)
	drained := pending == 0
	if drained && s.state != nil {
		s.state.PendingChanges = false
		s.state.LastSaved = s.now().UTC()
		_ = s.saveStateLocked(ctx)
	}
	s.mu.Unlock()

	s.emit(EventForceSaveComplete, ForceSaveResult{Success: drained, Pending: pending})
	return drained
}

// RecoverSession loads the persisted session state and queue.
// The state is informational; the server record stays authoritative.
func (s *Service) RecoverSession(ctx context.Context) (*SessionState, bool) {
	var st *SessionState
	var queue []Operation
	if err := s.load(ctx, KeySessionState, &st); err != nil {
		s.logger.Error(fmt.Sprintf("recovering session: %v", err), err)
		return nil, false
	}
	if err := s.load(ctx, KeyOperationQueue, &queue); err != nil {
		s.logger.Error(fmt.Sprintf("recovering queue: %v", err), err)
	}
	if st == nil {
		return nil, false
	}
	if st.SectionProgress == nil {
		st.SectionProgress = make(map[string]Data)
	}
	if st.FormData == nil {
		st.FormData = make(map[string]Data)
	}

	s.mu.Lock()
	st.IsOnline = s.online
	s.state = st
	if queue != nil {
		s.queue = queue
	}
	recovered := s.state.clone()
	s.mu.Unlock()

	s.emit(EventSessionRecovered, recovered)
	s.notify(NotifySuccess, fmt.Sprintf(
		"Session recovered! Your progress from %s has been restored.",
		recovered.LastSaved.Local().Format("2006-01-02 15:04:05"),
	))
	return recovered, true
}

// ClearSession wipes the local session state and queue. Dead letters are kept.
func (s *Service) ClearSession(ctx context.Context) error {
	s.mu.Lock()
	s.state = nil
	s.queue = nil
	err := s.store.Delete(ctx, KeySessionState, KeyOperationQueue)
	s.mu.Unlock()

	s.emit(EventSessionCleared, nil)
	if err != nil {
		return errors.Wrap(err, "clearing session")
	}
	return nil
}

func (s *Service) HasPendingChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != nil && s.state.PendingChanges
}

func (s *Service) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Queue returns a copy of the queued operations in send order.
func (s *Service) Queue() []Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Operation(nil), s.queue...)
}

func (s *Service) DeadLetters() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeadLetter(nil), s.deadLetters...)
}

// State returns a copy of the session state, or nil without a session.
func (s *Service) State() *SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *Service) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
