package recovery

import (
	"context"
)

const (
	msgConnectionRestored = "Connection restored. Syncing your progress..."
	msgConnectionLost     = "Connection lost. Your progress will be saved automatically when connection is restored."
)

// SetOnline records a network transition; nothing happens when the status is unchanged.
func (s *Service) SetOnline(ctx context.Context, online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	if s.state != nil {
		s.state.IsOnline = online
		if changed {
			_ = s.saveStateLocked(ctx)
		}
	}
	s.mu.Unlock()

	if !changed {
		return
	}
	if online {
		s.handleNetworkRestore(ctx)
	} else {
		s.handleNetworkLoss()
	}
}

func (s *Service) handleNetworkRestore(ctx context.Context) {
	s.logger.Info("network connection restored")
	s.emit(EventNetworkRestored, nil)
	s.tryFlush(ctx)
	s.notify(NotifySuccess, msgConnectionRestored)
}

func (s *Service) handleNetworkLoss() {
	s.logger.Info("network connection lost")
	s.emit(EventNetworkLost, nil)
	s.notify(NotifyWarning, msgConnectionLost)
}

// CheckNetwork pings the progress API and records the result.
func (s *Service) CheckNetwork(ctx context.Context) bool {
	online := s.client.Ping(ctx) == nil
	s.SetOnline(ctx, online)
	return online
}

// Hidden saves pending changes when the learner leaves.
func (s *Service) Hidden(ctx context.Context) bool {
	if !s.HasPendingChanges() {
		return true
	}
	return s.ForceSave(ctx)
}

// Visible checks the network when the learner comes back.
func (s *Service) Visible(ctx context.Context) bool {
	return s.CheckNetwork(ctx)
}
