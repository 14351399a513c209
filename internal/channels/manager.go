package channels

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Manager owns the lifecycle of all registered channels.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{channels: make(map[string]Channel)}
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
}

// GetChannel returns a channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// StartAll starts every registered channel. A channel that fails to start
// is logged and the first such error returned after all were tried.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	var firstErr error
	for name, ch := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := ch.Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// StopAll gracefully stops every channel.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.channels {
		slog.Info("stopping channel", "channel", name)
		if err := ch.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}
}

// ChannelStatus is one entry of Status.
type ChannelStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

// Status reports the running state of every channel, sorted by name.
func (m *Manager) Status() []ChannelStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ChannelStatus, 0, len(m.channels))
	for name, ch := range m.channels {
		out = append(out, ChannelStatus{Name: name, Running: ch.IsRunning()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every registered channel is running.
func (m *Manager) Healthy() bool {
	for _, s := range m.Status() {
		if !s.Running {
			return false
		}
	}
	return true
}
