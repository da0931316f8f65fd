package game

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Table is what the registry needs from a running table.
type Table interface {
	ID() string
	Config() TableConfig
	Start(ctx context.Context) error
	Stop() error
	GetCurrentRound() RoundInfo

	Join(userID string, participant ParticipantID) CommandResponse
	StartRound(userID string) CommandResponse
	Land(userID string, participant ParticipantID) CommandResponse
	ResetRound(userID string) CommandResponse
}

// Registry holds every table served by the process. Each table owns its own
// controller and goroutine; tables share no mutable state.
type Registry struct {
	tables map[string]Table
	mu     sync.RWMutex
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tables: make(map[string]Table),
		logger: logger.With("component", "registry"),
	}
}

func (r *Registry) Register(t Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tables[t.ID()]; exists {
		return fmt.Errorf("table %q already registered", t.ID())
	}
	r.tables[t.ID()] = t
	return nil
}

func (r *Registry) Get(id string) (Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[id]
	return t, ok
}

// IDs returns the registered table ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tables))
	for id := range r.tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) StartAll(ctx context.Context) error {
	for _, id := range r.IDs() {
		t, _ := r.Get(id)
		if err := t.Start(ctx); err != nil {
			return fmt.Errorf("start table %s: %w", id, err)
		}
		r.logger.Info("table started", "table", id)
	}
	return nil
}

func (r *Registry) StopAll() error {
	for _, id := range r.IDs() {
		t, _ := r.Get(id)
		if err := t.Stop(); err != nil {
			return fmt.Errorf("stop table %s: %w", id, err)
		}
		r.logger.Info("table stopped", "table", id)
	}
	return nil
}
