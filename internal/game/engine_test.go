package game

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type stubTable struct {
	id      string
	started bool
	stopped bool
	err     error
}

func (s *stubTable) ID() string { return s.id }

func (s *stubTable) Config() TableConfig { return DefaultTableConfig(s.id) }

func (s *stubTable) Start(context.Context) error {
	if s.err != nil {
		return s.err
	}
	s.started = true
	return nil
}

func (s *stubTable) Stop() error {
	s.stopped = true
	return nil
}

func (s *stubTable) GetCurrentRound() RoundInfo { return RoundInfo{TableID: s.id} }

func (s *stubTable) Join(string, ParticipantID) CommandResponse { return CommandResponse{} }
func (s *stubTable) StartRound(string) CommandResponse          { return CommandResponse{} }
func (s *stubTable) Land(string, ParticipantID) CommandResponse { return CommandResponse{} }
func (s *stubTable) ResetRound(string) CommandResponse          { return CommandResponse{} }

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry(nil)

	t.Run("register table", func(t *testing.T) {
		if err := reg.Register(&stubTable{id: "main"}); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		table, exists := reg.Get("main")
		if !exists {
			t.Fatal("main table should be registered")
		}
		if table.ID() != "main" {
			t.Errorf("ID() = %q, want main", table.ID())
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		if err := reg.Register(&stubTable{id: "main"}); err == nil {
			t.Error("Register() accepted a duplicate id")
		}
	})

	t.Run("get non-existent table", func(t *testing.T) {
		if _, exists := reg.Get("missing"); exists {
			t.Error("missing table should not exist")
		}
	})
}

func TestRegistry_IDsSorted(t *testing.T) {
	reg := NewRegistry(nil)
	for _, id := range []string{"zeta", "alpha", "mid"} {
		reg.Register(&stubTable{id: id})
	}

	want := []string{"alpha", "mid", "zeta"}
	if got := reg.IDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("IDs() = %v, want %v", got, want)
	}
}

func TestRegistry_StartStopAll(t *testing.T) {
	reg := NewRegistry(nil)
	a := &stubTable{id: "a"}
	b := &stubTable{id: "b"}
	reg.Register(a)
	reg.Register(b)

	if err := reg.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if !a.started || !b.started {
		t.Error("StartAll() left a table stopped")
	}

	if err := reg.StopAll(); err != nil {
		t.Fatalf("StopAll() error = %v", err)
	}
	if !a.stopped || !b.stopped {
		t.Error("StopAll() left a table running")
	}
}

func TestRegistry_StartAllError(t *testing.T) {
	reg := NewRegistry(nil)
	boom := errors.New("boom")
	reg.Register(&stubTable{id: "bad", err: boom})

	if err := reg.StartAll(context.Background()); !errors.Is(err, boom) {
		t.Errorf("StartAll() error = %v, want wrapped boom", err)
	}
}
