package engine

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

type mockEngine struct {
	isRunning bool
	canPull   bool
	models    map[string]bool
	pulled    []string
}

func (m *mockEngine) Name() string { return "mock" }
func (m *mockEngine) Chat(_ context.Context, _ string, _ []Message, _ *Schema) (string, error) {
	return "", nil
}
func (m *mockEngine) IsRunning(_ context.Context) bool { return m.isRunning }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) {
	var names []string
	for n := range m.models {
		names = append(names, n)
	}
	return names, nil
}
func (m *mockEngine) HasModel(_ context.Context, name string) bool { return m.models[name] }
func (m *mockEngine) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	if !m.canPull {
		return ErrPullUnsupported
	}
	m.pulled = append(m.pulled, name)
	if cb != nil {
		cb(PullProgress{Status: "downloading", Total: 10, Completed: 5})
		cb(PullProgress{Status: "success"})
	}
	return nil
}

func TestEnsureReady_ModelPresent(t *testing.T) {
	m := &mockEngine{isRunning: true, canPull: true, models: map[string]bool{"phi3.5": true}}
	if err := EnsureReady(context.Background(), m, "phi3.5", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 0 {
		t.Errorf("expected no pulls, got %v", m.pulled)
	}
}

func TestEnsureReady_PullsMissing(t *testing.T) {
	m := &mockEngine{isRunning: true, canPull: true, models: map[string]bool{}}
	var out bytes.Buffer
	if err := EnsureReady(context.Background(), m, "phi3.5", &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 || m.pulled[0] != "phi3.5" {
		t.Errorf("pulled = %v, want [phi3.5]", m.pulled)
	}
	if !strings.Contains(out.String(), "downloading 50%") {
		t.Errorf("progress not reported: %q", out.String())
	}
}

func TestEnsureReady_HostedModelMissing(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{}}
	err := EnsureReady(context.Background(), m, "gemini-2.0-flash", io.Discard)
	if err == nil || !strings.Contains(err.Error(), "not available") {
		t.Fatalf("EnsureReady error = %v, want model not available", err)
	}
}

func TestEnsureReady_EngineDown(t *testing.T) {
	m := &mockEngine{isRunning: false}
	err := EnsureReady(context.Background(), m, "phi3.5", io.Discard)
	if err == nil {
		t.Fatal("expected error when engine is down")
	}
}
