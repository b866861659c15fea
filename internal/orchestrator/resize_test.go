package orchestrator

import (
	"context"
	"errors"
	"testing"
)

func TestResizeClampsHeight(t *testing.T) {
	env := newTestEnv(t, nil)
	record, _ := env.manager.CreateInstance(context.Background(), "cto")

	cases := []struct {
		requested int
		want      int
	}{
		{-200, 80},
		{0, 80},
		{50, 80},
		{80, 80},
		{450, 450},
		{600, 600},
		{601, 600},
		{10000, 600},
	}
	for _, tc := range cases {
		updated, err := env.manager.Resize(record.ID, tc.requested)
		if err != nil {
			t.Fatalf("resize %d: %v", tc.requested, err)
		}
		if updated.DisplayHeight != tc.want {
			t.Fatalf("resize %d: expected %d, got %d", tc.requested, tc.want, updated.DisplayHeight)
		}
		stored, _ := env.manager.Get(record.ID)
		if stored.DisplayHeight != tc.want {
			t.Fatalf("resize %d: stored %d", tc.requested, stored.DisplayHeight)
		}
	}
}

func TestResizeUnknownID(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.manager.Resize("ghost", 200); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}
