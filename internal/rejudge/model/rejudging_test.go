package model_test

import (
	"testing"
	"time"

	"rejudge/internal/rejudge/model"
)

func TestParsePriority(t *testing.T) {
	cases := map[string]model.Priority{
		"high":    model.PriorityHigh,
		"":        model.PriorityDefault,
		"default": model.PriorityDefault,
		"LOW":     model.PriorityLow,
	}
	for name, want := range cases {
		got, err := model.ParsePriority(name)
		if err != nil {
			t.Fatalf("parse %q failed: %v", name, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %d, got %d", name, want, got)
		}
	}
	if model.PriorityHigh.String() != "high" || model.PriorityLow.String() != "low" {
		t.Fatalf("unexpected priority names")
	}
	if _, err := model.ParsePriority("urgent"); err == nil {
		t.Fatalf("expected error for unknown priority")
	}
}

func TestRejudgingStatus(t *testing.T) {
	now := time.Now()
	applied, canceled := true, false
	user := int64(3)

	cases := []struct {
		name       string
		rejudging  model.Rejudging
		todo       model.Todo
		wantLabel  string
		wantOrder  int
		wantFinish string
	}{
		{name: "in progress", rejudging: model.Rejudging{RepeatCount: 1}, todo: model.Todo{Todo: 3, Done: 1}, wantLabel: "25% done", wantOrder: 0},
		{name: "ready", rejudging: model.Rejudging{RepeatCount: 1}, todo: model.Todo{Done: 4}, wantLabel: model.StatusReady, wantOrder: 1},
		{name: "applied automatically", rejudging: model.Rejudging{RepeatCount: 1, EndTime: &now, Valid: &applied}, wantLabel: model.StatusApplied, wantOrder: 2, wantFinish: "automatically applied"},
		{name: "canceled sibling", rejudging: model.Rejudging{RepeatCount: 3, EndTime: &now, Valid: &canceled}, wantLabel: model.StatusCanceled, wantOrder: 2, wantFinish: "part of repeated rejudging"},
		{name: "applied by user", rejudging: model.Rejudging{RepeatCount: 1, EndTime: &now, Valid: &applied, FinishUserID: &user}, wantLabel: model.StatusApplied, wantOrder: 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			label, order := tc.rejudging.Status(tc.todo)
			if label != tc.wantLabel || order != tc.wantOrder {
				t.Fatalf("expected %q/%d, got %q/%d", tc.wantLabel, tc.wantOrder, label, order)
			}
			if got := tc.rejudging.FinishedBy(); got != tc.wantFinish {
				t.Fatalf("expected finished by %q, got %q", tc.wantFinish, got)
			}
		})
	}
}
