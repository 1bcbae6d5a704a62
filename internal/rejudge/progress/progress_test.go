package progress_test

import (
	"context"
	"sync"
	"testing"

	"rejudge/internal/rejudge/progress"
)

func collect(stream *progress.Stream) <-chan []progress.Event {
	out := make(chan []progress.Event, 1)
	go func() {
		var events []progress.Event
		for e := range stream.Events() {
			events = append(events, e)
		}
		out <- events
	}()
	return out
}

func TestStreamIsMonotonicAndTerminatesOnce(t *testing.T) {
	stream := progress.NewStream(context.Background(), 0)
	done := collect(stream)

	stream.Report(10, "a")
	stream.Report(5, "b")
	stream.Report(150, "c")
	stream.Finish("/rejudgings/1")
	stream.Finish("again")
	stream.Report(20, "late")

	events := <-done
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}
	want := []int{10, 10, 100, 100}
	for i, e := range events {
		if e.Progress != want[i] {
			t.Fatalf("event %d: expected progress %d, got %d", i, want[i], e.Progress)
		}
	}
	last := events[len(events)-1]
	if !last.Terminal() || *last.Message != "/rejudgings/1" {
		t.Fatalf("unexpected terminal event %+v", last)
	}
	for _, e := range events[:len(events)-1] {
		if e.Terminal() {
			t.Fatalf("only the last event may be terminal: %+v", e)
		}
	}
}

func TestStreamDropsEventsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := progress.NewStream(ctx, 0)
	cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		stream.Report(50, "nobody listens")
		stream.Finish("done")
	}()
	wg.Wait()

	if _, ok := <-stream.Events(); ok {
		t.Fatalf("expected closed channel without events")
	}
}

func TestPercent(t *testing.T) {
	cases := []struct{ done, total, want int }{
		{0, 4, 0},
		{1, 4, 25},
		{4, 4, 100},
		{3, 0, 100},
	}
	for _, tc := range cases {
		if got := progress.Percent(tc.done, tc.total); got != tc.want {
			t.Fatalf("Percent(%d,%d) = %d, want %d", tc.done, tc.total, got, tc.want)
		}
	}
}
