package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"rejudge/internal/common/mq"
	"rejudge/internal/rejudge/model"
	"rejudge/internal/rejudge/repository"
	"rejudge/internal/rejudge/service"
	"rejudge/internal/testutil"
	appErr "rejudge/pkg/errors"
)

func createFor(t *testing.T, f *fixture, criteria model.Criteria, opts model.CreateOptions) (*service.CreateResult, *recorder) {
	t.Helper()
	ctx := context.Background()
	actor := opts.Actor
	if actor.UserID == nil {
		actor = jury(7)
		opts.Actor = actor
	}
	sel, err := f.svc.Select(ctx, &criteria, actor)
	testutil.AssertNoError(t, err)
	rec := &recorder{}
	result, err := f.svc.CreateFromSelection(ctx, sel, opts, rec)
	testutil.AssertNoError(t, err)
	return result, rec
}

func TestCreateRejudgingSkipsAttachedSubmissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addJudged(1, model.VerdictWrongAnswer)
	f.addJudged(2, model.VerdictTimeLimit)
	f.addJudged(3, model.VerdictWrongAnswer)

	first, _ := createFor(t, f, model.Criteria{Submissions: []int64{3}}, model.CreateOptions{Reason: "first"})
	f.producer.drain()

	result, rec := createFor(t, f, model.Criteria{Contests: []int64{1}}, model.CreateOptions{Reason: "fix testdata"})
	if result.Rejudging == nil {
		t.Fatalf("expected a rejudging to be created")
	}
	testutil.AssertEqual(t, result.Enqueued, 2)
	testutil.AssertEqual(t, result.Skipped, []model.SkippedJudging{
		{JudgingID: 3, SubmissionID: 3, RejudgingID: first.Rejudging.ID},
	})

	attached, err := f.store.ListAttachedSubmissions(ctx, nil, result.Rejudging.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, attached, []int64{1, 2})

	terminals := rec.terminals()
	if len(terminals) != 1 {
		t.Fatalf("expected one terminal event, got %d", len(terminals))
	}
	testutil.AssertEqual(t, *terminals[0].Message, "/api/v1/rejudgings/2")

	tasks := f.producer.drain()
	testutil.AssertEqual(t, len(tasks), 2)
	testutil.AssertEqual(t, tasks[0].topic, topicDefault)
	testutil.AssertEqual(t, tasks[0].message.ID, "r2-j1")
	testutil.AssertEqual(t, tasks[0].task, model.RejudgeTask{SubmissionID: 1, Priority: model.PriorityDefault, OriginalJudgingID: 1, RejudgingID: 2})
}

func TestCreateRejudgingEmptySelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addJudged(1, model.VerdictCorrect)

	result, rec := createFor(t, f, model.Criteria{}, model.CreateOptions{ReturnTo: "/contests/1"})
	testutil.AssertNil(t, result.Rejudging)
	testutil.AssertEqual(t, len(rec.events), 1)
	testutil.AssertEqual(t, rec.events[0].Progress, 100)
	testutil.AssertEqual(t, *rec.events[0].Message, "/contests/1")

	rejudgings, err := f.svc.ListRejudgings(ctx, nil)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(rejudgings), 0)
}

func TestCreateRejudgingReleasesUnpublishedSubmissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addJudged(1, model.VerdictWrongAnswer)
	f.addJudged(2, model.VerdictWrongAnswer)
	f.producer.failFor[2] = true

	result, _ := createFor(t, f, model.Criteria{}, model.CreateOptions{Priority: model.PriorityHigh})
	testutil.AssertEqual(t, result.Enqueued, 1)
	testutil.AssertEqual(t, result.Failed, 1)

	attached, err := f.store.ListAttachedSubmissions(ctx, nil, result.Rejudging.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, attached, []int64{1})

	tasks := f.producer.drain()
	testutil.AssertEqual(t, tasks[0].topic, topicHigh)
	testutil.AssertEqual(t, tasks[0].message.Priority, uint8(0))
}

func TestCreateFromStaleSelectionSkipsClaimedSubmissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addJudged(1, model.VerdictWrongAnswer)
	taken := f.addJudged(2, model.VerdictTimeLimit)
	f.addJudged(3, model.VerdictWrongAnswer)

	sel, err := f.svc.Select(ctx, &model.Criteria{Contests: []int64{1}}, jury(7))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(sel.Eligible), 3)

	// Another rejudging claims submission 2 after the selection was made.
	otherID, err := f.store.CreateRejudging(ctx, nil, &model.Rejudging{Reason: "concurrent", StartTime: f.now})
	testutil.AssertNoError(t, err)
	ok, err := f.store.AttachSubmission(ctx, nil, 2, otherID)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, ok, "submission 2 should be free before the race")

	rec := &recorder{}
	result, err := f.svc.CreateFromSelection(ctx, sel, model.CreateOptions{Reason: "fix testdata", Actor: jury(7)}, rec)
	testutil.AssertNoError(t, err)
	if result.Rejudging == nil {
		t.Fatalf("expected a rejudging to be created")
	}
	testutil.AssertEqual(t, result.Enqueued, 2)
	testutil.AssertEqual(t, result.Skipped, []model.SkippedJudging{
		{JudgingID: taken, SubmissionID: 2, RejudgingID: otherID},
	})

	attached, err := f.store.ListAttachedSubmissions(ctx, nil, result.Rejudging.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, attached, []int64{1, 3})
	stillOther, err := f.store.ListAttachedSubmissions(ctx, nil, otherID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, stillOther, []int64{2})

	notice := fmt.Sprintf("Skipping submission s2 since it is already part of rejudging r%d.", otherID)
	noticed := false
	for _, e := range rec.events {
		if e.Log == notice {
			noticed = true
		}
	}
	testutil.AssertTrue(t, noticed, "skipped submission must be announced")
	testutil.AssertEqual(t, len(rec.terminals()), 1)
	testutil.AssertEqual(t, len(f.producer.drain()), 2)
}

func TestCreateFromStaleSelectionWithEverythingClaimed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addJudged(1, model.VerdictWrongAnswer)
	f.addJudged(2, model.VerdictWrongAnswer)

	sel, err := f.svc.Select(ctx, &model.Criteria{}, jury(7))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(sel.Eligible), 2)

	otherID, err := f.store.CreateRejudging(ctx, nil, &model.Rejudging{Reason: "concurrent", StartTime: f.now})
	testutil.AssertNoError(t, err)
	for _, submissionID := range []int64{1, 2} {
		ok, err := f.store.AttachSubmission(ctx, nil, submissionID, otherID)
		testutil.AssertNoError(t, err)
		testutil.AssertTrue(t, ok, "submission should be free before the race")
	}

	rec := &recorder{}
	result, err := f.svc.CreateFromSelection(ctx, sel, model.CreateOptions{ReturnTo: "/contests/1", Actor: jury(7)}, rec)
	testutil.AssertNoError(t, err)
	testutil.AssertNil(t, result.Rejudging)
	testutil.AssertEqual(t, len(result.Skipped), 2)

	terminals := rec.terminals()
	testutil.AssertEqual(t, len(terminals), 1)
	testutil.AssertEqual(t, *terminals[0].Message, "/contests/1")

	rejudgings, err := f.store.ListRejudgings(ctx, nil, repository.RejudgingFilter{})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(rejudgings), 1)
	testutil.AssertEqual(t, rejudgings[0].ID, otherID)
	testutil.AssertEqual(t, len(f.producer.drain()), 0)
}

func TestCreateRejudgingReportsClaimAndBatchesTasks(t *testing.T) {
	f := newFixture(t)
	for id := int64(1); id <= 150; id++ {
		f.addJudged(id, model.VerdictWrongAnswer)
	}

	result, rec := createFor(t, f, model.Criteria{}, model.CreateOptions{Reason: "bulk"})
	testutil.AssertEqual(t, result.Enqueued, 150)
	testutil.AssertEqual(t, f.producer.batches, 2)

	claimed := false
	prev := 0
	for _, e := range rec.events {
		if e.Progress < prev {
			t.Fatalf("progress went back from %d to %d", prev, e.Progress)
		}
		prev = e.Progress
		if e.Log == "checked 100/150 submissions" {
			claimed = true
			testutil.AssertEqual(t, e.Progress, 33)
		}
	}
	testutil.AssertTrue(t, claimed, "claiming must report progress before dispatch")
	testutil.AssertEqual(t, len(rec.terminals()), 1)
}

func TestSelectValidatesCriteria(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.now.Add(-2 * time.Hour)
	f.addJudgedIn(1, 1, model.VerdictWrongAnswer, start.Add(10*time.Minute))
	f.addJudgedIn(1, 2, model.VerdictWrongAnswer, start.Add(90*time.Minute))
	f.addJudgedIn(2, 3, model.VerdictWrongAnswer, start)

	_, err := f.svc.Select(ctx, &model.Criteria{Contests: []int64{1, 2}, SubmittedBefore: "+1:00"}, jury(7))
	testutil.AssertTrue(t, appErr.Is(err, appErr.SelectionInvalid), "time window with two contests must be rejected")

	_, err = f.svc.Select(ctx, &model.Criteria{SubmittedAfter: "+0:30"}, jury(7))
	testutil.AssertTrue(t, appErr.Is(err, appErr.SelectionInvalid), "time window without a contest must be rejected")

	_, err = f.svc.Select(ctx, &model.Criteria{IncludeAll: true}, jury(7))
	testutil.AssertTrue(t, appErr.Is(err, appErr.InsufficientPermission), "include all needs admin")

	_, err = f.svc.Select(ctx, &model.Criteria{Contests: []int64{1}, SubmittedBefore: "noon"}, jury(7))
	testutil.AssertTrue(t, appErr.Is(err, appErr.SelectionInvalid), "unparsable time must be rejected")

	_, err = f.svc.Select(ctx, &model.Criteria{Contests: []int64{2}, SubmittedAfter: "1:75"}, jury(7))
	testutil.AssertTrue(t, appErr.Is(err, appErr.SelectionInvalid), "unparsable time must be rejected for an inactive contest too")

	sel, err := f.svc.Select(ctx, &model.Criteria{Contests: []int64{1}, SubmittedBefore: "+1:00"}, jury(7))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(sel.Eligible), 1)
	testutil.AssertEqual(t, sel.Eligible[0].Submission.ID, int64(1))

	sel, err = f.svc.Select(ctx, &model.Criteria{}, jury(7))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(sel.Eligible), 2)

	sel, err = f.svc.Select(ctx, &model.Criteria{Contests: []int64{2}}, jury(7))
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, sel.Empty(), "inactive contests are never selected")
}

func TestFinishRejudgingApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orig1 := f.addJudged(1, model.VerdictWrongAnswer)
	orig2 := f.addJudged(2, model.VerdictWrongAnswer)

	result, _ := createFor(t, f, model.Criteria{}, model.CreateOptions{Reason: "checker fix"})
	rejudgingID := result.Rejudging.ID
	newIDs := f.judge(nil, nil)
	testutil.AssertEqual(t, len(newIDs), 2)

	todo, err := f.svc.CalculateTodo(ctx, rejudgingID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, todo, model.Todo{Todo: 0, Done: 2})

	rec := &recorder{}
	err = f.svc.FinishRejudging(ctx, rejudgingID, model.ActionApply, jury(9), rec)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(rec.terminals()), 1)

	testutil.AssertEqual(t, f.validJudgings(t, 1), []int64{newIDs[0]})
	testutil.AssertEqual(t, f.validJudgings(t, 2), []int64{newIDs[1]})
	judgings, err := f.store.GetJudgings(ctx, nil, []int64{orig1, orig2})
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, judgings[orig1].Valid, "original judging must be invalidated")
	testutil.AssertFalse(t, judgings[orig2].Valid, "original judging must be invalidated")

	rejudging, err := f.store.GetRejudging(ctx, nil, rejudgingID)
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, rejudging.IsOpen(), "rejudging must be closed")
	testutil.AssertTrue(t, rejudging.Valid != nil && *rejudging.Valid, "rejudging must be applied")
	testutil.AssertEqual(t, *rejudging.FinishUserID, int64(9))

	attached, err := f.store.ListAttachedSubmissions(ctx, nil, rejudgingID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(attached), 0)

	doc, err := f.svc.GetArchivedReport(ctx, rejudgingID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, doc.Matrix.Cells[model.VerdictWrongAnswer][model.VerdictCorrect], []int64{1, 2})
	testutil.AssertEqual(t, doc.Rejudging.Reason, "checker fix")

	err = f.svc.FinishRejudging(ctx, rejudgingID, model.ActionCancel, jury(9), &recorder{})
	testutil.AssertTrue(t, appErr.Is(err, appErr.RejudgingFinished), "a finished rejudging cannot be finished again")
}

func TestFinishRejudgingCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orig := f.addJudged(1, model.VerdictWrongAnswer)

	result, _ := createFor(t, f, model.Criteria{}, model.CreateOptions{})
	newIDs := f.judge(nil, nil)

	err := f.svc.FinishRejudging(ctx, result.Rejudging.ID, model.ActionCancel, jury(9), &recorder{})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, f.validJudgings(t, 1), []int64{orig})

	judgings, err := f.store.GetJudgings(ctx, nil, newIDs)
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, judgings[newIDs[0]].Valid, "canceled judging must stay invalid")

	rejudging, err := f.store.GetRejudging(ctx, nil, result.Rejudging.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, rejudging.Valid != nil && !*rejudging.Valid, "rejudging must be canceled")
	submission, err := f.store.GetSubmission(ctx, nil, 1)
	testutil.AssertNoError(t, err)
	testutil.AssertNil(t, submission.RejudgingID)
}

func TestFinishRejudgingIncompleteChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orig := f.addJudged(1, model.VerdictWrongAnswer)
	f.addJudged(2, model.VerdictWrongAnswer)

	result, _ := createFor(t, f, model.Criteria{}, model.CreateOptions{})
	tasks := f.producer.drain()
	f.producer.messages = tasks[:1]
	f.judge(nil, nil)

	rec := &recorder{}
	err := f.svc.FinishRejudging(ctx, result.Rejudging.ID, model.ActionApply, jury(9), rec)
	testutil.AssertTrue(t, appErr.Is(err, appErr.RejudgingIncomplete), "finish with todo must fail")
	testutil.AssertEqual(t, len(rec.terminals()), 1)

	testutil.AssertEqual(t, f.validJudgings(t, 1), []int64{orig})
	rejudging, err := f.store.GetRejudging(ctx, nil, result.Rejudging.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, rejudging.IsOpen(), "rejudging must stay open")
	attached, err := f.store.ListAttachedSubmissions(ctx, nil, result.Rejudging.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, attached, []int64{1, 2})
}

func TestFinishRejudgingResumesAfterInterruption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orig1 := f.addJudged(1, model.VerdictWrongAnswer)
	f.addJudged(2, model.VerdictWrongAnswer)

	result, _ := createFor(t, f, model.Criteria{}, model.CreateOptions{})
	rejudgingID := result.Rejudging.ID
	newIDs := f.judge(nil, nil)

	// Submission 1 was settled before the previous run died.
	_, err := f.store.SetJudgingValid(ctx, nil, orig1, true, false)
	testutil.AssertNoError(t, err)
	_, err = f.store.SetJudgingValid(ctx, nil, newIDs[0], false, true)
	testutil.AssertNoError(t, err)
	_, err = f.store.DetachSubmission(ctx, nil, 1, rejudgingID)
	testutil.AssertNoError(t, err)

	rec := &recorder{}
	err = f.svc.FinishRejudging(ctx, rejudgingID, model.ActionApply, jury(9), rec)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, f.validJudgings(t, 1), []int64{newIDs[0]})
	testutil.AssertEqual(t, f.validJudgings(t, 2), []int64{newIDs[1]})
}

func TestFinishRejudgingBusy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addJudged(1, model.VerdictWrongAnswer)
	result, _ := createFor(t, f, model.Criteria{}, model.CreateOptions{})
	f.judge(nil, nil)

	ok, err := f.cache.TryLock(ctx, "rejudge:lock:1", time.Minute)
	testutil.AssertTrue(t, ok && err == nil, "test lock should be acquired")

	rec := &recorder{}
	err = f.svc.FinishRejudging(ctx, result.Rejudging.ID, model.ActionApply, jury(9), rec)
	testutil.AssertTrue(t, appErr.Is(err, appErr.RejudgingBusy), "locked rejudging must be busy")
	testutil.AssertEqual(t, len(rec.terminals()), 1)

	rejudging, err := f.store.GetRejudging(ctx, nil, result.Rejudging.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, rejudging.IsOpen(), "rejudging must stay open")
}

func TestRejudgingViewMatrix(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addJudged(1, model.VerdictCorrect)
	f.addJudged(2, model.VerdictWrongAnswer)

	result, _ := createFor(t, f, model.Criteria{IncludeAll: true}, model.CreateOptions{Actor: admin(1)})
	f.judge(nil, nil)

	view, err := f.svc.GetRejudgingView(ctx, result.Rejudging.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, view.Status, model.StatusReady)
	testutil.AssertEqual(t, view.Matrix.Cells[model.VerdictCorrect][model.VerdictCorrect], []int64{1})
	testutil.AssertEqual(t, view.Matrix.Cells[model.VerdictWrongAnswer][model.VerdictCorrect], []int64{2})
	testutil.AssertEqual(t, view.Matrix.Used, []string{model.VerdictCorrect, model.VerdictWrongAnswer})
	testutil.AssertNil(t, view.Stats)

	list, err := f.svc.ListRejudgings(ctx, nil)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(list), 1)
	testutil.AssertEqual(t, list[0].Todo, model.Todo{Done: 2})
}

func finishedEvent(t *testing.T, rejudgingID int64) *mq.Message {
	t.Helper()
	body, err := json.Marshal(model.JudgingFinishedEvent{JudgingID: 99, SubmissionID: 1, RejudgingID: &rejudgingID})
	testutil.AssertNoError(t, err)
	return mq.NewMessage(body)
}

func TestWatcherAutoApplies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addJudged(1, model.VerdictWrongAnswer)

	result, _ := createFor(t, f, model.Criteria{}, model.CreateOptions{AutoApply: true})
	rejudgingID := result.Rejudging.ID

	testutil.AssertNoError(t, f.svc.HandleJudgingFinished(ctx, finishedEvent(t, rejudgingID)))
	rejudging, err := f.store.GetRejudging(ctx, nil, rejudgingID)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, rejudging.IsOpen(), "nothing is applied while judgings are pending")

	newIDs := f.judge(nil, nil)
	testutil.AssertNoError(t, f.svc.HandleJudgingFinished(ctx, finishedEvent(t, rejudgingID)))

	rejudging, err = f.store.GetRejudging(ctx, nil, rejudgingID)
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, rejudging.IsOpen(), "auto-applied rejudging must be closed")
	testutil.AssertNil(t, rejudging.FinishUserID)
	testutil.AssertEqual(t, rejudging.FinishedBy(), "automatically applied")
	testutil.AssertEqual(t, f.validJudgings(t, 1), newIDs)

	testutil.AssertNoError(t, f.svc.HandleJudgingFinished(ctx, finishedEvent(t, rejudgingID)))
}

func TestWatcherIgnoresManualRejudgings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addJudged(1, model.VerdictWrongAnswer)
	result, _ := createFor(t, f, model.Criteria{}, model.CreateOptions{})
	f.judge(nil, nil)

	testutil.AssertNoError(t, f.svc.Sweep(ctx))
	rejudging, err := f.store.GetRejudging(ctx, nil, result.Rejudging.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, rejudging.IsOpen(), "manual rejudgings wait for a human")
}

func TestWatcherRunsRepeatChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orig := f.addJudged(1, model.VerdictCorrect)

	result, _ := createFor(t, f, model.Criteria{IncludeAll: true}, model.CreateOptions{Actor: admin(1), Repeat: 2, AutoApply: true})
	first := result.Rejudging
	testutil.AssertEqual(t, *first.RepeatedRejudgingID, first.ID)
	f.judge(nil, map[int64][]float64{1: {1.0, 1.0, 1.2}})

	testutil.AssertNoError(t, f.svc.Sweep(ctx))
	closed, err := f.store.GetRejudging(ctx, nil, first.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, closed.IsOpen(), "first sibling must be closed")
	testutil.AssertTrue(t, closed.Valid != nil && !*closed.Valid, "first sibling must be canceled")
	testutil.AssertEqual(t, closed.FinishedBy(), "part of repeated rejudging")

	tasks := f.producer.drain()
	testutil.AssertEqual(t, len(tasks), 1)
	secondID := tasks[0].task.RejudgingID
	testutil.AssertEqual(t, tasks[0].task.OriginalJudgingID, orig)
	f.producer.messages = tasks
	f.judge(nil, map[int64][]float64{1: {1.0, 1.0, 1.5}})

	testutil.AssertNoError(t, f.svc.Sweep(ctx))
	second, err := f.store.GetRejudging(ctx, nil, secondID)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, second.IsOpen(), "last sibling waits for a human by default")
	testutil.AssertEqual(t, second.GroupID(), first.ID)

	view, err := f.svc.GetRejudgingView(ctx, secondID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, view.Siblings, []int64{first.ID, secondID})
	if view.Stats == nil || len(view.Stats.RuntimeSpread) != 1 {
		t.Fatalf("expected runtime spread for the group, got %+v", view.Stats)
	}
	spread := view.Stats.RuntimeSpread[0]
	testutil.AssertEqual(t, spread.TestcaseRank, 3)
	if math.Abs(spread.Spread-0.3) > 1e-9 {
		t.Fatalf("expected spread 0.3, got %v", spread.Spread)
	}
	testutil.AssertEqual(t, len(view.Stats.Divergent), 0)
	testutil.AssertEqual(t, view.Stats.Repetitions, 2)
}

func TestWatcherAutoAppliesLastSiblingWhenConfigured(t *testing.T) {
	f := newFixture(t, withRepeatDecision(service.RepeatDecisionAutoApply))
	ctx := context.Background()
	f.addJudged(1, model.VerdictCorrect)

	createFor(t, f, model.Criteria{IncludeAll: true}, model.CreateOptions{Actor: admin(1), Repeat: 2, AutoApply: true})
	f.judge(nil, nil)
	testutil.AssertNoError(t, f.svc.Sweep(ctx))
	newIDs := f.judge(nil, nil)
	testutil.AssertNoError(t, f.svc.Sweep(ctx))

	open, err := f.store.ListRejudgings(ctx, nil, repository.RejudgingFilter{OpenOnly: true})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(open), 0)
	testutil.AssertEqual(t, f.validJudgings(t, 1), newIDs)
}

func TestPlanFromTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addJudged(1, model.VerdictWrongAnswer)

	_, err := f.svc.PlanFromTable(ctx, service.TableRequest{Table: "balloon", ID: "1", Actor: jury(7)})
	testutil.AssertTrue(t, appErr.Is(err, appErr.UnknownRejudgeTable), "unknown table must be rejected")
	_, err = f.svc.PlanFromTable(ctx, service.TableRequest{Table: service.TableTeam, Actor: jury(7)})
	testutil.AssertTrue(t, appErr.Is(err, appErr.ValidationFailed), "missing id must be rejected")
	_, err = f.svc.PlanFromTable(ctx, service.TableRequest{Table: service.TableTeam, ID: "5", IncludeAll: true, Actor: jury(7)})
	testutil.AssertTrue(t, appErr.Is(err, appErr.InsufficientPermission), "include all needs admin")
	_, err = f.svc.PlanFromTable(ctx, service.TableRequest{Table: service.TableRejudging, ID: "42", Actor: jury(7)})
	testutil.AssertTrue(t, appErr.Is(err, appErr.RejudgingNotFound), "missing source rejudging must be reported")

	plan, err := f.svc.PlanFromTable(ctx, service.TableRequest{Table: service.TableTeam, ID: "5", Actor: jury(7)})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, plan.Options.Reason, "team: 5")
	testutil.AssertEqual(t, plan.Criteria.Teams, []int64{5})
	testutil.AssertFalse(t, plan.Criteria.IncludeAll, "include all is off by default")

	plan, err = f.svc.PlanFromTable(ctx, service.TableRequest{Table: service.TableSubmission, ID: "1", Actor: admin(1)})
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, plan.Criteria.IncludeAll, "admins rejudge single submissions whatever their verdict")

	result, _ := createFor(t, f, model.Criteria{}, model.CreateOptions{Reason: "original reason"})
	plan, err = f.svc.PlanFromTable(ctx, service.TableRequest{Table: service.TableRejudging, ID: "1", AutoApply: true, Reason: "ignored", Actor: jury(7)})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, plan.Source.ID, result.Rejudging.ID)
	testutil.AssertEqual(t, plan.Options.Reason, "original reason")
	testutil.AssertFalse(t, plan.Options.AutoApply, "re-runs are never auto-applied")
	testutil.AssertTrue(t, plan.Criteria.IncludeAll, "re-runs include every verdict")
}

func TestCreateFromTableReturnsSourceWhenAllSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addJudged(1, model.VerdictWrongAnswer)
	result, _ := createFor(t, f, model.Criteria{}, model.CreateOptions{})
	f.judge(nil, nil)

	plan, err := f.svc.PlanFromTable(ctx, service.TableRequest{Table: service.TableRejudging, ID: "1", Actor: jury(7)})
	testutil.AssertNoError(t, err)
	rec := &recorder{}
	rerun, err := f.svc.CreateFromTable(ctx, plan, rec)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, rerun.Rejudging.ID, result.Rejudging.ID)
	testutil.AssertEqual(t, len(rerun.Skipped), 1)
	testutil.AssertEqual(t, len(rec.terminals()), 1)

	testutil.AssertNoError(t, f.svc.FinishRejudging(ctx, result.Rejudging.ID, model.ActionApply, jury(9), &recorder{}))
	rerun, err = f.svc.CreateFromTable(ctx, plan, &recorder{})
	testutil.AssertNoError(t, err)
	if rerun.Rejudging == nil || rerun.Rejudging.ID == result.Rejudging.ID {
		t.Fatalf("expected a new rejudging once the source is finished, got %+v", rerun.Rejudging)
	}
	testutil.AssertEqual(t, rerun.Rejudging.Reason, result.Rejudging.Reason)
}
