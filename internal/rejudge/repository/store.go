package repository

import (
	"context"
	"errors"
	"time"

	"rejudge/internal/common/db"
	"rejudge/internal/rejudge/model"
)

var (
	ErrRejudgingNotFound  = errors.New("rejudging not found")
	ErrJudgingNotFound    = errors.New("judging not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrContestNotFound    = errors.New("contest not found")
)

// RejudgingFilter narrows ListRejudgings.
type RejudgingFilter struct {
	// ContestID keeps rejudgings that touched a judging or submission of the contest.
	ContestID *int64
	OpenOnly  bool
}

// Store is the persistence boundary of the rejudging engine.
// Methods taking a tx run inside it when tx is non-nil.
// Every Set/Attach/Detach/Close method is a compare-and-swap and reports whether it changed a row.
type Store interface {
	Transaction(ctx context.Context, fn func(tx db.Transaction) error) error

	ListActiveContests(ctx context.Context, tx db.Transaction) ([]model.Contest, error)
	GetContest(ctx context.Context, tx db.Transaction, contestID int64) (*model.Contest, error)

	// FindCandidates returns valid judgings matching filter, joined with their submissions.
	FindCandidates(ctx context.Context, tx db.Transaction, filter *model.JudgingFilter) ([]model.Candidate, error)

	CreateRejudging(ctx context.Context, tx db.Transaction, rejudging *model.Rejudging) (int64, error)
	SetRepeatedRejudging(ctx context.Context, tx db.Transaction, rejudgingID, groupID int64) error
	GetRejudging(ctx context.Context, tx db.Transaction, rejudgingID int64) (*model.Rejudging, error)
	ListRejudgings(ctx context.Context, tx db.Transaction, filter RejudgingFilter) ([]model.Rejudging, error)
	// ListGroup returns the siblings of a repeat chain ordered by id.
	ListGroup(ctx context.Context, tx db.Transaction, groupID int64) ([]model.Rejudging, error)
	// CloseRejudging sets end time and validity only while the rejudging is open.
	CloseRejudging(ctx context.Context, tx db.Transaction, rejudgingID int64, valid bool, finishUserID *int64, endTime time.Time) (bool, error)

	// GetSubmission locks the submission row when tx is non-nil.
	GetSubmission(ctx context.Context, tx db.Transaction, submissionID int64) (*model.Submission, error)
	// AttachSubmission links a submission that has no open rejudging.
	AttachSubmission(ctx context.Context, tx db.Transaction, submissionID, rejudgingID int64) (bool, error)
	// DetachSubmission unlinks a submission only if it is linked to rejudgingID.
	DetachSubmission(ctx context.Context, tx db.Transaction, submissionID, rejudgingID int64) (bool, error)
	ListAttachedSubmissions(ctx context.Context, tx db.Transaction, rejudgingID int64) ([]int64, error)

	// ListRejudgingJudgings returns the judgings spawned by a rejudging ordered by id.
	ListRejudgingJudgings(ctx context.Context, tx db.Transaction, rejudgingID int64) ([]model.Judging, error)
	GetJudgings(ctx context.Context, tx db.Transaction, judgingIDs []int64) (map[int64]model.Judging, error)
	ListJudgingRuns(ctx context.Context, tx db.Transaction, judgingIDs []int64) (map[int64][]model.JudgingRun, error)
	// SetJudgingValid flips valid from `from` to `to`.
	SetJudgingValid(ctx context.Context, tx db.Transaction, judgingID int64, from, to bool) (bool, error)

	// CountTodo counts finished judgings under the rejudging and attached submissions still waiting for one.
	CountTodo(ctx context.Context, tx db.Transaction, rejudgingID int64) (model.Todo, error)
}
