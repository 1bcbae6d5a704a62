package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"rejudge/internal/common/db"
	"rejudge/internal/rejudge/model"
)

// MySQLStore implements Store with MySQL.
type MySQLStore struct {
	db db.Database
}

// NewMySQLStore creates a MySQL backed store.
func NewMySQLStore(database db.Database) *MySQLStore {
	return &MySQLStore{db: database}
}

const maxTxAttempts = 3

const (
	contestColumns    = "contest_id, name, start_time, end_time, active"
	submissionColumns = "submission_id, contest_id, problem_id, language_id, team_id, submit_time, rejudging_id"
	judgingColumns    = "judging_id, submission_id, contest_id, result, valid, start_time, end_time, judgehost, rejudging_id, original_judging_id"
	rejudgingColumns  = "rejudging_id, reason, priority, auto_apply, repeat_count, repeated_rejudging_id, start_time, end_time, start_user_id, finish_user_id, valid"
)

// Transaction runs fn inside a database transaction. A transaction chosen as a
// deadlock victim is run again, up to maxTxAttempts times in total.
func (s *MySQLStore) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.db.Transaction(ctx, fn)
		if err == nil || !db.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

// ListActiveContests returns the contests currently open for rejudging.
func (s *MySQLStore) ListActiveContests(ctx context.Context, tx db.Transaction) ([]model.Contest, error) {
	query := "SELECT " + contestColumns + " FROM contests WHERE active = 1 ORDER BY contest_id"
	rows, err := db.GetQuerier(s.db, tx).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contests []model.Contest
	for rows.Next() {
		var c model.Contest
		if err := rows.Scan(&c.ID, &c.Name, &c.StartTime, &c.EndTime, &c.Active); err != nil {
			return nil, err
		}
		contests = append(contests, c)
	}
	return contests, rows.Err()
}

// GetContest retrieves a contest by id.
func (s *MySQLStore) GetContest(ctx context.Context, tx db.Transaction, contestID int64) (*model.Contest, error) {
	query := "SELECT " + contestColumns + " FROM contests WHERE contest_id = ? LIMIT 1"
	var c model.Contest
	err := db.GetQuerier(s.db, tx).QueryRow(ctx, query, contestID).Scan(&c.ID, &c.Name, &c.StartTime, &c.EndTime, &c.Active)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrContestNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindCandidates returns valid judgings matching filter, joined with their submissions.
func (s *MySQLStore) FindCandidates(ctx context.Context, tx db.Transaction, filter *model.JudgingFilter) ([]model.Candidate, error) {
	if filter == nil {
		return nil, errors.New("filter is required")
	}
	var (
		conds = []string{"j.valid = 1"}
		args  []interface{}
	)
	addIn := func(column string, n int) {
		if n > 0 {
			conds = append(conds, inClause(column, n))
		}
	}
	addIn("j.contest_id", len(filter.ContestIDs))
	args = appendArgs(args, filter.ContestIDs)
	addIn("s.problem_id", len(filter.ProblemIDs))
	args = appendArgs(args, filter.ProblemIDs)
	addIn("s.language_id", len(filter.LanguageIDs))
	args = appendArgs(args, filter.LanguageIDs)
	addIn("s.team_id", len(filter.TeamIDs))
	args = appendArgs(args, filter.TeamIDs)
	addIn("j.judgehost", len(filter.Judgehosts))
	args = appendArgs(args, filter.Judgehosts)
	addIn("j.result", len(filter.Verdicts))
	args = appendArgs(args, filter.Verdicts)
	addIn("s.submission_id", len(filter.SubmissionIDs))
	args = appendArgs(args, filter.SubmissionIDs)
	if len(filter.RejudgingIDs) > 0 {
		conds = append(conds, "EXISTS (SELECT 1 FROM judgings j2 WHERE j2.submission_id = s.submission_id AND "+
			inClause("j2.rejudging_id", len(filter.RejudgingIDs))+")")
		args = appendArgs(args, filter.RejudgingIDs)
	}
	if filter.SubmittedBefore != nil {
		conds = append(conds, "s.submit_time <= ?")
		args = append(args, *filter.SubmittedBefore)
	}
	if filter.SubmittedAfter != nil {
		conds = append(conds, "s.submit_time >= ?")
		args = append(args, *filter.SubmittedAfter)
	}
	if filter.IncludeAll {
		conds = append(conds, "j.result IS NOT NULL")
	} else {
		conds = append(conds, "j.result <> ?")
		args = append(args, model.VerdictCorrect)
	}

	query := `
		SELECT j.judging_id, j.submission_id, j.contest_id, j.result, j.valid, j.start_time, j.end_time,
		       j.judgehost, j.rejudging_id, j.original_judging_id,
		       s.contest_id, s.problem_id, s.language_id, s.team_id, s.submit_time, s.rejudging_id
		FROM judgings j
		JOIN submissions s ON s.submission_id = j.submission_id
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY j.judging_id`
	rows, err := db.GetQuerier(s.db, tx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []model.Candidate
	for rows.Next() {
		var (
			c         model.Candidate
			judgehost *string
		)
		if err := rows.Scan(
			&c.Judging.ID,
			&c.Judging.SubmissionID,
			&c.Judging.ContestID,
			&c.Judging.Result,
			&c.Judging.Valid,
			&c.Judging.StartTime,
			&c.Judging.EndTime,
			&judgehost,
			&c.Judging.RejudgingID,
			&c.Judging.OriginalJudgingID,
			&c.Submission.ContestID,
			&c.Submission.ProblemID,
			&c.Submission.LanguageID,
			&c.Submission.TeamID,
			&c.Submission.SubmitTime,
			&c.Submission.RejudgingID,
		); err != nil {
			return nil, err
		}
		if judgehost != nil {
			c.Judging.Judgehost = *judgehost
		}
		c.Submission.ID = c.Judging.SubmissionID
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// CreateRejudging inserts a rejudging and returns its id.
func (s *MySQLStore) CreateRejudging(ctx context.Context, tx db.Transaction, rejudging *model.Rejudging) (int64, error) {
	if rejudging == nil {
		return 0, errors.New("rejudging is nil")
	}
	if rejudging.RepeatCount < 1 {
		return 0, errors.New("repeat count must be at least 1")
	}
	query := `
		INSERT INTO rejudgings
		(reason, priority, auto_apply, repeat_count, repeated_rejudging_id, start_time, start_user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := db.GetQuerier(s.db, tx).Exec(
		ctx,
		query,
		rejudging.Reason,
		int(rejudging.Priority),
		rejudging.AutoApply,
		rejudging.RepeatCount,
		rejudging.RepeatedRejudgingID,
		rejudging.StartTime,
		rejudging.StartUserID,
	)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	rejudging.ID = id
	return id, nil
}

// SetRepeatedRejudging stores the repeat chain id of a rejudging.
func (s *MySQLStore) SetRepeatedRejudging(ctx context.Context, tx db.Transaction, rejudgingID, groupID int64) error {
	query := "UPDATE rejudgings SET repeated_rejudging_id = ? WHERE rejudging_id = ?"
	result, err := db.GetQuerier(s.db, tx).Exec(ctx, query, groupID, rejudgingID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRejudgingNotFound
	}
	return nil
}

// GetRejudging retrieves a rejudging by id.
func (s *MySQLStore) GetRejudging(ctx context.Context, tx db.Transaction, rejudgingID int64) (*model.Rejudging, error) {
	query := "SELECT " + rejudgingColumns + " FROM rejudgings WHERE rejudging_id = ? LIMIT 1"
	r, err := scanRejudging(db.GetQuerier(s.db, tx).QueryRow(ctx, query, rejudgingID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrRejudgingNotFound
		}
		return nil, err
	}
	return r, nil
}

// ListRejudgings returns rejudgings newest first.
func (s *MySQLStore) ListRejudgings(ctx context.Context, tx db.Transaction, filter RejudgingFilter) ([]model.Rejudging, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.OpenOnly {
		conds = append(conds, "r.end_time IS NULL")
	}
	if filter.ContestID != nil {
		conds = append(conds, `(EXISTS (SELECT 1 FROM judgings j WHERE j.rejudging_id = r.rejudging_id AND j.contest_id = ?)
			OR EXISTS (SELECT 1 FROM submissions s WHERE s.rejudging_id = r.rejudging_id AND s.contest_id = ?))`)
		args = append(args, *filter.ContestID, *filter.ContestID)
	}
	query := "SELECT " + prefixColumns("r.", rejudgingColumns) + " FROM rejudgings r"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY r.rejudging_id DESC"
	return s.queryRejudgings(ctx, tx, query, args...)
}

// ListGroup returns the siblings of a repeat chain ordered by id.
func (s *MySQLStore) ListGroup(ctx context.Context, tx db.Transaction, groupID int64) ([]model.Rejudging, error) {
	query := "SELECT " + rejudgingColumns + " FROM rejudgings WHERE repeated_rejudging_id = ? ORDER BY rejudging_id"
	return s.queryRejudgings(ctx, tx, query, groupID)
}

func (s *MySQLStore) queryRejudgings(ctx context.Context, tx db.Transaction, query string, args ...interface{}) ([]model.Rejudging, error) {
	rows, err := db.GetQuerier(s.db, tx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rejudgings []model.Rejudging
	for rows.Next() {
		r, err := scanRejudging(rows)
		if err != nil {
			return nil, err
		}
		rejudgings = append(rejudgings, *r)
	}
	return rejudgings, rows.Err()
}

// CloseRejudging sets end time and validity only while the rejudging is open.
func (s *MySQLStore) CloseRejudging(ctx context.Context, tx db.Transaction, rejudgingID int64, valid bool, finishUserID *int64, endTime time.Time) (bool, error) {
	query := `
		UPDATE rejudgings
		SET end_time = ?, valid = ?, finish_user_id = ?
		WHERE rejudging_id = ? AND end_time IS NULL
	`
	return execChanged(ctx, db.GetQuerier(s.db, tx), query, endTime, valid, finishUserID, rejudgingID)
}

// GetSubmission retrieves a submission, locking the row inside a transaction.
func (s *MySQLStore) GetSubmission(ctx context.Context, tx db.Transaction, submissionID int64) (*model.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE submission_id = ? LIMIT 1"
	if tx != nil {
		query += " FOR UPDATE"
	}
	var sub model.Submission
	err := db.GetQuerier(s.db, tx).QueryRow(ctx, query, submissionID).Scan(
		&sub.ID,
		&sub.ContestID,
		&sub.ProblemID,
		&sub.LanguageID,
		&sub.TeamID,
		&sub.SubmitTime,
		&sub.RejudgingID,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// AttachSubmission links a submission that has no open rejudging.
func (s *MySQLStore) AttachSubmission(ctx context.Context, tx db.Transaction, submissionID, rejudgingID int64) (bool, error) {
	query := "UPDATE submissions SET rejudging_id = ? WHERE submission_id = ? AND rejudging_id IS NULL"
	return execChanged(ctx, db.GetQuerier(s.db, tx), query, rejudgingID, submissionID)
}

// DetachSubmission unlinks a submission only if it is linked to rejudgingID.
func (s *MySQLStore) DetachSubmission(ctx context.Context, tx db.Transaction, submissionID, rejudgingID int64) (bool, error) {
	query := "UPDATE submissions SET rejudging_id = NULL WHERE submission_id = ? AND rejudging_id = ?"
	return execChanged(ctx, db.GetQuerier(s.db, tx), query, submissionID, rejudgingID)
}

// ListAttachedSubmissions returns the ids of submissions linked to the rejudging.
func (s *MySQLStore) ListAttachedSubmissions(ctx context.Context, tx db.Transaction, rejudgingID int64) ([]int64, error) {
	query := "SELECT submission_id FROM submissions WHERE rejudging_id = ? ORDER BY submission_id"
	rows, err := db.GetQuerier(s.db, tx).Query(ctx, query, rejudgingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListRejudgingJudgings returns the judgings spawned by a rejudging ordered by id.
func (s *MySQLStore) ListRejudgingJudgings(ctx context.Context, tx db.Transaction, rejudgingID int64) ([]model.Judging, error) {
	query := "SELECT " + judgingColumns + " FROM judgings WHERE rejudging_id = ? ORDER BY judging_id"
	return s.queryJudgings(ctx, tx, query, rejudgingID)
}

// GetJudgings loads judgings by id. Unknown ids are absent from the result.
func (s *MySQLStore) GetJudgings(ctx context.Context, tx db.Transaction, judgingIDs []int64) (map[int64]model.Judging, error) {
	result := make(map[int64]model.Judging, len(judgingIDs))
	if len(judgingIDs) == 0 {
		return result, nil
	}
	query := "SELECT " + judgingColumns + " FROM judgings WHERE " + inClause("judging_id", len(judgingIDs))
	judgings, err := s.queryJudgings(ctx, tx, query, appendArgs(nil, judgingIDs)...)
	if err != nil {
		return nil, err
	}
	for _, j := range judgings {
		result[j.ID] = j
	}
	return result, nil
}

func (s *MySQLStore) queryJudgings(ctx context.Context, tx db.Transaction, query string, args ...interface{}) ([]model.Judging, error) {
	rows, err := db.GetQuerier(s.db, tx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var judgings []model.Judging
	for rows.Next() {
		var (
			j         model.Judging
			judgehost *string
		)
		if err := rows.Scan(
			&j.ID,
			&j.SubmissionID,
			&j.ContestID,
			&j.Result,
			&j.Valid,
			&j.StartTime,
			&j.EndTime,
			&judgehost,
			&j.RejudgingID,
			&j.OriginalJudgingID,
		); err != nil {
			return nil, err
		}
		if judgehost != nil {
			j.Judgehost = *judgehost
		}
		judgings = append(judgings, j)
	}
	return judgings, rows.Err()
}

// ListJudgingRuns loads the runs of the judgings ordered by testcase rank.
func (s *MySQLStore) ListJudgingRuns(ctx context.Context, tx db.Transaction, judgingIDs []int64) (map[int64][]model.JudgingRun, error) {
	result := make(map[int64][]model.JudgingRun, len(judgingIDs))
	if len(judgingIDs) == 0 {
		return result, nil
	}
	query := "SELECT judging_id, testcase_rank, result, runtime FROM judging_runs WHERE " +
		inClause("judging_id", len(judgingIDs)) + " ORDER BY judging_id, testcase_rank"
	rows, err := db.GetQuerier(s.db, tx).Query(ctx, query, appendArgs(nil, judgingIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var run model.JudgingRun
		if err := rows.Scan(&run.JudgingID, &run.TestcaseRank, &run.Result, &run.Runtime); err != nil {
			return nil, err
		}
		result[run.JudgingID] = append(result[run.JudgingID], run)
	}
	return result, rows.Err()
}

// SetJudgingValid flips valid from `from` to `to`.
func (s *MySQLStore) SetJudgingValid(ctx context.Context, tx db.Transaction, judgingID int64, from, to bool) (bool, error) {
	query := "UPDATE judgings SET valid = ? WHERE judging_id = ? AND valid = ?"
	return execChanged(ctx, db.GetQuerier(s.db, tx), query, to, judgingID, from)
}

// CountTodo counts finished judgings under the rejudging and attached submissions still waiting for one.
func (s *MySQLStore) CountTodo(ctx context.Context, tx db.Transaction, rejudgingID int64) (model.Todo, error) {
	querier := db.GetQuerier(s.db, tx)
	var todo model.Todo
	doneQuery := "SELECT COUNT(*) FROM judgings WHERE rejudging_id = ? AND end_time IS NOT NULL"
	if err := querier.QueryRow(ctx, doneQuery, rejudgingID).Scan(&todo.Done); err != nil {
		return model.Todo{}, err
	}
	todoQuery := `
		SELECT COUNT(*) FROM submissions s
		WHERE s.rejudging_id = ?
		  AND NOT EXISTS (
		      SELECT 1 FROM judgings j
		      WHERE j.submission_id = s.submission_id AND j.rejudging_id = ? AND j.end_time IS NOT NULL
		  )
	`
	if err := querier.QueryRow(ctx, todoQuery, rejudgingID, rejudgingID).Scan(&todo.Todo); err != nil {
		return model.Todo{}, err
	}
	return todo, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRejudging(row scanner) (*model.Rejudging, error) {
	var (
		r        model.Rejudging
		priority int
	)
	if err := row.Scan(
		&r.ID,
		&r.Reason,
		&priority,
		&r.AutoApply,
		&r.RepeatCount,
		&r.RepeatedRejudgingID,
		&r.StartTime,
		&r.EndTime,
		&r.StartUserID,
		&r.FinishUserID,
		&r.Valid,
	); err != nil {
		return nil, err
	}
	r.Priority = model.Priority(priority)
	return &r, nil
}

func execChanged(ctx context.Context, querier db.Querier, query string, args ...interface{}) (bool, error) {
	result, err := querier.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func inClause(column string, n int) string {
	return column + " IN (" + strings.TrimSuffix(strings.Repeat("?,", n), ",") + ")"
}

func appendArgs[T any](args []interface{}, values []T) []interface{} {
	for _, v := range values {
		args = append(args, v)
	}
	return args
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, ", ")
}

var _ Store = (*MySQLStore)(nil)
