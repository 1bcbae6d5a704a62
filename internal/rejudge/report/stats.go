package report

import (
	"math"
	"slices"
	"sort"
	"strings"

	"rejudge/internal/rejudge/model"
)

// DefaultMaxListLen bounds the divergence and runtime spread lists.
const DefaultMaxListLen = 10

const unknownJudgehost = "unknown"

// Divergence kinds.
const (
	DivergentVerdict = "verdict"
	DivergentRuns    = "runs"
)

// Sample is one finished judging of a repeated group together with its runs.
type Sample struct {
	RejudgingID int64
	Judging     model.Judging
	Runs        []model.JudgingRun
}

// DivergentSubmission is a submission judged differently across repetitions.
type DivergentSubmission struct {
	SubmissionID int64    `json:"submission_id"`
	Kind         string   `json:"kind"`
	Verdicts     []string `json:"verdicts"`
}

// RuntimeSpread is the testcase of a submission whose runtime varied most.
type RuntimeSpread struct {
	SubmissionID int64   `json:"submission_id"`
	TestcaseRank int     `json:"rank"`
	Spread       float64 `json:"spread"`
	Count        int     `json:"count"`
	Verdict      string  `json:"verdict"`
}

// JudgehostStats summarizes the judgings one host produced within a group.
// Runtimes are total testcase runtime per judging in seconds.
type JudgehostStats struct {
	Judgehost     string  `json:"judgehost"`
	Judged        int     `json:"judged"`
	MeanRuntime   float64 `json:"mean_runtime"`
	StddevRuntime float64 `json:"stddev_runtime"`
	MeanDuration  float64 `json:"mean_duration"`
}

// GroupStats is the statistics report of a repeated rejudging group.
type GroupStats struct {
	GroupID              int64                     `json:"group_id"`
	Repetitions          int                       `json:"repetitions"`
	Divergent            []DivergentSubmission     `json:"divergent"`
	DivergentOmitted     int                       `json:"divergent_omitted"`
	RuntimeSpread        []RuntimeSpread           `json:"runtime_spread"`
	RuntimeSpreadOmitted int                       `json:"runtime_spread_omitted"`
	Judgehosts           map[string]JudgehostStats `json:"judgehosts"`
}

// Aggregate computes the statistics of a repeated group from its finished judgings.
// maxListLen <= 0 falls back to DefaultMaxListLen.
func Aggregate(groupID int64, samples []Sample, maxListLen int) *GroupStats {
	if maxListLen <= 0 {
		maxListLen = DefaultMaxListLen
	}
	stats := &GroupStats{
		GroupID:    groupID,
		Judgehosts: make(map[string]JudgehostStats),
	}

	repetitions := make(map[int64]bool)
	bySubmission := make(map[int64][]Sample)
	byHost := make(map[string][]Sample)
	for _, s := range samples {
		repetitions[s.RejudgingID] = true
		bySubmission[s.Judging.SubmissionID] = append(bySubmission[s.Judging.SubmissionID], s)
		host := s.Judging.Judgehost
		if host == "" {
			host = unknownJudgehost
		}
		byHost[host] = append(byHost[host], s)
	}
	stats.Repetitions = len(repetitions)

	submissionIDs := make([]int64, 0, len(bySubmission))
	for id := range bySubmission {
		submissionIDs = append(submissionIDs, id)
	}
	slices.Sort(submissionIDs)

	var (
		divergent []DivergentSubmission
		spreads   []RuntimeSpread
	)
	for _, id := range submissionIDs {
		group := bySubmission[id]
		verdicts := distinctVerdicts(group)
		switch {
		case len(verdicts) > 1:
			divergent = append(divergent, DivergentSubmission{SubmissionID: id, Kind: DivergentVerdict, Verdicts: verdicts})
		case len(verdicts) == 1 && runsDiffer(group):
			divergent = append(divergent, DivergentSubmission{SubmissionID: id, Kind: DivergentRuns, Verdicts: verdicts})
		}
		if spread, ok := widestSpread(id, group); ok {
			spread.Verdict = strings.Join(verdicts, ", ")
			spreads = append(spreads, spread)
		}
	}

	stats.Divergent, stats.DivergentOmitted = truncate(divergent, maxListLen)

	sort.SliceStable(spreads, func(i, j int) bool { return spreads[i].Spread > spreads[j].Spread })
	stats.RuntimeSpread, stats.RuntimeSpreadOmitted = truncate(spreads, maxListLen)

	for host, group := range byHost {
		if len(group) == 0 {
			continue
		}
		stats.Judgehosts[host] = judgehostStats(host, group)
	}
	return stats
}

func distinctVerdicts(group []Sample) []string {
	var verdicts []string
	for _, s := range group {
		v := s.Judging.Verdict()
		if v != "" && !slices.Contains(verdicts, v) {
			verdicts = append(verdicts, v)
		}
	}
	return verdicts
}

func runsDiffer(group []Sample) bool {
	if len(group) < 2 {
		return false
	}
	first := runSignature(group[0].Runs)
	for _, s := range group[1:] {
		if !slices.Equal(first, runSignature(s.Runs)) {
			return true
		}
	}
	return false
}

type runKey struct {
	rank   int
	result string
}

func runSignature(runs []model.JudgingRun) []runKey {
	keys := make([]runKey, len(runs))
	for i, r := range runs {
		keys[i] = runKey{rank: r.TestcaseRank, result: r.Result}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].rank < keys[j].rank })
	return keys
}

// widestSpread finds the testcase with the largest max-min runtime across the group.
// Ties keep the lowest rank.
func widestSpread(submissionID int64, group []Sample) (RuntimeSpread, bool) {
	type bounds struct{ min, max float64 }
	perRank := make(map[int]*bounds)
	for _, s := range group {
		for _, r := range s.Runs {
			b, ok := perRank[r.TestcaseRank]
			if !ok {
				perRank[r.TestcaseRank] = &bounds{min: r.Runtime, max: r.Runtime}
				continue
			}
			b.min = math.Min(b.min, r.Runtime)
			b.max = math.Max(b.max, r.Runtime)
		}
	}
	if len(perRank) == 0 {
		return RuntimeSpread{}, false
	}
	ranks := make([]int, 0, len(perRank))
	for rank := range perRank {
		ranks = append(ranks, rank)
	}
	slices.Sort(ranks)

	best := RuntimeSpread{SubmissionID: submissionID, Spread: -1, Count: len(group)}
	for _, rank := range ranks {
		b := perRank[rank]
		if spread := b.max - b.min; spread > best.Spread {
			best.Spread = spread
			best.TestcaseRank = rank
		}
	}
	return best, true
}

func judgehostStats(host string, group []Sample) JudgehostStats {
	var totalRun, sumSquare, totalDuration float64
	for _, s := range group {
		runtime := 0.0
		for _, r := range s.Runs {
			runtime += r.Runtime
		}
		totalRun += runtime
		sumSquare += runtime * runtime
		totalDuration += s.Judging.Duration().Seconds()
	}
	n := float64(len(group))
	mean := totalRun / n
	variance := sumSquare/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return JudgehostStats{
		Judgehost:     host,
		Judged:        len(group),
		MeanRuntime:   mean,
		StddevRuntime: math.Sqrt(variance),
		MeanDuration:  totalDuration / n,
	}
}

func truncate[T any](items []T, max int) ([]T, int) {
	if len(items) <= max {
		return items, 0
	}
	return items[:max], len(items) - max
}
