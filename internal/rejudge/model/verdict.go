package model

// Verdict labels produced by the judging pipeline.
const (
	VerdictCorrect       = "correct"
	VerdictCompilerError = "compiler-error"
	VerdictMemoryLimit   = "memory-limit"
	VerdictOutputLimit   = "output-limit"
	VerdictRunError      = "run-error"
	VerdictTimeLimit     = "timelimit"
	VerdictWrongAnswer   = "wrong-answer"
	VerdictNoOutput      = "no-output"
)

// DefaultVerdicts is the canonical verdict order used when none is configured.
var DefaultVerdicts = []string{
	VerdictCorrect,
	VerdictCompilerError,
	VerdictMemoryLimit,
	VerdictOutputLimit,
	VerdictRunError,
	VerdictTimeLimit,
	VerdictWrongAnswer,
	VerdictNoOutput,
}
