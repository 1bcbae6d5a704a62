package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13299: Submission & Judge errors
// 13300-13399: Rejudging errors
// 16000-16999: Permission errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Queue & storage errors (10400-10499)
	QueuePublishFailed ErrorCode = 10400
	StorageError       ErrorCode = 10401

	// ========== Submission & Judge Errors (13000-13299) ==========

	SubmissionNotFound ErrorCode = 13000
	JudgingNotFound    ErrorCode = 13001
	ContestNotFound    ErrorCode = 13002

	// ========== Rejudging Errors (13300-13399) ==========

	RejudgingNotFound   ErrorCode = 13300
	RejudgingIncomplete ErrorCode = 13301
	RejudgingFinished   ErrorCode = 13302
	RejudgingBusy       ErrorCode = 13303
	SelectionInvalid    ErrorCode = 13304
	UnknownRejudgeTable ErrorCode = 13305
	ReportNotArchived   ErrorCode = 13306

	// ========== Permission Errors (16000-16999) ==========

	PermissionDenied       ErrorCode = 16000
	InsufficientPermission ErrorCode = 16001
)

var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	CacheError: "Cache operation failed",
	LockFailed: "Failed to acquire lock",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	QueuePublishFailed: "Failed to publish to task queue",
	StorageError:       "Object storage operation failed",

	SubmissionNotFound: "Submission not found",
	JudgingNotFound:    "Judging not found",
	ContestNotFound:    "Contest not found",

	RejudgingNotFound:   "Rejudging not found",
	RejudgingIncomplete: "Rejudging still has unfinished judgings",
	RejudgingFinished:   "Rejudging is already finished",
	RejudgingBusy:       "Another operation is running on this rejudging",
	SelectionInvalid:    "Invalid rejudging selection",
	UnknownRejudgeTable: "Unknown table in rejudging",
	ReportNotArchived:   "Rejudging report is not archived",

	PermissionDenied:       "Permission denied",
	InsufficientPermission: "Insufficient permission",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized:
		return 401
	case c == Forbidden, c >= 16000 && c < 17000:
		return 403
	case c == NotFound, c == RecordNotFound, c == SubmissionNotFound, c == JudgingNotFound,
		c == ContestNotFound, c == RejudgingNotFound, c == ReportNotArchived:
		return 404
	case c == RejudgingIncomplete, c == RejudgingFinished, c == RejudgingBusy:
		return 409
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400:
		return 400
	case c == InvalidParams, c == SelectionInvalid, c == UnknownRejudgeTable:
		return 400
	default:
		return 500
	}
}
