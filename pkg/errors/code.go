package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13099: Submission errors
// 13100-13199: Queue & worker errors
// 13200-13299: Execution outcome codes (informational, never returned to the client)

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError ErrorCode = 10100

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202

	// Storage errors (10400-10499)
	StorageError ErrorCode = 10400

	// Message queue errors (10500-10599)
	MessageQueueError ErrorCode = 10500

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Submission Errors (13000-13099) ==========

	TaskNotFound         ErrorCode = 13000
	TaskCreateFailed     ErrorCode = 13001
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003
	InputTooLarge        ErrorCode = 13004

	// ========== Queue & Worker Errors (13100-13199) ==========

	QueueUnavailable  ErrorCode = 13100
	DequeueFailed     ErrorCode = 13101
	ResultStoreFailed ErrorCode = 13102
	PoisonTask        ErrorCode = 13103
	ConsumerConflict  ErrorCode = 13104

	// ========== Execution Outcomes (13200-13299) ==========

	CompilationError  ErrorCode = 13200
	TimeLimitExceeded ErrorCode = 13201
	ExecutorFailure   ErrorCode = 13202
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	DatabaseError:     "Database operation failed",
	CacheError:        "Cache operation failed",
	CacheMiss:         "Cache miss",
	CacheSetFailed:    "Failed to set cache",
	StorageError:      "Object storage operation failed",
	MessageQueueError: "Message queue operation failed",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Submission
	TaskNotFound:         "Task not found",
	TaskCreateFailed:     "Failed to create task",
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",
	InputTooLarge:        "Input is too large",

	// Queue & worker
	QueueUnavailable:  "Task queue is unavailable, please try again later",
	DequeueFailed:     "Failed to dequeue task",
	ResultStoreFailed: "Failed to store task result",
	PoisonTask:        "Task exceeded its delivery attempts",
	ConsumerConflict:  "Consumer name is held by another live worker",

	// Execution
	CompilationError:  "Compilation error",
	TimeLimitExceeded: "Time limit exceeded",
	ExecutorFailure:   "Executor internal error",
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
	case c == NotFound, c == TaskNotFound:
		return 404
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable, c == QueueUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == CodeTooLarge, c == LanguageNotSupported, c == InputTooLarge:
		return 400
	case c == Timeout:
		return 504
	default:
		return 500
	}
}
