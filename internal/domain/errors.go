package domain

import (
	"errors"
	"fmt"
)

// Category sentinels, used with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
	ErrDisabled      = fmt.Errorf("disabled")
)

// Sentinel errors for the domain layer.
var (
	ErrProviderNotFound   = fmt.Errorf("llm provider not found")
	ErrToolNotFound       = fmt.Errorf("tool not found")
	ErrMemoryUnavailable  = fmt.Errorf("memory provider unavailable")
	ErrMemoryStore        = fmt.Errorf("memory store failed")
	ErrTaskStore          = fmt.Errorf("pending task store failed")
	ErrMaxRounds          = fmt.Errorf("agent reached max rounds")
	ErrPathOutsideSandbox = fmt.Errorf("path is outside sandbox boundary")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrDecryption         = fmt.Errorf("decryption failed")
	ErrPlanInvalid        = fmt.Errorf("execution plan invalid")
	ErrConnector          = fmt.Errorf("connector discovery failed")

	// Resilience errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrServerError     = fmt.Errorf("provider server error")
	ErrEmptyResponse   = fmt.Errorf("provider returned empty output")
	ErrCircuitOpen     = fmt.Errorf("provider circuit open")
	ErrToolFailure     = fmt.Errorf("tool execution failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Tool.Execute")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "memory", "connector"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ProviderError is a model call failure that the dispatcher could not recover
// from. Terminal errors (auth, malformed request) are surfaced to the caller.
type ProviderError struct {
	Model    string
	Terminal bool
	Err      error
}

func (e *ProviderError) Error() string {
	kind := "transient"
	if e.Terminal {
		kind = "terminal"
	}
	return fmt.Sprintf("model %s: %s provider error: %v", e.Model, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTerminalProviderError reports whether err carries a terminal ProviderError.
func IsTerminalProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Terminal
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeProviderNotFound   ErrorCode = "PROVIDER_NOT_FOUND"
	CodeToolNotFound       ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure        ErrorCode = "TOOL_FAILURE"
	CodeMemoryUnavailable  ErrorCode = "MEMORY_UNAVAILABLE"
	CodeMemoryStore        ErrorCode = "MEMORY_STORE"
	CodeTaskStore          ErrorCode = "TASK_STORE"
	CodeMaxRounds          ErrorCode = "MAX_ROUNDS"
	CodePathOutsideSandbox ErrorCode = "PATH_OUTSIDE_SANDBOX"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeDecryption         ErrorCode = "DECRYPTION"
	CodePlanInvalid        ErrorCode = "PLAN_INVALID"
	CodeConnector          ErrorCode = "CONNECTOR"
	CodeContextOverflow    ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
	CodeServerError        ErrorCode = "SERVER_ERROR"
	CodeEmptyResponse      ErrorCode = "EMPTY_RESPONSE"
	CodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeTaskDuplicate     ErrorCode = "TASK_DUPLICATE"
	CodeMemoryDuplicate   ErrorCode = "MEMORY_DUPLICATE"
	CodeConnectorNotFound ErrorCode = "CONNECTOR_NOT_FOUND"
	CodeSearchTimeout     ErrorCode = "SEARCH_TIMEOUT"
	CodeMediaTimeout      ErrorCode = "MEDIA_TIMEOUT"
	CodeScheduleInvalid   ErrorCode = "SCHEDULE_INVALID"
	CodeRepoNotFound      ErrorCode = "REPO_FILE_NOT_FOUND"

	// Category error codes, used when no subsystem-specific code matches.
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeDuplicate     ErrorCode = "DUPLICATE"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeProviderError ErrorCode = "PROVIDER_ERROR"
	CodeDisabled      ErrorCode = "DISABLED"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:      CodeNotFound,
	ErrDuplicate:     CodeDuplicate,
	ErrTimeout:       CodeTimeout,
	ErrInvalidInput:  CodeInvalidInput,
	ErrProviderError: CodeProviderError,
	ErrDisabled:      CodeDisabled,

	ErrProviderNotFound:   CodeProviderNotFound,
	ErrToolNotFound:       CodeToolNotFound,
	ErrToolFailure:        CodeToolFailure,
	ErrMemoryUnavailable:  CodeMemoryUnavailable,
	ErrMemoryStore:        CodeMemoryStore,
	ErrTaskStore:          CodeTaskStore,
	ErrMaxRounds:          CodeMaxRounds,
	ErrPathOutsideSandbox: CodePathOutsideSandbox,
	ErrConfigLoad:         CodeConfigLoad,
	ErrDecryption:         CodeDecryption,
	ErrPlanInvalid:        CodePlanInvalid,
	ErrConnector:          CodeConnector,
	ErrContextOverflow:    CodeContextOverflow,
	ErrRateLimit:          CodeRateLimit,
	ErrAuthInvalid:        CodeAuthInvalid,
	ErrServerError:        CodeServerError,
	ErrEmptyResponse:      CodeEmptyResponse,
	ErrCircuitOpen:        CodeCircuitOpen,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"connector": CodeConnectorNotFound,
		"repo":      CodeRepoNotFound,
	},
	ErrDuplicate: {
		"task":   CodeTaskDuplicate,
		"memory": CodeMemoryDuplicate,
	},
	ErrTimeout: {
		"search": CodeSearchTimeout,
		"media":  CodeMediaTimeout,
	},
	ErrInvalidInput: {
		"schedule": CodeScheduleInvalid,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
