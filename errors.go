package watcher

import (
	stderrors "errors"
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	ErrCodeNotStarted        = "WATCHER_NOT_STARTED"
	ErrCodeExecutorRejected  = "WATCHER_EXECUTOR_REJECTED"
	ErrCodeStoreNotStarted   = "WATCHER_STORE_NOT_STARTED"
	ErrCodeHistoryConflict   = "WATCHER_HISTORY_CONFLICT"
	ErrCodeLockSealed        = "WATCHER_LOCK_SEALED"
	ErrCodeRegistrySealed    = "WATCHER_REGISTRY_SEALED"
	ErrCodeInvalidPhase      = "WATCHER_INVALID_PHASE"
	ErrCodeInvalidWid        = "WATCHER_INVALID_WID"
	ErrCodeInvalidConfig     = "WATCHER_INVALID_CONFIG"
	ErrCodeStatusConflict    = "WATCHER_STATUS_CONFLICT"
	ErrCodeUnexpectedFailure = "WATCHER_UNEXPECTED_FAILURE"
)

var (
	ErrNotStarted = errors.New("execution service not started", errors.CategoryConflict).
			WithTextCode(ErrCodeNotStarted)
	ErrExecutorRejected = errors.New("executor rejected task", errors.CategoryHandler).
				WithTextCode(ErrCodeExecutorRejected)
	ErrStoreNotStarted = errors.New("store is not ready", errors.CategoryConflict).
				WithTextCode(ErrCodeStoreNotStarted)
	ErrHistoryConflict = errors.New("watch record already exists", errors.CategoryConflict).
				WithTextCode(ErrCodeHistoryConflict)
	ErrLockSealed = errors.New("watch lock service is sealed", errors.CategoryConflict).
			WithTextCode(ErrCodeLockSealed)
	ErrRegistrySealed = errors.New("current executions registry is sealed", errors.CategoryConflict).
				WithTextCode(ErrCodeRegistrySealed)
	ErrInvalidPhase = errors.New("invalid execution phase transition", errors.CategoryBadInput).
			WithTextCode(ErrCodeInvalidPhase)
	ErrInvalidWid = errors.New("invalid watch execution id", errors.CategoryBadInput).
			WithTextCode(ErrCodeInvalidWid)
	ErrInvalidConfig = errors.New("invalid configuration", errors.CategoryValidation).
				WithTextCode(ErrCodeInvalidConfig)
	ErrStatusConflict = errors.New("watch status version conflict", errors.CategoryConflict).
				WithTextCode(ErrCodeStatusConflict)
	ErrUnexpectedFailure = errors.New("unexpected failure", errors.CategoryHandler).
				WithTextCode(ErrCodeUnexpectedFailure)
)

// CloneError copies base and decorates it with a message, source and metadata.
func CloneError(base *errors.Error, message string, source error, metadata map[string]any) *errors.Error {
	if base == nil {
		base = ErrUnexpectedFailure
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the text code of the first watcher error in the chain.
func ErrorCode(err error) string {
	var ge *errors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// HasCode reports whether err carries the given text code.
func HasCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// IsRejected reports whether err signals executor saturation.
func IsRejected(err error) bool {
	return HasCode(err, ErrCodeExecutorRejected)
}

// IsHistoryConflict reports whether err is a duplicate watch record write.
func IsHistoryConflict(err error) bool {
	return HasCode(err, ErrCodeHistoryConflict)
}
