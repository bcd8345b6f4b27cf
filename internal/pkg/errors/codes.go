package errors

import "net/http"

// Node error codes. Errors contain code + params; handlers translate
// conflict codes into "conflict" responses and NODE_NOT_FOUND into
// "not found"; everything else is internal and must not leak storage
// detail.
const (
	CodeNodeNotFound          = "NODE_NOT_FOUND"
	CodeNodeAlreadyExists     = "NODE_ALREADY_EXISTS"
	CodeNodeAlreadyLocked     = "NODE_ALREADY_LOCKED"
	CodeOptimisticCheckFailed = "OPTIMISTIC_CHECK_FAILED"
)

// Protocol error codes. These are programmer errors, never retried or
// coerced.
const (
	CodeIdentityMismatch   = "AGGREGATE_IDENTITY_MISMATCH"
	CodeDirtySync          = "SYNC_WITH_UNCOMMITTED_EVENTS"
	CodeUnknownLabel       = "UNKNOWN_NODE_LABEL"
	CodeUnsupportedCommand = "UNSUPPORTED_COMMAND"
)

// Infrastructure error codes.
const (
	CodeEventStoreFailure = "EVENT_STORE_FAILURE"
	CodeReadModelFailure  = "READ_MODEL_FAILURE"
	CodeSearchFailure     = "SEARCH_INDEX_FAILURE"
	CodeSchedulerFailure  = "SCHEDULER_FAILURE"
)

// ErrNodeNotFoundf creates a node not found error carrying the offending ref.
func ErrNodeNotFoundf(nodeRef string) *AppError {
	return &AppError{
		Code:       CodeNodeNotFound,
		Message:    "node not found",
		HTTPStatus: http.StatusNotFound,
		Params:     map[string]interface{}{"node_ref": nodeRef},
		Err:        ErrNotFound,
	}
}

// ErrNodeAlreadyExistsf creates a slug/id collision error.
func ErrNodeAlreadyExistsf(nodeRef, slug string) *AppError {
	return &AppError{
		Code:       CodeNodeAlreadyExists,
		Message:    "a node with this slug or id already exists",
		HTTPStatus: http.StatusConflict,
		Params:     map[string]interface{}{"node_ref": nodeRef, "slug": slug},
		Err:        ErrAlreadyExists,
	}
}

// ErrNodeAlreadyLockedf creates an already-locked conflict carrying the
// holder.
func ErrNodeAlreadyLockedf(nodeRef, lockedByRef string) *AppError {
	return &AppError{
		Code:       CodeNodeAlreadyLocked,
		Message:    "node is locked by another actor",
		HTTPStatus: http.StatusConflict,
		Params:     map[string]interface{}{"node_ref": nodeRef, "locked_by_ref": lockedByRef},
		Err:        ErrConflict,
	}
}

// ErrOptimisticCheckFailedf creates a stale-etag conflict with enough
// context for the caller to decide retry vs abort.
func ErrOptimisticCheckFailedf(nodeRef, expectedEtag, actualEtag string) *AppError {
	return &AppError{
		Code:       CodeOptimisticCheckFailed,
		Message:    "read-model write lost an optimistic concurrency race",
		HTTPStatus: http.StatusConflict,
		Params: map[string]interface{}{
			"node_ref":      nodeRef,
			"expected_etag": expectedEtag,
			"actual_etag":   actualEtag,
		},
		Err: ErrConflict,
	}
}

// IsOptimisticCheckFailed reports whether err is a stale-etag conflict.
func IsOptimisticCheckFailed(err error) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Code == CodeOptimisticCheckFailed
}

// IsNodeNotFound reports whether err is a node-not-found error.
func IsNodeNotFound(err error) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Code == CodeNodeNotFound
}
