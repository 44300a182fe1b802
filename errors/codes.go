package errors

// ErrorCode identifies an error condition.
// Codes are strings so they read well in logs and JSON.
type ErrorCode string

const (
	// Resource errors.

	// CodeNotFound indicates a repository, branch, path or key does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeAlreadyExists indicates a repository already exists at the target prefix.
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// CodeConflict indicates a conditional write lost against a concurrent writer.
	CodeConflict ErrorCode = "CONFLICT"

	// CodeLocked indicates the repository write lease is held by someone else.
	CodeLocked ErrorCode = "REPOSITORY_LOCKED"

	// Permission errors.

	// CodeUnauthorized indicates missing or invalid credentials.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeForbidden indicates the storage backend or policy denied access.
	CodeForbidden ErrorCode = "FORBIDDEN"

	// Validation errors.

	// CodeInvalidInput indicates malformed input such as a bad repository name.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidConfig indicates a configuration value is missing or invalid.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"

	// CodeConfigLoad indicates a configuration file could not be loaded or decoded.
	CodeConfigLoad ErrorCode = "CONFIG_LOAD_FAILED"

	// Infrastructure errors.

	// CodeStorage indicates an object store call failed for a reason other
	// than a missing key.
	CodeStorage ErrorCode = "STORAGE_ERROR"

	// CodeNetwork indicates a network operation failed.
	CodeNetwork ErrorCode = "NETWORK_ERROR"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeUnavailable indicates a dependency is temporarily unavailable.
	CodeUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Execution errors.

	// CodeTransport indicates a git transport subprocess failed to run or
	// exited non-zero.
	CodeTransport ErrorCode = "TRANSPORT_FAILED"

	// System errors.

	// CodeInternal indicates an internal invariant was violated.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeNotImplemented indicates the operation is not supported.
	CodeNotImplemented ErrorCode = "NOT_IMPLEMENTED"

	// CodeUnknown indicates an unclassified error.
	CodeUnknown ErrorCode = "UNKNOWN"
)
