package errors

import (
	"errors"
	"fmt"
	"maps"
)

// Wrap wraps err with a code and message. It returns nil when err is nil.
//
// A wrapped PlatformError keeps its classification, so a retryable storage
// failure stays retryable when a higher layer re-labels it.
func Wrap(err error, code ErrorCode, message string) PlatformError {
	return WrapWithContext(err, code, message, nil)
}

// Wrapf wraps err with a formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) PlatformError {
	if err == nil {
		return nil
	}
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// WrapWithContext wraps err and attaches a copy of ctx.
func WrapWithContext(err error, code ErrorCode, message string, ctx map[string]any) PlatformError {
	if err == nil {
		return nil
	}

	classification := getDefaultClassification(code)
	var platformErr PlatformError
	if errors.As(err, &platformErr) {
		classification = platformErr.Classification()
	}

	return &platformError{
		code:           code,
		classification: classification,
		message:        message,
		context:        maps.Clone(ctx),
		cause:          err,
	}
}

// WithContext returns err with key set in its context. Plain errors are
// promoted to CodeUnknown.
func WithContext(err error, key string, value any) PlatformError {
	return WithContextMap(err, map[string]any{key: value})
}

// WithContextMap returns err with every entry of ctx merged into its context.
func WithContextMap(err error, ctx map[string]any) PlatformError {
	if err == nil {
		return nil
	}

	base := promote(err)
	merged := make(map[string]any, len(ctx))
	maps.Copy(merged, base.Context())
	maps.Copy(merged, ctx)

	return &platformError{
		code:           base.Code(),
		classification: base.Classification(),
		message:        base.Message(),
		context:        merged,
		cause:          base.Unwrap(),
	}
}

// WithClassification overrides the classification of err.
func WithClassification(err error, classification ErrorClassification) PlatformError {
	if err == nil {
		return nil
	}

	base := promote(err)
	return &platformError{
		code:           base.Code(),
		classification: classification,
		message:        base.Message(),
		context:        base.Context(),
		cause:          base.Unwrap(),
	}
}

func promote(err error) PlatformError {
	var platformErr PlatformError
	if errors.As(err, &platformErr) {
		return platformErr
	}
	return &platformError{
		code:           CodeUnknown,
		classification: ClassificationPermanent,
		message:        err.Error(),
		cause:          err,
	}
}
