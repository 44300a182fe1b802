package errors

// ErrorClassification tells callers whether an operation may succeed if retried.
type ErrorClassification string

const (
	// ClassificationRetryable marks transient failures such as storage outages.
	ClassificationRetryable ErrorClassification = "RETRYABLE"

	// ClassificationPermanent marks failures that will repeat on retry.
	ClassificationPermanent ErrorClassification = "PERMANENT"
)

// IsRetryable reports whether the classification is retryable.
func (c ErrorClassification) IsRetryable() bool {
	return c == ClassificationRetryable
}

var defaultClassifications = map[ErrorCode]ErrorClassification{
	CodeStorage:     ClassificationRetryable,
	CodeNetwork:     ClassificationRetryable,
	CodeTimeout:     ClassificationRetryable,
	CodeUnavailable: ClassificationRetryable,
	CodeLocked:      ClassificationRetryable,
	CodeConflict:    ClassificationRetryable, // conditional writes can be re-attempted

	CodeNotFound:       ClassificationPermanent,
	CodeAlreadyExists:  ClassificationPermanent,
	CodeUnauthorized:   ClassificationPermanent,
	CodeForbidden:      ClassificationPermanent,
	CodeInvalidInput:   ClassificationPermanent,
	CodeInvalidConfig:  ClassificationPermanent,
	CodeConfigLoad:     ClassificationPermanent,
	CodeTransport:      ClassificationPermanent,
	CodeInternal:       ClassificationPermanent,
	CodeNotImplemented: ClassificationPermanent,
	CodeUnknown:        ClassificationPermanent,
}

func getDefaultClassification(code ErrorCode) ErrorClassification {
	if class, ok := defaultClassifications[code]; ok {
		return class
	}
	return ClassificationPermanent
}
