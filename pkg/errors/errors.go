package errors

import (
	stdErrors "errors"
	"fmt"
)

// Category classifies import failures for retry policy and troubleshooting.
type Category string

const (
	CategoryNotFound     Category = "NOT_FOUND"
	CategoryPermission   Category = "PERMISSION_DENIED"
	CategoryStorage      Category = "STORAGE_ERROR"
	CategoryValidation   Category = "VALIDATION_ERROR"
	CategoryIntegrity    Category = "INTEGRITY_CONFLICT"
	CategoryConnectivity Category = "CONNECTIVITY_ERROR"
	CategoryInternal     Category = "INTERNAL_ERROR"
)

// Severity tiers surface through the troubleshooting engine.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Metadata struct {
	Retryable     bool
	Severity      Severity
	PublicMessage string
}

var metadataByCategory = map[Category]Metadata{
	CategoryNotFound: {
		Retryable:     false,
		Severity:      SeverityWarning,
		PublicMessage: "source media not found",
	},
	CategoryPermission: {
		Retryable:     false,
		Severity:      SeverityCritical,
		PublicMessage: "access to source media denied",
	},
	CategoryStorage: {
		Retryable:     true,
		Severity:      SeverityCritical,
		PublicMessage: "storage operation failed",
	},
	CategoryValidation: {
		Retryable:     false,
		Severity:      SeverityWarning,
		PublicMessage: "media metadata invalid",
	},
	CategoryIntegrity: {
		Retryable:     false,
		Severity:      SeverityInfo,
		PublicMessage: "catalog constraint conflict",
	},
	CategoryConnectivity: {
		Retryable:     true,
		Severity:      SeverityWarning,
		PublicMessage: "remote service unreachable",
	},
	CategoryInternal: {
		Retryable:     false,
		Severity:      SeverityCritical,
		PublicMessage: "internal error",
	},
}

func MetadataFor(category Category) Metadata {
	if meta, ok := metadataByCategory[category]; ok {
		return meta
	}
	return metadataByCategory[CategoryInternal]
}

// Categories returns every known category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryNotFound,
		CategoryPermission,
		CategoryStorage,
		CategoryValidation,
		CategoryIntegrity,
		CategoryConnectivity,
		CategoryInternal,
	}
}

type Error struct {
	category Category
	message  string
	details  any
	cause    error
}

func New(category Category, message string) *Error {
	return &Error{category: category, message: message}
}

func Wrap(category Category, err error, message string) *Error {
	if err == nil {
		return New(category, message)
	}
	return &Error{category: category, message: message, cause: err}
}

func (e *Error) Category() Category {
	if e == nil {
		return CategoryInternal
	}
	return e.category
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.category, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CategoryOf resolves the category of any error; untyped errors map to
// CategoryInternal.
func CategoryOf(err error) Category {
	if typed := As(err); typed != nil {
		return typed.Category()
	}
	return CategoryInternal
}

// IsRetryable reports whether the item should be returned to the queue rather
// than failed outright.
func IsRetryable(err error) bool {
	return MetadataFor(CategoryOf(err)).Retryable
}
