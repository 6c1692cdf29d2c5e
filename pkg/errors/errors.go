// Package errors provides the error taxonomy for the analytics core.
//
// Every train/predict failure mode the service can recover from is a typed
// error defined here, created through a New* constructor that attaches a
// stack trace via cockroachdb/errors. The types implement
// zerolog.LogObjectMarshaler so handlers can log them structurally.
package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// NotTrainedError is returned when Predict is called before any successful
// Train, with no persisted bundle available to load.
type NotTrainedError struct {
	ModelName string
	Method    string
}

func (e *NotTrainedError) Error() string {
	return fmt.Sprintf("mlservice: %s: model is not trained yet. Call Train() before using %s()", e.ModelName, e.Method)
}

// MarshalZerologObject adds structured error information to a zerolog event.
func (e *NotTrainedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("method", e.Method).
		Str("type", "NotTrainedError")
}

// NewNotTrainedError creates a NotTrainedError with a stack trace.
func NewNotTrainedError(modelName, method string) error {
	err := &NotTrainedError{ModelName: modelName, Method: method}
	return errors.WithStack(err)
}

// EmptyInputError is returned when a training operation receives no records.
type EmptyInputError struct {
	Op string
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("mlservice: %s: no training records supplied", e.Op)
}

// MarshalZerologObject adds structured error information to a zerolog event.
func (e *EmptyInputError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).Str("type", "EmptyInputError")
}

// NewEmptyInputError creates an EmptyInputError with a stack trace.
func NewEmptyInputError(op string) error {
	err := &EmptyInputError{Op: op}
	return errors.WithStack(err)
}

// UnknownCategoryError is returned when an encoder fitted on one vocabulary
// is asked to transform a categorical value it has never seen. This is an
// error condition, never a silent default.
type UnknownCategoryError struct {
	Field    string
	Category string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("mlservice: unknown category %q for field %q (not present at fit time)", e.Category, e.Field)
}

// MarshalZerologObject adds structured error information to a zerolog event.
func (e *UnknownCategoryError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("field", e.Field).
		Str("category", e.Category).
		Str("type", "UnknownCategoryError")
}

// NewUnknownCategoryError creates an UnknownCategoryError with a stack trace.
func NewUnknownCategoryError(field, category string) error {
	err := &UnknownCategoryError{Field: field, Category: category}
	return errors.WithStack(err)
}

// CustomerNotFoundError is returned by the recommendation engine when the
// requested customer is absent from the trained interaction matrix. The
// engine does not cold-start unseen users.
type CustomerNotFoundError struct {
	CustomerID int
}

func (e *CustomerNotFoundError) Error() string {
	return fmt.Sprintf("mlservice: customer %d not present in the trained interaction matrix", e.CustomerID)
}

// MarshalZerologObject adds structured error information to a zerolog event.
func (e *CustomerNotFoundError) MarshalZerologObject(event *zerolog.Event) {
	event.Int("customer_id", e.CustomerID).Str("type", "CustomerNotFoundError")
}

// NewCustomerNotFoundError creates a CustomerNotFoundError with a stack trace.
func NewCustomerNotFoundError(customerID int) error {
	err := &CustomerNotFoundError{CustomerID: customerID}
	return errors.WithStack(err)
}

// MissingFieldError is returned when a supervised training operation cannot
// find its label or target field in the supplied records.
type MissingFieldError struct {
	Op    string
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("mlservice: %s: required field %q is absent from the training records", e.Op, e.Field)
}

// MarshalZerologObject adds structured error information to a zerolog event.
func (e *MissingFieldError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("field", e.Field).
		Str("type", "MissingFieldError")
}

// NewMissingFieldError creates a MissingFieldError with a stack trace.
func NewMissingFieldError(op, field string) error {
	err := &MissingFieldError{Op: op, Field: field}
	return errors.WithStack(err)
}

// DimensionError is returned when input data dimensions do not match what a
// fitted model expects.
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows, 1 for columns/features
}

func (e *DimensionError) Error() string {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	return fmt.Sprintf("mlservice: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, axisName, e.Expected, e.Got)
}

// MarshalZerologObject adds structured error information to a zerolog event.
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("type", "DimensionError")
}

// NewDimensionError creates a DimensionError with a stack trace.
func NewDimensionError(op string, expected, got, axis int) error {
	err := &DimensionError{Op: op, Expected: expected, Got: got, Axis: axis}
	return errors.WithStack(err)
}

// ValueError is returned when an argument value is invalid or out of range,
// e.g. a non-positive forecast horizon.
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("mlservice: %s: %s", e.Op, e.Message)
}

// MarshalZerologObject adds structured error information to a zerolog event.
func (e *ValueError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("message", e.Message).
		Str("type", "ValueError")
}

// NewValueError creates a ValueError with a stack trace.
func NewValueError(op, message string) error {
	err := &ValueError{Op: op, Message: message}
	return errors.WithStack(err)
}

// ===========================================================================
//
//	cockroachdb/errors wrappers
//
// ===========================================================================

// Is reports whether err matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an existing error with a message.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New creates a new error with a stack trace.
func New(message string) error {
	return errors.New(message)
}

// Newf creates a new formatted error with a stack trace.
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack annotates err with a stack trace.
func WithStack(err error) error {
	return errors.WithStack(err)
}

// IsRecoverable reports whether err belongs to the recoverable taxonomy:
// failures the caller can act on (fix input, train first) as opposed to
// unexpected internal faults such as store I/O errors.
func IsRecoverable(err error) bool {
	var (
		notTrained   *NotTrainedError
		emptyInput   *EmptyInputError
		unknownCat   *UnknownCategoryError
		notFound     *CustomerNotFoundError
		missingField *MissingFieldError
		dimension    *DimensionError
		value        *ValueError
	)
	return errors.As(err, &notTrained) ||
		errors.As(err, &emptyInput) ||
		errors.As(err, &unknownCat) ||
		errors.As(err, &notFound) ||
		errors.As(err, &missingField) ||
		errors.As(err, &dimension) ||
		errors.As(err, &value)
}
