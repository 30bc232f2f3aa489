// Package errors holds the error taxonomy shared by the dispatch core:
// configuration sentinels, typed configuration errors, cancellation
// classification, and the aggregate produced by broadcasting.
package errors

import (
	"context"
	sterrors "errors"
	"fmt"
	"reflect"

	"github.com/hashicorp/go-multierror"
)

var (
	ErrTransportRequired          = sterrors.New("relay: transport is required")
	ErrMiddlewareNotPresent       = sterrors.New("relay: middleware not present in pipeline")
	ErrHandlerNotFound            = sterrors.New("relay: no handler registered")
	ErrInvalidContextData         = sterrors.New("relay: invalid context data")
	ErrInvalidDegreeOfParallelism = sterrors.New("relay: max degree of parallelism must be positive")
	ErrRegistryRequired           = sterrors.New("relay: handler registry is required")
	ErrHandlerRequired            = sterrors.New("relay: handler is required")
	ErrUnexpectedPayload          = sterrors.New("relay: unexpected payload type")
	ErrPublisherRequired          = sterrors.New("relay: publisher is required")
	ErrTopicRequired              = sterrors.New("relay: topic is required")
	ErrConfigRequired             = sterrors.New("relay: configuration is required")
	ErrLoggerRequired             = sterrors.New("relay: logger is required")
)

// AggregateError carries every failure collected while broadcasting an event
// notification. The list is kept exactly as collected.
type AggregateError = multierror.Error

// NewAggregate wraps errs without flattening nested aggregates.
func NewAggregate(errs ...error) *AggregateError {
	collected := make([]error, len(errs))
	copy(collected, errs)
	return &multierror.Error{Errors: collected}
}

// HandlerNotFoundError reports a message dispatched in-process without a
// matching registration.
type HandlerNotFoundError struct {
	PayloadType  reflect.Type
	ResponseType reflect.Type
}

func (e *HandlerNotFoundError) Error() string {
	if e.ResponseType == nil {
		return fmt.Sprintf("relay: no handler registered for %v", e.PayloadType)
	}
	return fmt.Sprintf("relay: no handler registered for %v returning %v", e.PayloadType, e.ResponseType)
}

func (e *HandlerNotFoundError) Unwrap() error { return ErrHandlerNotFound }

// MiddlewareNotPresentError is returned when a pipeline is asked to configure a
// middleware type it does not contain.
type MiddlewareNotPresentError struct {
	Type reflect.Type
}

func (e *MiddlewareNotPresentError) Error() string {
	return fmt.Sprintf("relay: middleware %v not present in pipeline", e.Type)
}

func (e *MiddlewareNotPresentError) Unwrap() error { return ErrMiddlewareNotPresent }

// InvalidContextDataError describes a malformed encoded context data value.
type InvalidContextDataError struct {
	Value  string
	Reason string
}

func (e *InvalidContextDataError) Error() string {
	return fmt.Sprintf("relay: invalid context data %q: %s", e.Value, e.Reason)
}

func (e *InvalidContextDataError) Unwrap() error { return ErrInvalidContextData }

// PanicError wraps a value recovered from a panicking handler or middleware.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("relay: panic recovered: %v", e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsCancellation reports whether err signals cancellation rather than a
// failure of the work itself. Aggregates are never a cancellation, even when
// they contain one.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(*AggregateError); ok {
		return false
	}
	return sterrors.Is(err, context.Canceled) || sterrors.Is(err, context.DeadlineExceeded)
}
