package schema

import (
	"errors"
	"fmt"
)

// DiscoveryError is the failure of one object class during discovery
type DiscoveryError struct {
	Class ObjectClass
	Cause error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery of %s failed: %v", e.Class, e.Cause)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Cause
}

// Result is the tagged outcome of enumerating one class: items or an error, never both
type Result[T any] struct {
	Items []T
	Err   *DiscoveryError
}

// OK reports whether the class was enumerated successfully
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// resultOf builds a Result from a fetch outcome
func resultOf[T any](class ObjectClass, items []T, err error) Result[T] {
	if err != nil {
		return Result[T]{Items: []T{}, Err: &DiscoveryError{Class: class, Cause: err}}
	}
	if items == nil {
		items = []T{}
	}
	return Result[T]{Items: items}
}

// unsupported builds a failed Result for a class the server cannot enumerate
func unsupported[T any](class ObjectClass, reason string) Result[T] {
	return Result[T]{Items: []T{}, Err: &DiscoveryError{Class: class, Cause: errors.New(reason)}}
}
