package rop

import (
	"context"
	"errors"
	"reflect"
)

// IsNil reports whether i is nil, including a nil pointer, map, slice,
// channel or func held in an interface.
func IsNil(i any) bool {
	if i == nil {
		return true
	}
	switch v := reflect.ValueOf(i); v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// GetErrors flattens nested errors.Join trees into their leaf errors, in
// order. Errors wrapped with a single %w are leaves.
func GetErrors(err error) []error {
	if IsNil(err) {
		return []error{}
	}

	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}

	var leaves []error
	for _, e := range joined.Unwrap() {
		leaves = append(leaves, GetErrors(e)...)
	}
	return leaves
}

func IsCancellationError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
