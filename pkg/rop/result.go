package rop

import (
	"time"

	"github.com/google/uuid"
)

type state uint8

const (
	stateEmpty state = iota
	stateSuccess
	stateFail
	stateCancel
)

// Result is the outcome of one unit of work. Every Result gets its own id,
// which is what log lines use to tie a task's start to its completion.
type Result[T any] struct {
	id        uuid.UUID
	createdAt time.Time
	result    T
	err       error
	state     state
}

func Success[T any](r T) Result[T] {
	return Result[T]{
		id:        uuid.New(),
		createdAt: time.Now().UTC(),
		result:    r,
		state:     stateSuccess,
	}
}

func Fail[T any](err error) Result[T] {
	return Result[T]{
		id:        uuid.New(),
		createdAt: time.Now().UTC(),
		err:       err,
		state:     stateFail,
	}
}

func Cancel[T any](err error) Result[T] {
	return Result[T]{
		id:        uuid.New(),
		createdAt: time.Now().UTC(),
		err:       err,
		state:     stateCancel,
	}
}

// FailFrom builds a failed Result from err, classifying context
// cancellation and deadline errors as a cancel.
func FailFrom[T any](err error) Result[T] {
	if IsCancellationError(err) {
		return Cancel[T](err)
	}
	return Fail[T](err)
}

// CancelFrom carries a non-successful Result over to another value type,
// keeping its id and creation time.
func CancelFrom[In, Out any](from Result[In]) Result[Out] {
	return Result[Out]{
		id:        from.id,
		createdAt: from.createdAt,
		err:       from.err,
		state:     from.state,
	}
}

func (r Result[T]) Result() T {
	return r.result
}

func (r Result[T]) Err() error {
	return r.err
}

func (r Result[T]) IsSuccess() bool {
	return r.state == stateSuccess
}

func (r Result[T]) IsFailure() bool {
	return r.state == stateFail || r.state == stateCancel
}

func (r Result[T]) IsCancel() bool {
	return r.state == stateCancel
}

func (r Result[T]) HasResult() bool {
	return r.state == stateSuccess
}

func (r Result[T]) IsEmpty() bool {
	return r.state == stateEmpty
}

func (r Result[T]) CreatedAt() time.Time {
	return r.createdAt
}

func (r Result[T]) Id() uuid.UUID {
	return r.id
}
