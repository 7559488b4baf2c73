package solo

import (
	"context"

	"github.com/ib-77/sarascript/pkg/rop"
)

func Succeed[T any](input T) rop.Result[T] {
	return rop.Success(input)
}

func Fail[T any](err error) rop.Result[T] {
	return rop.Fail[T](err)
}

// Try runs onTryExecute on a successful input. An error becomes a failed
// Result, or a cancelled one when it came from the context.
func Try[In any, Out any](ctx context.Context, input rop.Result[In],
	onTryExecute func(ctx context.Context, r In) (Out, error)) rop.Result[Out] {

	if !input.IsSuccess() {
		return rop.CancelFrom[In, Out](input)
	}

	out, err := onTryExecute(ctx, input.Result())
	if err != nil {
		return rop.FailFrom[Out](err)
	}
	return rop.Success(out)
}

func DoubleTee[T any](ctx context.Context, input rop.Result[T],
	onSuccess func(ctx context.Context, r T),
	onError func(ctx context.Context, err error),
	onCancel func(ctx context.Context, err error)) rop.Result[T] {

	switch {
	case input.IsSuccess():
		onSuccess(ctx, input.Result())
	case input.IsCancel():
		onCancel(ctx, input.Err())
	default:
		onError(ctx, input.Err())
	}

	return input
}

func Finally[In, Out any](ctx context.Context, input rop.Result[In],
	onSuccess func(ctx context.Context, r In) Out,
	onError func(ctx context.Context, err error) Out,
	onCancel func(ctx context.Context, err error) Out) Out {

	if input.IsSuccess() {
		return onSuccess(ctx, input.Result())
	} else if input.IsCancel() {
		return onCancel(ctx, input.Err())
	} else {
		return onError(ctx, input.Err())
	}
}
