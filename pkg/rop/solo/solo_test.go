package solo

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ib-77/sarascript/pkg/rop"
)

func Test_TrySuccess(t *testing.T) {
	t.Parallel()

	res := Try(context.Background(), Succeed("42"), func(ctx context.Context, s string) (int, error) {
		return strconv.Atoi(s)
	})

	assert.True(t, res.IsSuccess())
	assert.Equal(t, 42, res.Result())
	assert.NoError(t, res.Err())
}

func Test_TryError(t *testing.T) {
	t.Parallel()

	res := Try(context.Background(), Succeed("x"), func(ctx context.Context, s string) (int, error) {
		return strconv.Atoi(s)
	})

	assert.True(t, res.IsFailure())
	assert.False(t, res.IsCancel())
	var numErr *strconv.NumError
	assert.ErrorAs(t, res.Err(), &numErr)
}

func Test_TryCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Try(ctx, Succeed("x"), func(ctx context.Context, s string) (string, error) {
		return "", ctx.Err()
	})

	assert.True(t, res.IsCancel())
	assert.ErrorIs(t, res.Err(), context.Canceled)
}

func Test_TrySkipsFailedInput(t *testing.T) {
	t.Parallel()

	in := Fail[string](errors.New("upstream"))
	called := false
	res := Try(context.Background(), in, func(ctx context.Context, s string) (int, error) {
		called = true
		return 0, nil
	})

	assert.False(t, called)
	assert.True(t, res.IsFailure())
	assert.Equal(t, in.Id(), res.Id())
	assert.EqualError(t, res.Err(), "upstream")
}

func Test_DoubleTeeAndFinally(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cases := []struct {
		name string
		in   rop.Result[int]
		want string
	}{
		{"success", rop.Success(7), "ok:7"},
		{"fail", rop.Fail[int](errors.New("boom")), "err:boom"},
		{"cancel", rop.Cancel[int](context.DeadlineExceeded), "cancel:context deadline exceeded"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var seen string
			out := DoubleTee(ctx, c.in,
				func(ctx context.Context, r int) { seen = "ok:" + strconv.Itoa(r) },
				func(ctx context.Context, err error) { seen = "err:" + err.Error() },
				func(ctx context.Context, err error) { seen = "cancel:" + err.Error() })

			assert.Equal(t, c.want, seen)
			assert.Equal(t, c.in.Id(), out.Id())

			got := Finally(ctx, out,
				func(ctx context.Context, r int) string { return "ok:" + strconv.Itoa(r) },
				func(ctx context.Context, err error) string { return "err:" + err.Error() },
				func(ctx context.Context, err error) string { return "cancel:" + err.Error() })
			assert.Equal(t, c.want, got)
		})
	}
}
