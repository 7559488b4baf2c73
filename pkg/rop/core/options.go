package core

import "context"

type OptionKey string

const (
	WorkerOptionKey OptionKey = "worker_options"
)

// Unlimited lets every operation of a document run at once.
const Unlimited = -1

type MaxLimitOption struct {
	Value int
}

type WorkerOptions struct {
	MaxCount MaxLimitOption
}

// WithWorkerOptions caps how many operations of one document run at the
// same time. Values below one mean no cap.
func WithWorkerOptions(ctx context.Context, maxWorkers int) context.Context {
	if maxWorkers < 1 {
		maxWorkers = Unlimited
	}
	return context.WithValue(ctx, WorkerOptionKey, WorkerOptions{MaxLimitOption{Value: maxWorkers}})
}

func GetWorkerMaxCount(ctx context.Context, defaultMaxWorkers int) int {
	options, ok := ctx.Value(WorkerOptionKey).(WorkerOptions)
	if ok {
		return options.MaxCount.Value
	}
	return defaultMaxWorkers
}
