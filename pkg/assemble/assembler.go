package assemble

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ib-77/sarascript/pkg/rop"
	"github.com/ib-77/sarascript/pkg/rop/core"
	"github.com/ib-77/sarascript/pkg/script"
	"github.com/ib-77/sarascript/pkg/wip"
)

// State is where a document is in its assembly.
type State int32

const (
	Parsing State = iota
	Dispatched
	Joined
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Parsing:
		return "parsing"
	case Dispatched:
		return "dispatched"
	case Joined:
		return "joined"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Document is a fully assembled document. Results has one entry per
// operation, in operation order; marker removals are always successful.
type Document struct {
	Contents []byte
	Results  []rop.Result[[]byte]
}

// Assembler turns directive-bearing documents into their resolved bytes.
type Assembler struct {
	fetcher Fetcher
}

func New(fetcher Fetcher) *Assembler {
	if rop.IsNil(fetcher) {
		panic("assemble: nil Fetcher")
	}
	return &Assembler{fetcher: fetcher}
}

// Assemble parses src, runs every operation and returns the final bytes.
// A malformed script is returned as a *script.ParseError before any
// operation starts.
func (a *Assembler) Assemble(ctx context.Context, src []byte) ([]byte, error) {
	doc, err := a.AssembleDocument(ctx, src)
	if err != nil {
		return nil, err
	}
	return doc.Contents, nil
}

// AssembleDocument is Assemble with the per-operation Results. Cancelling
// ctx turns the outstanding fetches into diagnostics and the document is
// still joined; use Dispatch and Pending.Join to bound the wait itself.
func (a *Assembler) AssembleDocument(ctx context.Context, src []byte) (*Document, error) {
	ops, err := script.Parse(src)
	if err != nil {
		return nil, err
	}
	return a.Dispatch(ctx, src, ops).Join(context.WithoutCancel(ctx))
}

// Pending is a dispatched document whose operations may still be running.
type Pending struct {
	id        uuid.UUID
	state     atomic.Int32
	remaining atomic.Int64
	doc       *sharedDocument
	results   []rop.Result[[]byte]
	done      chan struct{}
	err       error
}

// Dispatch starts one task per operation against a private copy of src.
// Spans in ops must be disjoint ranges of src. ctx reaches every fetch;
// cancelling it makes outstanding fetches fail into their diagnostics.
//
// The number of tasks running at once is bounded by
// core.WithWorkerOptions on ctx, unbounded by default.
func (a *Assembler) Dispatch(ctx context.Context, src []byte, ops []script.Operation) *Pending {
	p := &Pending{
		id:      uuid.New(),
		doc:     &sharedDocument{doc: wip.New(src)},
		results: make([]rop.Result[[]byte], len(ops)),
		done:    make(chan struct{}),
	}
	p.remaining.Store(int64(len(ops)))
	p.setState(Dispatched)

	ex := &executor{fetcher: a.fetcher, doc: p.doc, tag: "[" + p.id.String()[:8] + "]"}

	g := &errgroup.Group{}
	if limit := core.GetWorkerMaxCount(ctx, core.Unlimited); limit > 0 {
		g.SetLimit(limit)
	}

	var (
		mu       sync.Mutex
		failures []*JoinFailure
	)
	fail := func(f *JoinFailure) {
		mu.Lock()
		failures = append(failures, f)
		mu.Unlock()
	}

	go func() {
		for i, op := range ops {
			i, op := i, op
			g.Go(func() error {
				defer p.remaining.Add(-1)
				defer func() {
					if r := recover(); r != nil {
						fail(&JoinFailure{Op: i, Opcode: op.Opcode, Span: op.Span, Panic: r})
					}
				}()

				res, execErr := ex.execute(ctx, op)
				p.results[i] = res
				if execErr != nil {
					fail(&JoinFailure{Op: i, Opcode: op.Opcode, Span: op.Span, Err: execErr})
				}
				return nil
			})
		}
		g.Wait()

		slices.SortFunc(failures, func(a, b *JoinFailure) int { return cmp.Compare(a.Op, b.Op) })
		errs := make([]error, len(failures))
		for i, f := range failures {
			errs[i] = f
		}
		p.err = errors.Join(errs...)
		close(p.done)
	}()

	return p
}

func (p *Pending) setState(s State) {
	p.state.Store(int32(s))
	glog.V(2).Infof("[assemble][%s] %s\n", p.id.String()[:8], s)
}

func (p *Pending) State() State {
	return State(p.state.Load())
}

// Remaining is the number of operations that have not finished yet.
func (p *Pending) Remaining() int64 {
	return p.remaining.Load()
}

// Join waits for every operation and returns the assembled document. If any
// task failed to complete it returns every *JoinFailure, in operation
// order, joined with errors.Join. If ctx ends first it returns a single
// *JoinFailure and no document; tasks still running are left to finish on
// their own.
func (p *Pending) Join(ctx context.Context) (*Document, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		p.setState(Failed)
		err := &JoinFailure{Op: -1, Pending: p.Remaining(), Err: ctx.Err()}
		glog.Errorf("[assemble][%s] %v\n", p.id.String()[:8], err)
		return nil, err
	}

	p.setState(Joined)
	if p.err != nil {
		for _, err := range rop.GetErrors(p.err) {
			glog.Errorf("[assemble][%s] %v\n", p.id.String()[:8], err)
		}
		p.setState(Failed)
		return nil, p.err
	}

	doc := &Document{
		Contents: p.doc.doc.Bytes(),
		Results:  p.results,
	}
	p.setState(Done)
	return doc, nil
}
