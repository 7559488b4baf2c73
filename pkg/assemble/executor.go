package assemble

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/ib-77/sarascript/pkg/rop"
	"github.com/ib-77/sarascript/pkg/rop/solo"
	"github.com/ib-77/sarascript/pkg/script"
	"github.com/ib-77/sarascript/pkg/wip"
)

// Fetcher retrieves the body of a remote resource.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Diagnostic is the text written in place of a directive whose fetch
// failed.
func Diagnostic(err error) []byte {
	return []byte(fmt.Sprintf("Could not load resource: %q", err.Error()))
}

// sharedDocument guards the one work in progress buffer of a document.
// The lock is held for a single splice and never across I/O.
type sharedDocument struct {
	mu  sync.Mutex
	doc *wip.Document
}

func (s *sharedDocument) insert(r wip.Range, replacement []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Insert(r, replacement)
}

func (s *sharedDocument) remove(r wip.Range) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Remove(r)
}

type executor struct {
	fetcher Fetcher
	doc     *sharedDocument
	tag     string
}

// execute runs one operation to completion and applies its edit. The
// returned error is a ledger or programming error; fetch failures are
// reported only through the Result and the inlined diagnostic.
func (e *executor) execute(ctx context.Context, op script.Operation) (rop.Result[[]byte], error) {
	switch op.Opcode {
	case script.Fetch:
		if len(op.Args) != 1 {
			return solo.Fail[[]byte](errArity), fmt.Errorf("%w: got %d", errArity, len(op.Args))
		}
		uri := op.Args[0].Text()

		res := solo.Try(ctx, solo.Succeed(uri), e.fetcher.Fetch)
		res = solo.DoubleTee(ctx, res,
			func(ctx context.Context, body []byte) {
				glog.V(2).Infof("[assemble]%s %s get %s: %d bytes\n", e.tag, res.Id(), uri, len(body))
			},
			func(ctx context.Context, err error) {
				glog.Warningf("[assemble]%s %s get %s: %v\n", e.tag, res.Id(), uri, err)
			},
			func(ctx context.Context, err error) {
				glog.V(1).Infof("[assemble]%s %s get %s cancelled: %v\n", e.tag, res.Id(), uri, err)
			})
		payload := solo.Finally(ctx, res,
			func(ctx context.Context, body []byte) []byte { return body },
			func(ctx context.Context, err error) []byte { return Diagnostic(err) },
			func(ctx context.Context, err error) []byte { return Diagnostic(err) })

		return res, e.doc.insert(op.Span, payload)

	case script.RemoveMarker:
		return rop.Success[[]byte](nil), e.doc.remove(op.Span)

	default:
		err := fmt.Errorf("unknown opcode %s", op.Opcode)
		return solo.Fail[[]byte](err), err
	}
}
