package assemble

import (
	"errors"
	"fmt"

	"github.com/ib-77/sarascript/pkg/script"
	"github.com/ib-77/sarascript/pkg/wip"
)

var errArity = errors.New("fetch takes exactly one argument")

// JoinFailure reports that the join barrier could not produce a document:
// a task panicked, a task could not apply its edit, or the caller stopped
// waiting before every task finished. Op is -1 when no single operation is
// to blame.
type JoinFailure struct {
	Op      int
	Opcode  script.Opcode
	Span    wip.Range
	Panic   any
	Pending int64
	Err     error
}

func (e *JoinFailure) Error() string {
	switch {
	case e.Panic != nil:
		return fmt.Sprintf("assemble: operation %d (%s %s) panicked: %v", e.Op, e.Opcode, e.Span, e.Panic)
	case e.Op < 0:
		return fmt.Sprintf("assemble: %d operations still running: %v", e.Pending, e.Err)
	default:
		return fmt.Sprintf("assemble: operation %d (%s %s): %v", e.Op, e.Opcode, e.Span, e.Err)
	}
}

func (e *JoinFailure) Unwrap() error { return e.Err }
