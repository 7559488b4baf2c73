package wip

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrDuplicateEdit is returned when an edit already starts at the same
	// original index. Spans produced by the parser are disjoint, so this
	// means two operations claimed the same bytes.
	ErrDuplicateEdit = errors.New("wip: edit already recorded at this original index")
	ErrOutOfRange    = errors.New("wip: range out of bounds")
)

// Range is a half-open byte range [Start, End) in original-document
// coordinates.
type Range struct {
	Start int
	End   int
}

func (r Range) Len() int {
	return r.End - r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// DocEdit records that the text at OriginalIndex grew (or shrank, when
// negative) by Delta bytes.
type DocEdit struct {
	OriginalIndex int
	Delta         int
}

// Document is a work in progress buffer plus a ledger of applied edits,
// sorted by OriginalIndex. Positions handed to it are always original
// coordinates; the ledger translates them to the current buffer.
//
// Document is not safe for concurrent use. Callers share it behind a
// single mutex and hold it for one Insert or Remove at a time.
type Document struct {
	contents []byte
	edits    []DocEdit
}

// New returns a Document over a private copy of original.
func New(original []byte) *Document {
	return &Document{
		contents: slices.Clone(original),
	}
}

func (d *Document) Len() int {
	return len(d.contents)
}

// Bytes returns the current buffer. The slice aliases the document.
func (d *Document) Bytes() []byte {
	return d.contents
}

// Edits returns a copy of the ledger.
func (d *Document) Edits() []DocEdit {
	return slices.Clone(d.edits)
}

// Translate maps an original index to its position in the current buffer.
func (d *Document) Translate(originalIndex int) int {
	pos, _ := d.search(originalIndex)
	return originalIndex + d.offset(pos)
}

// Read returns a copy of the bytes an original span currently occupies.
// An edit recorded at r.Start belongs to the span even when r is empty.
func (d *Document) Read(r Range) ([]byte, error) {
	if r.Start < 0 || r.End < r.Start {
		return nil, fmt.Errorf("%w: read %s", ErrOutOfRange, r)
	}
	pos, found := d.search(r.Start)
	endPos, _ := d.search(r.End)
	if found && endPos <= pos {
		endPos = pos + 1
	}
	start, end := r.Start+d.offset(pos), r.End+d.offset(endPos)
	if start < 0 || start > end || end > len(d.contents) {
		return nil, fmt.Errorf("%w: read %s", ErrOutOfRange, r)
	}
	return slices.Clone(d.contents[start:end]), nil
}

// Insert replaces the bytes currently occupying r with replacement.
func (d *Document) Insert(r Range, replacement []byte) error {
	if r.Start < 0 || r.End < r.Start {
		return fmt.Errorf("%w: %s", ErrOutOfRange, r)
	}
	pos, found := d.search(r.Start)
	if found {
		return fmt.Errorf("%w: %d", ErrDuplicateEdit, r.Start)
	}
	start := r.Start + d.offset(pos)
	end := start + r.Len()
	if start < 0 || end > len(d.contents) {
		return fmt.Errorf("%w: %s translates to [%d,%d) in %d bytes", ErrOutOfRange, r, start, end, len(d.contents))
	}

	d.contents = slices.Replace(d.contents, start, end, replacement...)
	d.edits = slices.Insert(d.edits, pos, DocEdit{
		OriginalIndex: r.Start,
		Delta:         len(replacement) - r.Len(),
	})
	return nil
}

// Remove deletes the bytes currently occupying r.
func (d *Document) Remove(r Range) error {
	return d.Insert(r, nil)
}

// search finds where an edit starting at originalIndex sits in the ledger.
func (d *Document) search(originalIndex int) (int, bool) {
	return slices.BinarySearchFunc(d.edits, originalIndex, func(e DocEdit, target int) int {
		return e.OriginalIndex - target
	})
}

// offset sums the deltas of the first n ledger entries.
func (d *Document) offset(n int) int {
	sum := 0
	for _, e := range d.edits[:n] {
		sum += e.Delta
	}
	return sum
}
