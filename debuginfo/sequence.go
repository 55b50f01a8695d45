package debuginfo

import "github.com/chazu/ilopt/il"

// SequencePointBuffer groups sequence points by document. Points are
// buffered while they share a document; a change of document flushes the
// run as one group.
//
// A buffer that has not seen a point yet has a nil current document. That
// state is distinct from il.HiddenDocument, which is a real document for
// compiler-generated code and is grouped like any other.
type SequencePointBuffer struct {
	current *il.Document
	points  []SequencePoint
	groups  []SequencePointGroup
}

// Add buffers a point, flushing the pending run first if the document
// changed.
func (b *SequencePointBuffer) Add(offset uint32, loc *il.Location) {
	if loc == nil {
		return
	}
	doc := loc.Document
	if doc == nil {
		doc = il.HiddenDocument
	}
	if b.current != nil && b.current != doc {
		b.flush()
	}
	b.current = doc
	b.points = append(b.points, SequencePoint{Offset: offset, Location: loc})
}

func (b *SequencePointBuffer) flush() {
	if len(b.points) == 0 {
		return
	}
	b.groups = append(b.groups, SequencePointGroup{Document: b.current, Points: b.points})
	b.points = nil
}

// Close flushes the pending run and returns every group in emission order.
func (b *SequencePointBuffer) Close() []SequencePointGroup {
	b.flush()
	b.current = nil
	return b.groups
}

// Pending reports whether points are buffered for the current document.
func (b *SequencePointBuffer) Pending() bool {
	return len(b.points) > 0
}
