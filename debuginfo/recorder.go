package debuginfo

import (
	"fmt"
	"strings"

	"github.com/chazu/ilopt/il"
)

// EventKind identifies a Writer call.
type EventKind uint8

const (
	EventOpenScope EventKind = iota
	EventCloseScope
	EventVariable
	EventConstant
	EventSequencePoint
)

func (k EventKind) String() string {
	switch k {
	case EventOpenScope:
		return "open"
	case EventCloseScope:
		return "close"
	case EventVariable:
		return "var"
	case EventConstant:
		return "const"
	case EventSequencePoint:
		return "seq"
	default:
		return fmt.Sprintf("EventKind(%d)", k)
	}
}

// Event is one recorded Writer call.
type Event struct {
	Kind     EventKind
	Offset   uint32
	Local    *il.Local
	Constant *Constant
	Location *il.Location
}

func (e Event) String() string {
	switch e.Kind {
	case EventOpenScope, EventCloseScope:
		return fmt.Sprintf("%s IL_%04x", e.Kind, e.Offset)
	case EventVariable:
		return fmt.Sprintf("%s %d %s", e.Kind, e.Local.Index, e.Local)
	case EventConstant:
		return fmt.Sprintf("%s %s = %v", e.Kind, e.Constant.Name, e.Constant.Value)
	case EventSequencePoint:
		return fmt.Sprintf("%s IL_%04x %s", e.Kind, e.Offset, e.Location)
	}
	return e.Kind.String()
}

// Recorder is a Writer that keeps every call.
type Recorder struct {
	Events []Event
}

func (r *Recorder) OpenScope(offset uint32) {
	r.Events = append(r.Events, Event{Kind: EventOpenScope, Offset: offset})
}

func (r *Recorder) CloseScope(offset uint32) {
	r.Events = append(r.Events, Event{Kind: EventCloseScope, Offset: offset})
}

func (r *Recorder) AddVariableToScope(local *il.Local) {
	r.Events = append(r.Events, Event{Kind: EventVariable, Local: local})
}

func (r *Recorder) AddConstantToScope(constant *Constant) {
	r.Events = append(r.Events, Event{Kind: EventConstant, Constant: constant})
}

func (r *Recorder) MarkSequencePoint(location *il.Location, offset uint32) {
	r.Events = append(r.Events, Event{Kind: EventSequencePoint, Offset: offset, Location: location})
}

// String returns one event per line.
func (r *Recorder) String() string {
	var sb strings.Builder
	for _, e := range r.Events {
		sb.WriteString(e.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Replay sends events to w in order.
func Replay(events []Event, w Writer) {
	for _, e := range events {
		switch e.Kind {
		case EventOpenScope:
			w.OpenScope(e.Offset)
		case EventCloseScope:
			w.CloseScope(e.Offset)
		case EventVariable:
			w.AddVariableToScope(e.Local)
		case EventConstant:
			w.AddConstantToScope(e.Constant)
		case EventSequencePoint:
			w.MarkSequencePoint(e.Location, e.Offset)
		}
	}
}

// CollectScopes rebuilds the scope list described by events, enclosing
// scopes first. A scope that is never closed keeps a zero length.
func CollectScopes(events []Event) ScopeList {
	var (
		scopes ScopeList
		open   []*Scope
	)
	for _, e := range events {
		switch e.Kind {
		case EventOpenScope:
			s := &Scope{Offset: e.Offset}
			scopes = append(scopes, s)
			open = append(open, s)
		case EventCloseScope:
			if len(open) == 0 {
				continue
			}
			s := open[len(open)-1]
			open = open[:len(open)-1]
			s.Length = e.Offset - s.Offset
		case EventVariable:
			if len(open) > 0 {
				s := open[len(open)-1]
				s.Locals = append(s.Locals, e.Local)
			}
		case EventConstant:
			if len(open) > 0 {
				s := open[len(open)-1]
				s.Constants = append(s.Constants, e.Constant)
			}
		}
	}
	return scopes
}
