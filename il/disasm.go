package il

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the method body.
func Disassemble(m *MethodBody) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; === %s ===\n", m.FullName()))
	sb.WriteString(fmt.Sprintf("; MaxStack: %d  CodeSize: %d\n", m.MaxStack, m.CodeSize()))

	if len(m.Params) > 0 {
		sb.WriteString(fmt.Sprintf("; Parameters (%d): ", len(m.Params)))
		for i, p := range m.Params {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s %s", p.Type, p))
		}
		sb.WriteString("\n")
	}

	if len(m.Locals) > 0 {
		sb.WriteString(fmt.Sprintf("; Locals (%d):\n", len(m.Locals)))
		for _, l := range m.Locals {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s %s\n", l.Index, l.Type, l))
		}
	}

	if len(m.Regions) > 0 {
		sb.WriteString("; Regions:\n")
		for _, r := range m.Regions {
			sb.WriteString(fmt.Sprintf(";   try IL_%04x-IL_%04x %s", r.TryStart, r.TryEnd, r.Kind))
			if r.Kind == HandlerCatch && r.CatchType != nil {
				sb.WriteString(" " + r.CatchType.Name)
			}
			if r.Kind == HandlerFilter {
				sb.WriteString(fmt.Sprintf(" IL_%04x", r.FilterStart))
			}
			sb.WriteString(fmt.Sprintf(" IL_%04x-IL_%04x\n", r.HandlerStart, r.HandlerEnd))
		}
	}

	sb.WriteString("\n")
	for _, op := range m.Operations {
		sb.WriteString(fmt.Sprintf("IL_%04x: %s\n", op.Offset, op))
	}
	return sb.String()
}
