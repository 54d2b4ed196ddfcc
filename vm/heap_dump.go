package vm

import (
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// Heap introspection
// ---------------------------------------------------------------------------

// Stats returns per-kind object counts plus byte and cycle totals.
func (h *Heap) Stats() map[string]int {
	stats := map[string]int{
		"objects":  h.objectCount,
		"bytes":    h.bytesAllocated,
		"cycles":   int(h.cycles),
		"interned": len(h.interner),
	}
	for obj := h.head; obj != nil; obj = obj.next {
		stats[obj.kind.String()]++
	}
	return stats
}

// DumpObjects writes one line per live heap object, newest first. Marked
// objects only appear mid-cycle; between cycles every object is white.
func (h *Heap) DumpObjects(w io.Writer) {
	fmt.Fprintln(w, "=== heap objects ===")
	for obj := h.head; obj != nil; obj = obj.next {
		mark := " "
		if obj.marked {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %-12s %5d  %s\n", mark, obj.kind, obj.size, renderHeader(obj))
	}
	fmt.Fprintf(w, "=== %d objects, %d bytes ===\n", h.objectCount, h.bytesAllocated)
}

// renderHeader renders an object for heap dumps; strings are quoted so
// they read unambiguously next to other kinds.
func renderHeader(obj *header) string {
	if obj.kind == KindString {
		return fmt.Sprintf("%q", asString(obj).S)
	}
	return fromObject(obj).Render()
}
