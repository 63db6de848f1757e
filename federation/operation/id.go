package operation

import "go.uber.org/atomic"

// SelectionID identifies one fragment-spread or inline-fragment selection.
// Ids are process-wide unique so that concurrently planned operations
// never collide even though each planning run is otherwise independent.
type SelectionID uint64

var selectionIDCounter = atomic.NewUint64(0)

func nextSelectionID() SelectionID {
	return SelectionID(selectionIDCounter.Inc())
}
