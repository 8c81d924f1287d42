package dag

import "github.com/RoaringBitmap/roaring"

// Neighborer is the view of a graph DFSPostOrder needs.
type Neighborer interface {
	Neighbors(n NodeIndex, dir Direction) []NodeIndex
}

// DFSPostOrder is a depth first traversal that yields each node reachable
// from its start node exactly once, after every node reachable from it in
// the chosen direction has been yielded.
type DFSPostOrder struct {
	dir        Direction
	stack      []NodeIndex
	discovered *roaring.Bitmap
	finished   *roaring.Bitmap
}

// NewDFSPostOrder returns a walker starting at start and following edges in
// direction dir.
func NewDFSPostOrder(dir Direction, start NodeIndex) *DFSPostOrder {
	return &DFSPostOrder{
		dir:        dir,
		stack:      []NodeIndex{start},
		discovered: roaring.NewBitmap(),
		finished:   roaring.NewBitmap(),
	}
}

// MoveTo pushes start onto the walk. Nodes already finished are not yielded
// again, so MoveTo can be used to continue a walk from several roots.
func (w *DFSPostOrder) MoveTo(start NodeIndex) {
	w.stack = append(w.stack, start)
}

// Next returns the next node of the walk. ok is false once the walk is done.
func (w *DFSPostOrder) Next(g Neighborer) (n NodeIndex, ok bool) {
	for len(w.stack) > 0 {
		nx := w.stack[len(w.stack)-1]
		if !w.discovered.Contains(uint32(nx)) {
			// First visit: push the undiscovered neighbors and keep nx
			// on the stack until they are done.
			w.discovered.Add(uint32(nx))
			for _, succ := range g.Neighbors(nx, w.dir) {
				if !w.discovered.Contains(uint32(succ)) {
					w.stack = append(w.stack, succ)
				}
			}
			continue
		}

		w.stack = w.stack[:len(w.stack)-1]
		if !w.finished.Contains(uint32(nx)) {
			w.finished.Add(uint32(nx))
			return nx, true
		}
	}
	return 0, false
}

// PostOrder collects the whole walk from start in direction dir.
func PostOrder(g Neighborer, dir Direction, start NodeIndex) []NodeIndex {
	var out []NodeIndex
	w := NewDFSPostOrder(dir, start)
	for n, ok := w.Next(g); ok; n, ok = w.Next(g) {
		out = append(out, n)
	}
	return out
}
