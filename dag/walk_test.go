package dag_test

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/influxdata/dagmigrate/dag"
	"github.com/stretchr/testify/require"
)

func TestPostOrder(t *testing.T) {
	// Diamond: 0 -> {1, 2} -> 3
	g := dag.New[string]()
	for _, n := range []string{"root", "left", "right", "leaf"} {
		g.AddNode(n)
	}
	for _, e := range [][2]dag.NodeIndex{{0, 1}, {0, 2}, {1, 3}, {2, 3}} {
		_, err := g.AddEdge(e[0], e[1])
		require.NoError(t, err)
	}

	tests := []struct {
		name  string
		dir   dag.Direction
		start dag.NodeIndex
		want  []dag.NodeIndex
	}{
		{name: "descendants of root", dir: dag.Outgoing, start: 0, want: []dag.NodeIndex{3, 2, 1, 0}},
		{name: "ancestors of leaf", dir: dag.Incoming, start: 3, want: []dag.NodeIndex{0, 2, 1, 3}},
		{name: "descendants of leaf", dir: dag.Outgoing, start: 3, want: []dag.NodeIndex{3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dag.PostOrder(g, tt.dir, tt.start)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("post order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDFSPostOrder_MoveTo(t *testing.T) {
	g := dag.New[int]()
	for i := 0; i < 3; i++ {
		g.AddNode(i)
	}
	_, err := g.AddEdge(0, 1)
	require.NoError(t, err)

	w := dag.NewDFSPostOrder(dag.Outgoing, 0)
	var got []dag.NodeIndex
	for n, ok := w.Next(g); ok; n, ok = w.Next(g) {
		got = append(got, n)
	}
	// 1 is already finished and must not be yielded again.
	w.MoveTo(1)
	w.MoveTo(2)
	for n, ok := w.Next(g); ok; n, ok = w.Next(g) {
		got = append(got, n)
	}

	require.Equal(t, []dag.NodeIndex{1, 0, 2}, got)
}

func TestPostOrder_ChildrenBeforeParents(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 25; iter++ {
		g := randomDAG(t, rng, 25, 0.2)
		for start := 0; start < g.Len(); start++ {
			order := dag.PostOrder(g, dag.Outgoing, dag.NodeIndex(start))

			pos := make(map[dag.NodeIndex]int, len(order))
			for i, n := range order {
				_, dup := pos[n]
				require.False(t, dup, "node %d yielded twice", n)
				pos[n] = i
			}

			reach := g.Induced([]dag.NodeIndex{dag.NodeIndex(start)}, dag.Outgoing)
			require.Equal(t, int(reach.GetCardinality()), len(order))

			for n := range pos {
				for _, succ := range g.Neighbors(n, dag.Outgoing) {
					require.Less(t, pos[succ], pos[n], "%d finished before its successor %d", n, succ)
				}
			}
		}
	}
}
