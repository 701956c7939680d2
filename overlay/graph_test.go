package overlay

import "testing"

func TestTargetAndPredecessorAreInverse(t *testing.T) {
	n := 11
	for i := 0; i < n; i++ {
		for r := 0; r < 4; r++ {
			target := Target(i, r, n)
			if Predecessor(target, r, n) != i {
				t.Fatalf("predecessor(target(%d,%d))=%d, want %d", i, r, Predecessor(target, r, n), i)
			}
		}
	}
}

func TestGroupBoundariesCoverAllMeters(t *testing.T) {
	n, g := 11, 4
	bounds := GroupBoundaries(n, g)
	if bounds[0] != 0 || bounds[g] != n {
		t.Fatalf("bounds must span [0,N): got %v", bounds)
	}
	for i := 0; i < g; i++ {
		if bounds[i] >= bounds[i+1] {
			t.Fatalf("group %d is empty or inverted: %v", i, bounds)
		}
	}
}

func TestAggregationGroupForIsConsistentWithBoundaries(t *testing.T) {
	n, g := 11, 4
	bounds := GroupBoundaries(n, g)
	for id := 0; id < n; id++ {
		gi := AggregationGroupFor(id, n, g)
		if id < bounds[gi] || id >= bounds[gi+1] {
			t.Fatalf("id %d assigned to group %d outside bounds %v", id, gi, bounds)
		}
	}
}

func TestTreeParentChildConsistency(t *testing.T) {
	groupSize := 7
	for k := 1; k < groupSize; k++ {
		parent, has := TreeParent(k)
		if !has {
			t.Fatalf("expected node %d to have a parent", k)
		}
		children := TreeChildren(parent, groupSize)
		found := false
		for _, c := range children {
			if c == k {
				found = true
			}
		}
		if !found {
			t.Fatalf("node %d not found among children of its parent %d: %v", k, parent, children)
		}
	}
}

func TestPickProxiesExcludesSelf(t *testing.T) {
	n, g := 11, 4
	for id := 0; id < n; id++ {
		proxies := PickProxies(id, 1, n, g)
		for _, p := range proxies {
			if p == id {
				t.Fatalf("meter %d picked itself as a proxy: %v", id, proxies)
			}
		}
	}
}
