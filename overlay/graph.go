// Package overlay implements the Overlay Round Driver, the Onion
// Builder & Path Finder, and the gossip-graph / aggregation group /
// proxy-selection math. It is grounded on PriFi's dcnet.go / relay.go
// round-and-phase bookkeeping style, generalized from PriFi's fixed
// client/trustee/relay roles to the flat meter graph this protocol uses.
package overlay

import (
	"go.dedis.ch/pddm/config"
)

// Target returns "Bobby's gossip graph" send-partner for meter i in
// round r: target(i, r) = (i + 2^r) mod N.
func Target(i, r, n int) int {
	return mod(i+pow2(r), n)
}

// Predecessor returns the receive-partner for meter j in round r:
// predecessor(j, r) = (j - 2^r) mod N.
func Predecessor(j, r, n int) int {
	return mod(j-pow2(r), n)
}

func pow2(r int) int {
	if r < 0 {
		return 0
	}
	return 1 << uint(r)
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}

// AggregationGroupFor returns the aggregation group containing id,
// under the partition rule: groups 0..G-3 are contiguous blocks
// of size s = floor(N/G); the remaining meters split between the last
// two groups, with group G-2 getting floor((s+leftover)/2).
func AggregationGroupFor(id int, n int, g int) int {
	bounds := GroupBoundaries(n, g)
	for gi := 0; gi < g; gi++ {
		if id >= bounds[gi] && id < bounds[gi+1] {
			return gi
		}
	}
	return g - 1
}

// GroupBoundaries returns g+1 increasing boundaries such that group gi
// spans [bounds[gi], bounds[gi+1]) meter ids, per the partition rule:
// s = floor(N/G); groups 0..G-3 get s each; "leftover" is what's
// left after G-1 groups of size s (leftover = N - (G-1)*s), and group
// G-2 takes floor((s+leftover)/2) of it, with group G-1 taking the rest.
func GroupBoundaries(n, g int) []int {
	bounds := make([]int, g+1)
	if g <= 0 {
		return bounds
	}
	s := n / g
	bounds[g] = n

	if g == 1 {
		bounds[0] = 0
		return bounds
	}

	for gi := 0; gi < g-1; gi++ {
		bounds[gi] = gi * s
	}
	leftover := n - (g-1)*s
	secondLast := (s + leftover) / 2
	bounds[g-1] = bounds[g-2] + secondLast
	return bounds
}

// GroupMembers returns the sorted meter ids belonging to group gi.
func GroupMembers(n, g, gi int) []int {
	bounds := GroupBoundaries(n, g)
	members := make([]int, 0, bounds[gi+1]-bounds[gi])
	for id := bounds[gi]; id < bounds[gi+1]; id++ {
		members = append(members, id)
	}
	return members
}

// PickProxies returns one proxy chosen uniformly at random from each
// group, excluding id itself when id belongs to that group, using the
// deterministic per-(query,meter) XOF seed. The own group is
// included like any other: a meter picks one proxy per group and
// simply excludes itself where relevant, rather than skipping the
// whole group it belongs to.
func PickProxies(id int, queryNumber int64, n, g int) []int {
	xof := config.DeterministicXOF(queryNumber, id, "pick_proxies")

	proxies := make([]int, 0, g)
	for gi := 0; gi < g; gi++ {
		members := GroupMembers(n, g, gi)
		if len(members) == 0 {
			continue
		}
		if containsInt(members, id) && len(members) > 1 {
			idx := xofIntn(xof, len(members)-1)
			// map idx over members, skipping id itself
			candidate := members[idx]
			if candidate == id {
				candidate = members[len(members)-1]
			}
			proxies = append(proxies, candidate)
		} else if !containsInt(members, id) {
			idx := xofIntn(xof, len(members))
			proxies = append(proxies, members[idx])
		}
	}
	return proxies
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func xofIntn(xof interface{ Read([]byte) (int, error) }, n int) int {
	if n <= 0 {
		return 0
	}
	var buf [8]byte
	_, _ = xof.Read(buf[:])
	v := uint64(0)
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return int(v % uint64(n))
}

// TreeParent returns the relative index (within the meter's group) of
// its parent in the aggregation tree: parent(k) = (k-1)/2.
func TreeParent(relativeIndex int) (parent int, hasParent bool) {
	if relativeIndex == 0 {
		return 0, false
	}
	return (relativeIndex - 1) / 2, true
}

// TreeChildren returns the relative indices of the (up to two) children
// of relativeIndex within a group of groupSize meters: 2k+1, 2k+2.
func TreeChildren(relativeIndex, groupSize int) []int {
	var children []int
	for _, c := range []int{2*relativeIndex + 1, 2*relativeIndex + 2} {
		if c < groupSize {
			children = append(children, c)
		}
	}
	return children
}

// RelativeIndex returns id's position within its group's contiguous
// block, used to locate it in the implicit binary tree.
func RelativeIndex(id, n, g int) int {
	bounds := GroupBoundaries(n, g)
	gi := AggregationGroupFor(id, n, g)
	return id - bounds[gi]
}
