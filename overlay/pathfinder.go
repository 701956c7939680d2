package overlay

import (
	"github.com/pkg/errors"
	"go.dedis.ch/pddm/errs"
)

// minPathLength is the minimum number of hops a found path must contain,
// so that no onion layer is peeled by a node that can trivially correlate
// sender and final destination.
const minPathLength = 3

// infectedNode is one node reached during the breadth-first "infection"
// search, carrying a parent pointer so the path back to source can be
// reconstructed once a target is reached.
type infectedNode struct {
	id int
	round int
	parent *infectedNode
}

// FindPaths finds one node-disjoint path per target, from source, through
// Bobby's gossip graph, starting at startRound. Paths are returned
// in the same order as targetIDs; each path lists the hops after source,
// ending with the target itself. The round horizon for each search is
// ceil(log2(numNodes)) * len(targetIDs) + minPathLength, matching the
// bound the source computes before giving up.
func FindPaths(sourceID int, targetIDs []int, numNodes int, startRound int) ([][]int, error) {
	usedNodes := make(map[int]bool, len(targetIDs))
	for _, t := range targetIDs {
		usedNodes[t] = true
	}

	roundsLimit := ceilLog2(numNodes)*len(targetIDs) + minPathLength
	maxRound := startRound + roundsLimit

	paths := make([][]int, len(targetIDs))
	for i, target := range targetIDs {
		path, err := findPath(sourceID, target, numNodes, startRound, maxRound, usedNodes)
		if err != nil {
			return nil, err
		}
		for _, hop := range path {
			if hop != sourceID && hop != target {
				usedNodes[hop] = true
			}
		}
		// path includes source as its first hop; FindPaths' contract
		// (matching find_paths) excludes it.
		paths[i] = path[1:]
	}
	return paths, nil
}

// findPath propagates an infection outward from source in the gossip
// graph, one round at a time, until it reaches target over a path of at
// least minPathLength hops, or runs out of rounds.
func findPath(source, target, n, startRound, maxRound int, excludeNodes map[int]bool) ([]int, error) {
	infected := map[int]*infectedNode{source: {id: source, round: startRound}}

	for round := startRound; round < maxRound; round++ {
		next := make(map[int]*infectedNode)
		for _, node := range infected {
			endID := Target(node.id, round, n)
			if excludeNodes[endID] && endID != target {
				continue
			}
			if endID == target {
				hops := 1
				for p := node; p.parent != nil; p = p.parent {
					hops++
				}
				if hops < minPathLength {
					continue
				}
				return reconstructPath(&infectedNode{id: endID, round: round + 1, parent: node}), nil
			}
			if _, already := infected[endID]; already {
				continue
			}
			if _, already := next[endID]; already {
				continue
			}
			next[endID] = &infectedNode{id: endID, round: round + 1, parent: node}
		}
		for id, node := range next {
			infected[id] = node
		}
	}
	return nil, errors.Wrapf(errs.PathNotFound, "from %d to %d", source, target)
}

func reconstructPath(end *infectedNode) []int {
	var path []int
	for n := end; n != nil; n = n.parent {
		path = append([]int{n.id}, path...)
	}
	return path
}

// ceilLog2 returns ceil(log2(n)) for n >= 1 using integer arithmetic, so
// the round horizon computation never depends on float rounding.
func ceilLog2(n int) int {
	if n <= 1 {
		return 0
	}
	bits := 0
	v := n - 1
	for v > 0 {
		bits++
		v >>= 1
	}
	return bits
}
