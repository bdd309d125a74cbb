package match

import (
	"math"

	"photosweep/internal/hash"
)

// Similarity thresholds offered to users. These are empirical defaults.
const (
	ThresholdLoose   = 0.80
	ThresholdDefault = 0.90
	ThresholdStrict  = 0.95
)

// Thresholds lists the accepted similarity thresholds
var Thresholds = []float64{ThresholdLoose, ThresholdDefault, ThresholdStrict}

// ValidThreshold reports whether t is one of the accepted thresholds
func ValidThreshold(t float64) bool {
	for _, v := range Thresholds {
		if math.Abs(v-t) < 1e-9 {
			return true
		}
	}
	return false
}

// SimilarityScore converts the Hamming distance between two 64-bit perceptual
// hashes into a score in [0, 1], where 1 means identical
func SimilarityScore(a, b uint64) float64 {
	return 1 - float64(hash.HammingDistance(a, b))/hash.Bits
}

// maxDistance returns the largest Hamming distance whose score still reaches
// threshold
func maxDistance(threshold float64) int {
	if threshold <= 0 {
		return hash.Bits
	}
	if threshold >= 1 {
		return 0
	}
	return int(math.Floor((1-threshold)*hash.Bits + 1e-9))
}

// bkTree is a BK-tree for similarity search over Hamming distance. It
// supports O(log n) average-case lookup of all elements within a radius.
type bkTree struct {
	root     *bkNode
	distance func(a, b uint64) int
}

type bkNode struct {
	hash     uint64
	index    int
	children map[int]*bkNode // distance -> child node
}

func newBKTree(distanceFn func(a, b uint64) int) *bkTree {
	return &bkTree{distance: distanceFn}
}

func (t *bkTree) insert(h uint64, index int) {
	node := &bkNode{
		hash:     h,
		index:    index,
		children: make(map[int]*bkNode),
	}

	if t.root == nil {
		t.root = node
		return
	}

	current := t.root
	for {
		dist := t.distance(h, current.hash)
		if child, exists := current.children[dist]; exists {
			current = child
		} else {
			current.children[dist] = node
			return
		}
	}
}

// findWithinDistance returns the indices of all elements within threshold of h
func (t *bkTree) findWithinDistance(h uint64, threshold int) []int {
	if t.root == nil {
		return nil
	}

	var results []int
	t.searchNode(t.root, h, threshold, &results)
	return results
}

func (t *bkTree) searchNode(node *bkNode, h uint64, threshold int, results *[]int) {
	dist := t.distance(h, node.hash)

	if dist <= threshold {
		*results = append(*results, node.index)
	}

	// Triangle inequality: only children in [dist-threshold, dist+threshold] can match
	minDist := dist - threshold
	if minDist < 0 {
		minDist = 0
	}
	maxDist := dist + threshold

	for childDist, child := range node.children {
		if childDist >= minDist && childDist <= maxDist {
			t.searchNode(child, h, threshold, results)
		}
	}
}

func (t *bkTree) size() int {
	if t.root == nil {
		return 0
	}
	return t.countNodes(t.root)
}

func (t *bkTree) countNodes(node *bkNode) int {
	count := 1
	for _, child := range node.children {
		count += t.countNodes(child)
	}
	return count
}
