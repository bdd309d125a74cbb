package match

// UnionFind is a disjoint-set forest over the index space 0..n-1
type UnionFind struct {
	parent []int
	rank   []int
}

// NewUnionFind creates n singleton sets
func NewUnionFind(n int) *UnionFind {
	parent := make([]int, n)
	rank := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &UnionFind{parent: parent, rank: rank}
}

// Len returns the size of the index space
func (uf *UnionFind) Len() int {
	return len(uf.parent)
}

// Find returns the representative of x's set
func (uf *UnionFind) Find(x int) int {
	root := x
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	// Path compression
	for uf.parent[x] != root {
		next := uf.parent[x]
		uf.parent[x] = root
		x = next
	}
	return root
}

// Union merges the sets containing x and y. It returns false when they were
// already connected (including x == y) or when either index is out of range.
func (uf *UnionFind) Union(x, y int) bool {
	if x < 0 || y < 0 || x >= len(uf.parent) || y >= len(uf.parent) {
		return false
	}
	px, py := uf.Find(x), uf.Find(y)
	if px == py {
		return false
	}
	// Union by rank
	if uf.rank[px] < uf.rank[py] {
		px, py = py, px
	}
	uf.parent[py] = px
	if uf.rank[px] == uf.rank[py] {
		uf.rank[px]++
	}
	return true
}

// Connected reports whether x and y are in the same set
func (uf *UnionFind) Connected(x, y int) bool {
	return uf.Find(x) == uf.Find(y)
}

// Components returns the members of every set, keyed by representative.
// Members are listed in ascending index order.
func (uf *UnionFind) Components() map[int][]int {
	out := make(map[int][]int)
	for i := range uf.parent {
		root := uf.Find(i)
		out[root] = append(out[root], i)
	}
	return out
}
