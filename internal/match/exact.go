package match

import "sort"

// exactSets partitions the given entry indices by exact content hash and
// returns every set shared by at least two entries. Entries without an exact
// hash are skipped. Sets and their members come back in ascending index order.
func exactSets(entries []Entry, indices []int) [][]int {
	byHash := make(map[string][]int)
	for _, i := range indices {
		h := entries[i].Signature.ExactHash
		if h != "" {
			byHash[h] = append(byHash[h], i)
		}
	}

	var sets [][]int
	for _, members := range byHash {
		if len(members) >= 2 {
			sets = append(sets, members)
		}
	}

	sort.Slice(sets, func(i, j int) bool {
		return sets[i][0] < sets[j][0]
	})
	return sets
}
