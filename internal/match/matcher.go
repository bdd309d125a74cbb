package match

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"photosweep/internal/bucket"
	"photosweep/internal/hash"
	"photosweep/internal/models"
)

// similarGroupNamespace seeds deterministic ids for groups that are not a
// single shared exact hash
var similarGroupNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("photosweep/duplicate-group"))

// Entry is one signed asset fed to the grouping engine
type Entry struct {
	Metadata  models.AssetMetadata
	Signature *models.AssetSignature
}

func (e Entry) CandidateID() string          { return e.Metadata.ID }
func (e Entry) CandidatePixels() int64       { return e.Metadata.Pixels() }
func (e Entry) CandidateCreated() *time.Time { return e.Metadata.CreationDate }

// CandidateBytes prefers the measured size over the metadata estimate
func (e Entry) CandidateBytes() int64 {
	if e.Signature != nil && e.Signature.MeasuredByteCount > 0 {
		return e.Signature.MeasuredByteCount
	}
	return e.Metadata.EstimatedBytes()
}

// Engine groups signed assets into duplicate groups
type Engine struct {
	mode      models.DuplicateMode
	threshold float64
	loc       *time.Location
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithLocation sets the time zone used for bucketing
func WithLocation(loc *time.Location) EngineOption {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// NewEngine creates an Engine. Thresholds outside (0, 1] fall back to the default.
func NewEngine(mode models.DuplicateMode, threshold float64, opts ...EngineOption) *Engine {
	if threshold <= 0 || threshold > 1 {
		threshold = ThresholdDefault
	}
	if mode == "" {
		mode = models.DuplicateExactOnly
	}
	e := &Engine{mode: mode, threshold: threshold, loc: time.UTC}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetThreshold returns the similarity threshold
func (e *Engine) GetThreshold() float64 {
	return e.threshold
}

type edge struct {
	a, b  int
	score float64
}

// FindGroups returns the duplicate groups among entries, sorted by group id.
// Perceptual comparison only happens between entries sharing a bucket.
func (e *Engine) FindGroups(entries []Entry) []models.DuplicateGroup {
	signed := comparableEntries(entries)
	n := len(signed)
	if n < 2 {
		return nil
	}

	uf := NewUnionFind(n)
	exact := make([]bool, n)
	var edges []edge

	// Identical bytes are a duplicate regardless of bucket, and a hash lookup
	// is linear, so exact matching runs over the whole pass.
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	for _, set := range exactSets(signed, all) {
		for _, i := range set {
			exact[i] = true
			uf.Union(set[0], i)
		}
	}

	if e.mode == models.DuplicateIncludeSimilar {
		buckets := make(map[bucket.Key][]int)
		for i, entry := range signed {
			key := bucket.KeyFor(entry.Metadata, e.loc)
			buckets[key] = append(buckets[key], i)
		}
		for _, indices := range buckets {
			if len(indices) >= 2 {
				edges = append(edges, e.similarEdges(signed, indices, uf)...)
			}
		}
	}

	var groups []models.DuplicateGroup
	for _, members := range uf.Components() {
		if len(members) < 2 {
			continue
		}
		groups = append(groups, e.buildGroup(signed, members, exact, edges, uf))
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].ID < groups[j].ID
	})
	return groups
}

// similarEdges compares every not-yet-connected pair in the bucket by
// perceptual signature and unions those that reach the threshold
func (e *Engine) similarEdges(signed []Entry, indices []int, uf *UnionFind) []edge {
	radius := maxDistance(e.threshold)
	tree := newBKTree(hash.HammingDistance)
	var edges []edge

	for _, i := range indices {
		sig := signed[i].Signature
		if !sig.HasPerceptual {
			continue
		}
		neighbors := tree.findWithinDistance(sig.Perceptual, radius)
		sort.Ints(neighbors)
		for _, j := range neighbors {
			if uf.Connected(i, j) {
				continue
			}
			score := SimilarityScore(sig.Perceptual, signed[j].Signature.Perceptual)
			if score >= e.threshold {
				uf.Union(i, j)
				edges = append(edges, edge{a: j, b: i, score: score})
			}
		}
		tree.insert(sig.Perceptual, i)
	}
	return edges
}

func (e *Engine) buildGroup(signed []Entry, members []int, exact []bool, edges []edge, uf *UnionFind) models.DuplicateGroup {
	candidates := make([]Entry, len(members))
	anyExact := false
	for k, i := range members {
		candidates[k] = signed[i]
		anyExact = anyExact || exact[i]
	}
	ordered := SortOriginalFirst(candidates)

	group := models.DuplicateGroup{
		OriginalID: ordered[0].Metadata.ID,
		MemberIDs:  make([]string, len(ordered)),
		Exact:      anyExact,
		Similarity: 1.0,
	}
	for k, c := range ordered {
		group.MemberIDs[k] = c.Metadata.ID
		if k > 0 {
			group.PotentialSavingsBytes += c.CandidateBytes()
		}
	}

	if !anyExact {
		root := uf.Find(members[0])
		minScore := math.Inf(1)
		for _, ed := range edges {
			if uf.Find(ed.a) == root && ed.score < minScore {
				minScore = ed.score
			}
		}
		if !math.IsInf(minScore, 1) {
			group.Similarity = minScore
		}
	}

	group.ID = groupID(candidates)
	return group
}

// groupID derives a stable id: the shared exact hash when every member has
// the same one, otherwise a name-based UUID over the sorted member ids
func groupID(members []Entry) string {
	shared := members[0].Signature.ExactHash
	ids := make([]string, len(members))
	for k, m := range members {
		ids[k] = m.Metadata.ID
		if m.Signature.ExactHash != shared {
			shared = ""
		}
	}
	if shared != "" {
		return "sha256:" + shared
	}
	sort.Strings(ids)
	return "similar:" + uuid.NewSHA1(similarGroupNamespace, []byte(strings.Join(ids, "\n"))).String()
}

// comparableEntries drops entries that cannot be compared and orders the
// rest by asset id, which fixes the union-find index space for the pass.
// Duplicate ids keep their first occurrence.
func comparableEntries(entries []Entry) []Entry {
	seen := make(map[string]bool, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if !entry.Signature.Comparable() || seen[entry.Metadata.ID] {
			continue
		}
		seen[entry.Metadata.ID] = true
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata.ID < out[j].Metadata.ID
	})
	return out
}
