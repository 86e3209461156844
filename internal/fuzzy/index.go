package fuzzy

import (
	"math"
	"sort"
)

// Posting records that the entry at Entry contains a gram Count times.
type Posting struct {
	Entry int
	Count int
}

type PostingList []Posting

// item is one slot of the per-gram-size entry arena.
type item struct {
	norm float64
	key  string
}

// scored pairs a score with a normalized key.
type scored struct {
	score float64
	key   string
}

// gramIndex is the inverted index for a single gram size. Entry indices are
// positions in items and are never reused; postings refer to them directly.
type gramIndex struct {
	size     int
	postings map[string]PostingList
	items    []item
}

func newGramIndex(size int) *gramIndex {
	return &gramIndex{
		size:     size,
		postings: make(map[string]PostingList),
	}
}

// add appends key to the arena and its grams to the posting lists.
func (g *gramIndex) add(key string) {
	entry := len(g.items)
	counts := GramCounts(key, g.size)

	var sumOfSquares int
	for gram, count := range counts {
		g.postings[gram] = append(g.postings[gram], Posting{Entry: entry, Count: count})
		sumOfSquares += count * count
	}
	g.items = append(g.items, item{
		norm: math.Sqrt(float64(sumOfSquares)),
		key:  key,
	})
}

// cosine scores every entry sharing at least one gram with query and returns
// them ordered by descending score, ties in entry order. A nil result means
// no entry overlaps the query at this gram size.
func (g *gramIndex) cosine(query string) []scored {
	counts := GramCounts(query, g.size)
	matches := make(map[int]int)

	var sumOfSquares int
	for gram, count := range counts {
		sumOfSquares += count * count
		for _, p := range g.postings[gram] {
			matches[p.Entry] += count * p.Count
		}
	}
	if len(matches) == 0 {
		return nil
	}

	entries := make([]int, 0, len(matches))
	for entry := range matches {
		entries = append(entries, entry)
	}
	sort.Ints(entries)

	queryNorm := math.Sqrt(float64(sumOfSquares))
	results := make([]scored, 0, len(entries))
	for _, entry := range entries {
		it := g.items[entry]
		results = append(results, scored{
			score: clamp(float64(matches[entry]) / (queryNorm * it.norm)),
			key:   it.key,
		})
	}
	sortDescending(results)
	return results
}

func sortDescending(results []scored) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
}

func clamp(score float64) float64 {
	switch {
	case score > 1:
		return 1
	case score < 0:
		return 0
	default:
		return score
	}
}
