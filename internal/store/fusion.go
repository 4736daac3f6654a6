package store

import "sort"

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is
// empirically validated across domains (Azure AI Search, OpenSearch).
const DefaultRRFConstant = 60

// Weights control the relative contribution of each search source during
// fusion. They should sum to 1.0.
type Weights struct {
	Keyword float64
	Vector  float64
}

// DefaultWeights favor semantic similarity slightly over keyword match,
// which works well for question-style queries over prose.
func DefaultWeights() Weights {
	return Weights{Keyword: 0.4, Vector: 0.6}
}

// FusedResult is a single result after Reciprocal Rank Fusion.
type FusedResult struct {
	DocID        string
	RRFScore     float64 // combined score, normalized 0-1
	KeywordScore float64 // original BM25 score
	KeywordRank  int     // 1-indexed, 0 if absent
	VectorScore  float64 // original similarity score
	VectorRank   int     // 1-indexed, 0 if absent
	InBothLists  bool
}

// RRFFusion combines keyword and vector results with Reciprocal Rank Fusion:
//
//	RRF_score(d) = Σ weight_i / (k + rank_i)
//
// where rank_i is the 1-indexed position of d in ranked list i.
type RRFFusion struct {
	K int
}

// NewRRFFusion returns a fusion instance with the given smoothing constant.
// k <= 0 falls back to the default of 60.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse combines keyword and vector results.
//
// A document appearing in only one list has the other source contribute at
// missing_rank = max(len(keyword), len(vector)) + 1, so single-list hits are
// penalized rather than ignored.
//
// Output is sorted by RRFScore desc, then in-both-lists first, then keyword
// score desc, then DocID asc for determinism.
func (f *RRFFusion) Fuse(keyword []*KeywordResult, vector []*VectorResult, weights Weights) []*FusedResult {
	if len(keyword) == 0 && len(vector) == 0 {
		return []*FusedResult{}
	}

	scores := make(map[string]*FusedResult, len(keyword)+len(vector))

	for rank, r := range keyword {
		result := f.getOrCreate(scores, r.DocID)
		result.KeywordScore = r.Score
		result.KeywordRank = rank + 1
		result.RRFScore += weights.Keyword / float64(f.K+rank+1)
	}

	for rank, r := range vector {
		result := f.getOrCreate(scores, r.ID)
		result.VectorScore = float64(r.Score)
		result.VectorRank = rank + 1
		result.RRFScore += weights.Vector / float64(f.K+rank+1)
		if result.KeywordRank > 0 {
			result.InBothLists = true
		}
	}

	missingRank := max(len(keyword), len(vector)) + 1
	for _, r := range scores {
		if r.KeywordRank == 0 && r.VectorRank > 0 {
			r.RRFScore += weights.Keyword / float64(f.K+missingRank)
		}
		if r.VectorRank == 0 && r.KeywordRank > 0 {
			r.RRFScore += weights.Vector / float64(f.K+missingRank)
		}
	}

	results := make([]*FusedResult, 0, len(scores))
	for _, r := range scores {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return f.compare(results[i], results[j])
	})

	f.normalize(results)
	return results
}

func (f *RRFFusion) getOrCreate(m map[string]*FusedResult, id string) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{DocID: id}
	m[id] = r
	return r
}

// compare returns true if a ranks before b.
func (f *RRFFusion) compare(a, b *FusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.InBothLists != b.InBothLists {
		return a.InBothLists
	}
	if a.KeywordScore != b.KeywordScore {
		return a.KeywordScore > b.KeywordScore
	}
	return a.DocID < b.DocID
}

// normalize scales scores so the top result is 1.0.
func (f *RRFFusion) normalize(results []*FusedResult) {
	if len(results) == 0 {
		return
	}
	maxScore := results[0].RRFScore
	if maxScore == 0 {
		return
	}
	for _, r := range results {
		r.RRFScore /= maxScore
	}
}
