package synthesis

import (
	"regexp"
	"sort"
	"strings"

	"github.com/nenadatanasovski/memory-cube/internal/node"
)

// Similarity thresholds
const (
	matchFloor    = 0.3  // matches below this are discarded
	linkThreshold = 0.5  // relate instead of creating fresh
	skipThreshold = 0.95 // effectively the same node
	topMatches    = 5
)

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// tokenize lowercases and splits into a word set
func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range tokenSplit.Split(strings.ToLower(s), -1) {
		if tok != "" {
			out[tok] = true
		}
	}
	return out
}

// jaccard is intersection over union of two token sets
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Similarity scores a candidate against an existing node:
// 0.5·titleJaccard + 0.3·contentJaccard + 0.2·tagOverlap
func Similarity(candidate ExtractedNode, existing *node.Node) float64 {
	title := jaccard(tokenize(candidate.Title), tokenize(existing.Title))
	content := jaccard(tokenize(candidate.Content), tokenize(existing.Content))

	tagOverlap := 0.0
	if len(candidate.Tags) > 0 || len(existing.Tags) > 0 {
		candidateTags := make(map[string]bool, len(candidate.Tags))
		for _, t := range candidate.Tags {
			candidateTags[strings.ToLower(t)] = true
		}
		existingTags := make(map[string]bool, len(existing.Tags))
		for _, t := range existing.Tags {
			existingTags[strings.ToLower(t)] = true
		}
		tagOverlap = jaccard(candidateTags, existingTags)
	}

	return 0.5*title + 0.3*content + 0.2*tagOverlap
}

// matchCandidate scores one candidate against every existing node of
// the same type, keeping the top 5 above the floor
func matchCandidate(candidate ExtractedNode, existing []*node.Node, dedupThreshold float64) Candidate {
	out := Candidate{ExtractedNode: candidate}

	for _, n := range existing {
		if n.Type != candidate.Type {
			continue
		}
		score := Similarity(candidate, n)
		if score < matchFloor {
			continue
		}
		out.Matches = append(out.Matches, Match{NodeID: n.ID, Title: n.Title, Similarity: score})
	}
	sort.SliceStable(out.Matches, func(i, j int) bool {
		return out.Matches[i].Similarity > out.Matches[j].Similarity
	})
	if len(out.Matches) > topMatches {
		out.Matches = out.Matches[:topMatches]
	}

	best := 0.0
	if len(out.Matches) > 0 {
		best = out.Matches[0].Similarity
	}
	switch {
	case best >= skipThreshold:
		out.Recommendation = RecommendSkip
	case best >= dedupThreshold:
		out.Recommendation = RecommendMerge
	case best >= linkThreshold:
		out.Recommendation = RecommendLink
	default:
		out.Recommendation = RecommendCreate
	}
	return out
}
