package synthesis

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nenadatanasovski/memory-cube/internal/graph"
	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/types"
)

// Pipeline defaults
const (
	DefaultMinConfidence  = 0.5
	DefaultDedupThreshold = 0.8
)

// Options configures a Pipeline
type Options struct {
	Graph           *graph.Graph
	MinConfidence   float64
	DedupThreshold  float64
	RequireApproval bool
	Logger          *zap.Logger
}

// Pipeline routes sources through the extractors, filters by
// confidence, deduplicates against the graph and applies the outcome
type Pipeline struct {
	g              *graph.Graph
	conversation   *ConversationExtractor
	code           *CodeExtractor
	minConfidence  float64
	dedupThreshold float64
	requireApproval bool
	logger         *zap.Logger
}

// NewPipeline creates a synthesis pipeline over the graph facade
func NewPipeline(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		g:               opts.Graph,
		conversation:    NewConversationExtractor(),
		code:            NewCodeExtractor(),
		minConfidence:   opts.MinConfidence,
		dedupThreshold:  opts.DedupThreshold,
		requireApproval: opts.RequireApproval,
		logger:          logger.Named("synthesis"),
	}
	if p.minConfidence <= 0 {
		p.minConfidence = DefaultMinConfidence
	}
	if p.dedupThreshold <= 0 {
		p.dedupThreshold = DefaultDedupThreshold
	}
	return p
}

// Extract runs every source through its extractor, concatenates the
// outputs and filters nodes below the confidence floor
func (p *Pipeline) Extract(sources []Source) (Result, error) {
	var combined Result
	for _, src := range sources {
		var result Result
		switch src.Type {
		case SourceConversation:
			result = p.conversation.Extract(src.Content, src.Path)
		case SourceCode:
			result = p.code.Extract(src.Content, src.Language, src.Path)
		default:
			return Result{}, types.E(types.KindInvalidInput, "synthesis.extract",
				"unknown source type %q", src.Type)
		}
		combined.Nodes = append(combined.Nodes, result.Nodes...)
		combined.Relations = append(combined.Relations, result.Relations...)
		combined.Intents = append(combined.Intents, result.Intents...)
	}

	kept := combined.Nodes[:0]
	for _, n := range combined.Nodes {
		if n.Confidence >= p.minConfidence {
			kept = append(kept, n)
		}
	}
	combined.Nodes = kept
	return combined, nil
}

// Dedup scores every extracted node against the graph's nodes of the
// same type and attaches a recommendation
func (p *Pipeline) Dedup(result Result) ([]Candidate, error) {
	existing, err := p.g.Query(graph.QueryOptions{IncludeContent: true})
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(result.Nodes))
	for _, extracted := range result.Nodes {
		candidates = append(candidates, matchCandidate(extracted, existing, p.dedupThreshold))
	}
	return candidates, nil
}

// CreateNodes applies recommendations through the graph facade:
// create makes a node, merge folds tags and content into the best
// match, link creates the node plus a relates-to edge, skip does
// nothing. With approval required, only approved candidate titles are
// applied. Relations between created nodes materialize afterwards.
func (p *Pipeline) CreateNodes(ctx context.Context, candidates []Candidate, relations []ExtractedRelation, approved map[string]bool) (*ApplyReport, error) {
	report := &ApplyReport{}
	created := make(map[string]string) // candidate title -> node id

	for _, candidate := range candidates {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}
		if p.requireApproval && !approved[candidate.Title] {
			report.Skipped++
			continue
		}

		switch candidate.Recommendation {
		case RecommendSkip:
			report.Skipped++

		case RecommendMerge:
			target := candidate.Matches[0].NodeID
			if err := p.merge(target, candidate); err != nil {
				return report, err
			}
			report.Merged = append(report.Merged, target)

		case RecommendLink:
			id, err := p.createNode(candidate)
			if err != nil {
				return report, err
			}
			created[candidate.Title] = id
			report.Created = append(report.Created, id)
			if _, err := p.g.Link(id, node.EdgeRelatesTo, candidate.Matches[0].NodeID, nil); err != nil && !types.IsKind(err, types.KindConflict) {
				return report, err
			}
			report.Linked = append(report.Linked, candidate.Matches[0].NodeID)

		default: // create
			id, err := p.createNode(candidate)
			if err != nil {
				return report, err
			}
			created[candidate.Title] = id
			report.Created = append(report.Created, id)
		}
	}

	for _, rel := range relations {
		from, okFrom := created[rel.FromTitle]
		to, okTo := created[rel.ToTitle]
		if !okFrom || !okTo {
			continue
		}
		if _, err := p.g.Link(from, rel.Type, to, nil); err != nil && !types.IsKind(err, types.KindConflict) {
			p.logger.Warn("relation link failed", zap.String("from", from), zap.String("to", to), zap.Error(err))
		}
	}
	return report, nil
}

func (p *Pipeline) createNode(candidate Candidate) (string, error) {
	n, err := p.g.Create(node.CreateInput{
		Type:      candidate.Type,
		Title:     candidate.Title,
		Content:   candidate.Content,
		Priority:  candidate.Priority,
		Tags:      candidate.Tags,
		CreatedBy: "synthesis",
	}, nil)
	if err != nil {
		return "", err
	}
	confidence := candidate.Confidence
	if _, err := p.g.Update(n.ID, node.UpdateInput{Confidence: &confidence}); err != nil {
		return n.ID, err
	}
	return n.ID, nil
}

// merge folds a candidate into an existing node: union of tags, the
// candidate context appended to the content
func (p *Pipeline) merge(targetID string, candidate Candidate) error {
	existing, err := p.g.Get(targetID)
	if err != nil {
		return err
	}

	tagSet := map[string]bool{}
	merged := append([]string{}, existing.Tags...)
	for _, t := range existing.Tags {
		tagSet[t] = true
	}
	for _, t := range candidate.Tags {
		if !tagSet[t] {
			merged = append(merged, t)
			tagSet[t] = true
		}
	}
	sort.Strings(merged)

	in := node.UpdateInput{Tags: &merged}
	if candidate.Content != "" && !strings.Contains(existing.Content, candidate.Content) {
		content := existing.Content
		if content != "" {
			content += "\n\n"
		}
		content += candidate.Content
		in.Content = &content
	}
	_, err = p.g.Update(targetID, in)
	return err
}
