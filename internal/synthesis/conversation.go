package synthesis

import (
	"regexp"
	"sort"
	"strings"

	"github.com/nenadatanasovski/memory-cube/internal/node"
)

// replaceMargin: an overlapping entity replaces a kept one only when
// its confidence is higher by at least this much
const replaceMargin = 0.1

// message is one turn of a conversation
type message struct {
	role    string
	content string
	offset  int // byte offset of content within the concatenated text
}

// pattern is one member of a pattern family
type pattern struct {
	re         *regexp.Regexp
	confidence float64
	nodeType   node.Type
	priority   node.Priority // "" inherits normal
}

// The four pattern families: TASK, DECISION, IDEA, QUESTION. English-
// specific and approximate; recall beats precision here since creation
// is approval-gated downstream.
var conversationPatterns = []pattern{
	// TASK
	{regexp.MustCompile(`(?i)\b(?:we need to|need to|have to|must)\s+([^.!?\n]{5,120})`), 0.7, node.TypeTask, ""},
	{regexp.MustCompile(`(?i)\btodo:?\s+([^.!?\n]{3,120})`), 0.8, node.TypeTask, ""},
	{regexp.MustCompile(`(?i)\b(?:should|let's)\s+(?:probably\s+)?((?:implement|add|fix|build|write|create|refactor|remove|update)\s[^.!?\n]{3,120})`), 0.65, node.TypeTask, ""},
	{regexp.MustCompile(`(?i)\b(urgent(?:ly)?[^.!?\n]{0,20}(?:fix|implement|handle)\s[^.!?\n]{3,100})`), 0.75, node.TypeTask, node.PriorityHigh},
	// DECISION
	{regexp.MustCompile(`(?i)\b(?:we (?:decided|agreed) to|decision:?)\s+([^.!?\n]{5,120})`), 0.8, node.TypeDecision, ""},
	{regexp.MustCompile(`(?i)\b(?:we(?:'ll| will) go with|let's go with|settled on)\s+([^.!?\n]{3,120})`), 0.75, node.TypeDecision, ""},
	// IDEA
	{regexp.MustCompile(`(?i)\bwhat if\s+(?:we\s+)?([^.!?\n]{5,120})`), 0.6, node.TypeIdeation, ""},
	{regexp.MustCompile(`(?i)\b(?:idea:?|we could|maybe we (?:could|should))\s+([^.!?\n]{5,120})`), 0.6, node.TypeIdeation, ""},
	// QUESTION
	{regexp.MustCompile(`(?i)\b((?:how|why|what|when|where|which|who|can|could|does|do|is|are|will)\b[^.!?\n]{4,120})\?`), 0.5, node.TypeResearch, ""},
}

var rolePrefix = regexp.MustCompile(`(?im)^(user|assistant|human|ai|system)\s*[:>]\s*`)

// technicalVocabulary tags pulled from entity text
var technicalVocabulary = []string{
	"api", "database", "db", "auth", "authentication", "login", "ui",
	"frontend", "backend", "test", "testing", "deploy", "deployment",
	"bug", "security", "performance", "cache", "docs", "documentation",
	"config", "migration", "schema", "queue", "index",
}

var priorityMarkers = map[string]node.Priority{
	"urgent":    node.PriorityHigh,
	"asap":      node.PriorityHigh,
	"critical":  node.PriorityCritical,
	"important": node.PriorityHigh,
	"blocker":   node.PriorityCritical,
}

// ConversationExtractor finds tasks, decisions, ideas and questions in
// conversational text
type ConversationExtractor struct{}

// NewConversationExtractor creates the extractor
func NewConversationExtractor() *ConversationExtractor {
	return &ConversationExtractor{}
}

// Extract runs the pattern families over the conversation. Entities are
// deduplicated by byte overlap with a confidence margin; each message
// gets a coarse intent label.
func (x *ConversationExtractor) Extract(text, sourcePath string) Result {
	messages := splitMessages(text)

	var result Result
	for i, msg := range messages {
		result.Intents = append(result.Intents, MessageIntent{
			Index:  i,
			Role:   msg.role,
			Intent: classifyIntent(msg.content),
		})
	}

	var entities []ExtractedNode
	for _, msg := range messages {
		for _, p := range conversationPatterns {
			for _, loc := range p.re.FindAllStringSubmatchIndex(msg.content, -1) {
				// Group 1 is the entity text
				start, end := loc[2], loc[3]
				if start < 0 {
					continue
				}
				raw := msg.content[start:end]
				entity := ExtractedNode{
					Type:       p.nodeType,
					Title:      cleanTitle(raw),
					Content:    surroundingContext(msg.content, start, end),
					Tags:       extractTags(raw),
					Priority:   entityPriority(raw, p.priority),
					Confidence: p.confidence,
					Start:      msg.offset + start,
					End:        msg.offset + end,
					Source:     sourcePath,
				}
				entities = append(entities, entity)
			}
		}
	}

	result.Nodes = dedupeByOffset(entities)
	return result
}

// splitMessages cuts the input at role prefixes; unstructured text is a
// single user message
func splitMessages(text string) []message {
	locs := rolePrefix.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return []message{{role: "user", content: text}}
	}
	var messages []message
	for i, loc := range locs {
		role := strings.ToLower(text[loc[2]:loc[3]])
		contentStart := loc[1]
		contentEnd := len(text)
		if i+1 < len(locs) {
			contentEnd = locs[i+1][0]
		}
		messages = append(messages, message{
			role:    role,
			content: text[contentStart:contentEnd],
			offset:  contentStart,
		})
	}
	return messages
}

// classifyIntent assigns a coarse label to one message
func classifyIntent(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.Contains(trimmed, "?") {
		return "question"
	}
	lower := strings.ToLower(trimmed)
	for _, marker := range []string{"please ", "need to", "must ", "should ", "todo", "let's "} {
		if strings.Contains(lower, marker) {
			return "directive"
		}
	}
	return "statement"
}

// dedupeByOffset drops overlapping entities; on overlap the higher
// confidence wins, with a margin required to replace an already-kept
// entity
func dedupeByOffset(entities []ExtractedNode) []ExtractedNode {
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Start != entities[j].Start {
			return entities[i].Start < entities[j].Start
		}
		return entities[i].Confidence > entities[j].Confidence
	})

	var kept []ExtractedNode
	for _, candidate := range entities {
		overlapping := -1
		for i, existing := range kept {
			if candidate.Start < existing.End && existing.Start < candidate.End {
				overlapping = i
				break
			}
		}
		if overlapping < 0 {
			kept = append(kept, candidate)
			continue
		}
		if candidate.Confidence >= kept[overlapping].Confidence+replaceMargin {
			kept[overlapping] = candidate
		}
	}
	return kept
}

// cleanTitle sentence-cases an entity and caps it at 100 chars with an
// ellipsis
func cleanTitle(raw string) string {
	title := strings.TrimSpace(strings.Trim(raw, `"'`))
	title = strings.TrimRight(title, ".,;:")
	if title == "" {
		return title
	}
	runes := []rune(title)
	runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
	title = string(runes)
	if len(title) > 100 {
		title = strings.TrimSpace(title[:97]) + "..."
	}
	return title
}

// surroundingContext returns the entity plus 50 chars either side
func surroundingContext(content string, start, end int) string {
	from := start - 50
	if from < 0 {
		from = 0
	}
	to := end + 50
	if to > len(content) {
		to = len(content)
	}
	return strings.TrimSpace(content[from:to])
}

// extractTags pulls technical vocabulary out of the entity text
func extractTags(raw string) []string {
	lower := strings.ToLower(raw)
	tags := []string{}
	seen := map[string]bool{}
	for _, term := range technicalVocabulary {
		if seen[term] {
			continue
		}
		if containsWord(lower, term) {
			tags = append(tags, term)
			seen[term] = true
		}
	}
	for marker := range priorityMarkers {
		if containsWord(lower, marker) && !seen[marker] {
			tags = append(tags, marker)
			seen[marker] = true
		}
	}
	sort.Strings(tags)
	return tags
}

// entityPriority inherits the pattern's boost or scans for markers
func entityPriority(raw string, boost node.Priority) node.Priority {
	lower := strings.ToLower(raw)
	best := boost
	for marker, p := range priorityMarkers {
		if containsWord(lower, marker) {
			if best == "" || p.Rank() < best.Rank() {
				best = p
			}
		}
	}
	if best == "" {
		return node.PriorityNormal
	}
	return best
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		at := strings.Index(haystack[idx:], word)
		if at < 0 {
			return false
		}
		at += idx
		beforeOK := at == 0 || !isWordByte(haystack[at-1])
		afterIdx := at + len(word)
		afterOK := afterIdx >= len(haystack) || !isWordByte(haystack[afterIdx])
		if beforeOK && afterOK {
			return true
		}
		idx = at + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
