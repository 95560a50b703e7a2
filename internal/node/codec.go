package node

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nenadatanasovski/memory-cube/internal/types"
)

// timeLayout is the wire format for header timestamps: strict ISO-8601
// UTC with millisecond precision.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Encode renders a node into its file form: a '---'-delimited header in
// fixed key order, a blank line, '# <title>', a blank line, then the body.
func Encode(n *Node) []byte {
	var b strings.Builder
	b.WriteString("---\n")
	writeScalar(&b, 0, "id", n.ID)
	writeScalar(&b, 0, "type", string(n.Type))
	writeScalar(&b, 0, "version", strconv.Itoa(n.Version))
	writeScalar(&b, 0, "status", string(n.Status))
	writeScalar(&b, 0, "validity", string(n.Validity))
	writeScalar(&b, 0, "confidence", formatFloat(n.Confidence))
	writeScalar(&b, 0, "priority", string(n.Priority))
	writeInlineList(&b, "tags", n.Tags)
	writeNullable(&b, "created_by", n.CreatedBy)
	writeNullable(&b, "assigned_to", n.AssignedTo)
	writeNullable(&b, "locked_by", n.LockedBy)
	writeScalar(&b, 0, "created_at", n.CreatedAt.UTC().Format(timeLayout))
	writeScalar(&b, 0, "modified_at", n.ModifiedAt.UTC().Format(timeLayout))
	if n.DueAt != nil {
		writeScalar(&b, 0, "due_at", n.DueAt.UTC().Format(timeLayout))
	} else {
		b.WriteString("due_at: null\n")
	}
	b.WriteString("ordering:\n")
	writeNullableIndented(&b, 1, "superseded_by", n.Ordering.SupersededBy)
	writeScalar(&b, 1, "semantic_hash", n.Ordering.SemanticHash)
	writeScalar(&b, 1, "source_freshness", n.Ordering.SourceFreshness)
	if len(n.Edges) == 0 {
		b.WriteString("edges: []\n")
	} else {
		b.WriteString("edges:\n")
		for _, e := range n.Edges {
			b.WriteString("  - ")
			b.WriteString("type: ")
			b.WriteString(quoteIfNeeded(string(e.Type)))
			b.WriteByte('\n')
			writeScalar(&b, 2, "target", e.To)
			if len(e.Metadata) > 0 {
				b.WriteString("    metadata:\n")
				keys := make([]string, 0, len(e.Metadata))
				for k := range e.Metadata {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					writeScalar(&b, 3, k, e.Metadata[k])
				}
			}
		}
	}
	if len(n.Actions) == 0 {
		b.WriteString("actions: []\n")
	} else {
		b.WriteString("actions:\n")
		for _, a := range n.Actions {
			keys := make([]string, 0, len(a))
			for k := range a {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for i, k := range keys {
				if i == 0 {
					b.WriteString("  - ")
					b.WriteString(k)
					b.WriteString(": ")
					b.WriteString(quoteIfNeeded(a[k]))
					b.WriteByte('\n')
				} else {
					writeScalar(&b, 2, k, a[k])
				}
			}
		}
	}
	b.WriteString("---\n")
	b.WriteString("\n")
	b.WriteString("# ")
	b.WriteString(n.Title)
	b.WriteString("\n\n")
	b.WriteString(n.Content)
	if n.Content != "" && !strings.HasSuffix(n.Content, "\n") {
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// header mirrors the machine-readable block for yaml decoding
type header struct {
	ID         string   `yaml:"id"`
	Type       string   `yaml:"type"`
	Version    int      `yaml:"version"`
	Status     string   `yaml:"status"`
	Validity   string   `yaml:"validity"`
	Confidence float64  `yaml:"confidence"`
	Priority   string   `yaml:"priority"`
	Tags       []string `yaml:"tags"`
	CreatedBy  *string  `yaml:"created_by"`
	AssignedTo *string  `yaml:"assigned_to"`
	LockedBy   *string  `yaml:"locked_by"`
	CreatedAt  string   `yaml:"created_at"`
	ModifiedAt string   `yaml:"modified_at"`
	DueAt      *string  `yaml:"due_at"`
	Ordering   struct {
		SupersededBy    *string `yaml:"superseded_by"`
		SemanticHash    string  `yaml:"semantic_hash"`
		SourceFreshness string  `yaml:"source_freshness"`
	} `yaml:"ordering"`
	Edges []struct {
		Type     string            `yaml:"type"`
		Target   string            `yaml:"target"`
		Metadata map[string]string `yaml:"metadata"`
	} `yaml:"edges"`
	Actions []map[string]string `yaml:"actions"`
}

// Decode parses a node file. filePath is recorded on the result; it is
// not used for derivation.
func Decode(data []byte, filePath string) (*Node, error) {
	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return nil, types.E(types.KindMalformedNode, "node.decode", "missing header delimiter")
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	var headerText, body string
	if end >= 0 {
		headerText = rest[:end+1]
		body = rest[end+len("\n---\n"):]
	} else if strings.HasSuffix(rest, "\n---") {
		headerText = rest[:len(rest)-len("---")]
		body = ""
	} else {
		return nil, types.E(types.KindMalformedNode, "node.decode", "unterminated header")
	}

	var h header
	if err := yaml.Unmarshal([]byte(headerText), &h); err != nil {
		return nil, types.Wrap(types.KindMalformedNode, "node.decode", err)
	}
	if h.ID == "" {
		return nil, types.E(types.KindMalformedNode, "node.decode", "missing id")
	}

	n := &Node{
		ID:         h.ID,
		Type:       Type(h.Type),
		Version:    h.Version,
		Status:     Status(h.Status),
		Validity:   Validity(h.Validity),
		Confidence: h.Confidence,
		Priority:   Priority(h.Priority),
		Tags:       h.Tags,
		CreatedBy:  deref(h.CreatedBy),
		AssignedTo: deref(h.AssignedTo),
		LockedBy:   deref(h.LockedBy),
		FilePath:   filePath,
	}
	if n.Tags == nil {
		n.Tags = []string{}
	}
	if !n.Type.Valid() {
		return nil, types.E(types.KindMalformedNode, "node.decode", "unknown node type %q", h.Type)
	}
	if !n.Status.Valid() {
		return nil, types.E(types.KindMalformedNode, "node.decode", "unknown status %q", h.Status)
	}
	if !n.Validity.Valid() {
		return nil, types.E(types.KindMalformedNode, "node.decode", "unknown validity %q", h.Validity)
	}
	if !n.Priority.Valid() {
		return nil, types.E(types.KindMalformedNode, "node.decode", "unknown priority %q", h.Priority)
	}

	var err error
	if n.CreatedAt, err = parseTime(h.CreatedAt); err != nil {
		return nil, types.E(types.KindMalformedNode, "node.decode", "bad created_at %q", h.CreatedAt)
	}
	if n.ModifiedAt, err = parseTime(h.ModifiedAt); err != nil {
		return nil, types.E(types.KindMalformedNode, "node.decode", "bad modified_at %q", h.ModifiedAt)
	}
	if h.DueAt != nil && *h.DueAt != "" {
		due, err := parseTime(*h.DueAt)
		if err != nil {
			return nil, types.E(types.KindMalformedNode, "node.decode", "bad due_at %q", *h.DueAt)
		}
		n.DueAt = &due
	}

	n.Ordering = Ordering{
		SupersededBy:    deref(h.Ordering.SupersededBy),
		SemanticHash:    h.Ordering.SemanticHash,
		SourceFreshness: h.Ordering.SourceFreshness,
	}

	n.Edges = make([]Edge, 0, len(h.Edges))
	for _, e := range h.Edges {
		et := EdgeType(e.Type)
		if !et.Valid() {
			return nil, types.E(types.KindMalformedNode, "node.decode", "unknown edge type %q", e.Type)
		}
		n.Edges = append(n.Edges, Edge{
			ID:       EdgeID(n.ID, et, e.Target),
			Type:     et,
			From:     n.ID,
			To:       e.Target,
			Metadata: e.Metadata,
		})
	}
	n.Actions = h.Actions
	if n.Actions == nil {
		n.Actions = []map[string]string{}
	}

	n.Title, n.Content = splitBody(body)
	n.ContentPreview = Preview(n.Content)
	return n, nil
}

// splitBody extracts the '# ' title line and the trailing content
func splitBody(body string) (string, string) {
	body = strings.TrimLeft(body, "\n")
	if !strings.HasPrefix(body, "# ") {
		return "", strings.TrimRight(body, "\n")
	}
	body = body[2:]
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		return body, ""
	}
	title := body[:nl]
	content := strings.TrimLeft(body[nl+1:], "\n")
	return title, strings.TrimRight(content, "\n")
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// quoteIfNeeded JSON-escape-quotes a scalar when it contains ':', '#'
// or a line break; otherwise it is written plain
func quoteIfNeeded(v string) string {
	if strings.ContainsAny(v, ":#\n") {
		return strconv.Quote(v)
	}
	return v
}

func writeScalar(b *strings.Builder, indent int, key, value string) {
	b.WriteString(strings.Repeat("  ", indent))
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(quoteIfNeeded(value))
	b.WriteByte('\n')
}

func writeNullable(b *strings.Builder, key, value string) {
	writeNullableIndented(b, 0, key, value)
}

func writeNullableIndented(b *strings.Builder, indent int, key, value string) {
	b.WriteString(strings.Repeat("  ", indent))
	b.WriteString(key)
	b.WriteString(": ")
	if value == "" {
		b.WriteString("null")
	} else {
		b.WriteString(quoteIfNeeded(value))
	}
	b.WriteByte('\n')
}

// writeInlineList writes a homogeneous primitive list in JSON-array
// notation, e.g. tags: ["api","auth"]
func writeInlineList(b *strings.Builder, key string, values []string) {
	b.WriteString(key)
	b.WriteString(": [")
	for i, v := range values {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(strconv.Quote(v))
	}
	b.WriteString("]\n")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// String renders the file form for debugging
func (n *Node) String() string {
	return fmt.Sprintf("%s v%d (%s/%s)", n.ID, n.Version, n.Status, n.Validity)
}
