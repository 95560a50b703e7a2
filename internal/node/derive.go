package node

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

const (
	slugMaxLen    = 50
	previewMaxLen = 200
)

var (
	nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)
	wsRun       = regexp.MustCompile(`\s+`)
	punctuation = regexp.MustCompile(`[^\w\s]`)

	// IDPattern is the shape every node id must match
	IDPattern = regexp.MustCompile(`^[a-z]+/[-a-z0-9]{1,50}-[0-9a-f]{6}$`)
)

var previewParser = goldmark.New()

// Slugify derives the slug portion of a node id from its title:
// lowercase, non-alphanumeric runs collapsed to '-', trimmed and
// truncated to 50 characters. An empty result becomes "untitled".
func Slugify(title string) string {
	s := strings.ToLower(title)
	s = nonAlnumRun.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > slugMaxLen {
		s = s[:slugMaxLen]
		s = strings.Trim(s, "-")
	}
	if s == "" {
		return "untitled"
	}
	return s
}

// NewID derives a node id "{type}/{slug}-{6-hex}" where the suffix is
// the first 6 hex chars of SHA-256 over "{type}:{title}:{creationMillis}".
func NewID(t Type, title string, createdAt time.Time) string {
	seed := fmt.Sprintf("%s:%s:%d", t, title, createdAt.UnixMilli())
	sum := sha256.Sum256([]byte(seed))
	return fmt.Sprintf("%s/%s-%x", t, Slugify(title), sum[:3])
}

// SemanticHash is the first 16 hex chars of SHA-256 over
// title + " " + content after normalization: lowercased, punctuation
// stripped, whitespace collapsed to single spaces, trimmed.
func SemanticHash(title, content string) string {
	s := strings.ToLower(title + " " + content)
	s = punctuation.ReplaceAllString(s, "")
	s = wsRun.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum[:8])
}

// Preview extracts up to 200 characters of plain text from markdown
// content. Headings are skipped entirely and whitespace is collapsed.
func Preview(content string) string {
	if content == "" {
		return ""
	}
	src := []byte(content)
	doc := previewParser.Parser().Parse(gmtext.NewReader(src))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if _, isHeading := n.(*ast.Heading); isHeading {
			return ast.WalkSkipChildren, nil
		}
		if t, ok := n.(*ast.Text); ok {
			buf.Write(t.Segment.Value(src))
			buf.WriteByte(' ')
		}
		return ast.WalkContinue, nil
	})

	out := strings.TrimSpace(wsRun.ReplaceAllString(buf.String(), " "))
	if len(out) > previewMaxLen {
		out = out[:previewMaxLen]
	}
	return out
}

// EdgeID is the deterministic edge identifier "{from}--{type}-->{to}"
func EdgeID(from string, t EdgeType, to string) string {
	return fmt.Sprintf("%s--%s-->%s", from, t, to)
}
