package synthesis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/nenadatanasovski/memory-cube/internal/node"
)

// CodeExtractor pulls functions and classes out of a single source file
// with regex passes. It is deliberately approximate; a grammar-accurate
// parser is out of scope for a recall-first heuristic.
type CodeExtractor struct{}

// NewCodeExtractor creates the extractor
func NewCodeExtractor() *CodeExtractor {
	return &CodeExtractor{}
}

// codeFunction is an intermediate record for one declaration
type codeFunction struct {
	name       string
	params     string
	docstring  string
	exported   bool
	complexity int
	deps       []string
	start      int
	end        int
	kind       string // "function" or "class"
	extends    string
}

var (
	funcDecl = regexp.MustCompile(`(?m)^[ \t]*(export[ \t]+)?(?:async[ \t]+)?func(?:tion)?[ \t]+(\w+)[ \t]*\(([^)]*)\)`)
	arrowDecl = regexp.MustCompile(`(?m)^[ \t]*(export[ \t]+)?(?:const|let|var)[ \t]+(\w+)[ \t]*=[ \t]*(?:async[ \t]*)?\(([^)]*)\)[ \t]*=>`)
	methodDecl = regexp.MustCompile(`(?m)^[ \t]{2,}(?:public[ \t]+|private[ \t]+|protected[ \t]+)?(?:static[ \t]+)?(?:async[ \t]+)?(\w+)[ \t]*\(([^)]*)\)[ \t]*\{`)
	classDecl = regexp.MustCompile(`(?m)^[ \t]*(export[ \t]+)?(?:abstract[ \t]+)?class[ \t]+(\w+)(?:[ \t]+extends[ \t]+(\w+))?(?:[ \t]+implements[ \t]+([\w,\s]+?))?[ \t]*\{`)

	decisionPoints = regexp.MustCompile(`\bif\b|\belse[ \t]+if\b|\bfor\b|\bwhile\b|\bswitch\b|\bcase\b|\bcatch\b|\?[^.:]|&&|\|\|`)
	callSite       = regexp.MustCompile(`\b(\w+)[ \t]*\(`)
)

// callDenylist filters keywords and ambient builtins out of dependency
// candidates
var callDenylist = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"return": true, "function": true, "func": true, "new": true,
	"typeof": true, "await": true, "async": true, "case": true,
	"console": true, "log": true, "require": true, "import": true,
	"println": true, "printf": true, "len": true, "make": true,
	"append": true, "panic": true, "defer": true, "go": true,
	"constructor": true, "super": true, "this": true,
}

// Extract parses one file. Every exported function and every class
// becomes a candidate code node; class extends yields a part-of
// relation; same-module calls yield depends-on relations.
func (x *CodeExtractor) Extract(source, language, sourcePath string) Result {
	functions := x.scan(source, language)

	byName := make(map[string]*codeFunction, len(functions))
	for i := range functions {
		byName[functions[i].name] = &functions[i]
	}

	var result Result
	for i := range functions {
		fn := &functions[i]
		if fn.kind == "function" && !fn.exported {
			continue
		}
		title := fn.name
		if fn.kind == "class" {
			title = "class " + fn.name
		}
		content := fn.docstring
		if content == "" {
			content = fmt.Sprintf("%s %s(%s)", fn.kind, fn.name, fn.params)
		}
		result.Nodes = append(result.Nodes, ExtractedNode{
			Type:       node.TypeCode,
			Title:      title,
			Content:    content,
			Tags:       codeTags(fn, language),
			Priority:   node.PriorityNormal,
			Confidence: codeConfidence(fn),
			Start:      fn.start,
			End:        fn.end,
			Source:     sourcePath,
		})

		if fn.kind == "class" && fn.extends != "" {
			result.Relations = append(result.Relations, ExtractedRelation{
				FromTitle:  title,
				ToTitle:    "class " + fn.extends,
				Type:       node.EdgePartOf,
				Confidence: 0.9,
			})
		}
		for _, dep := range fn.deps {
			if dep == fn.name {
				continue
			}
			if _, sameModule := byName[dep]; sameModule {
				result.Relations = append(result.Relations, ExtractedRelation{
					FromTitle:  title,
					ToTitle:    dep,
					Type:       node.EdgeDependsOn,
					Confidence: 0.7,
				})
			}
		}
	}
	return result
}

// scan collects declarations with their bodies, docstrings, complexity
// and call dependencies
func (x *CodeExtractor) scan(source, language string) []codeFunction {
	var out []codeFunction
	seen := map[string]bool{}

	add := func(name, params string, exported bool, start, end int, kind, extends string) {
		if name == "" || seen[kind+"/"+name] {
			return
		}
		seen[kind+"/"+name] = true
		body := declarationBody(source, start)
		out = append(out, codeFunction{
			name:       name,
			params:     params,
			docstring:  precedingDoc(source, start),
			exported:   exported,
			complexity: 1 + len(decisionPoints.FindAllString(body, -1)),
			deps:       callDependencies(body),
			start:      start,
			end:        end,
			kind:       kind,
			extends:    extends,
		})
	}

	for _, loc := range classDecl.FindAllStringSubmatchIndex(source, -1) {
		exported := loc[2] >= 0 || isCapitalized(group(source, loc, 2))
		extends := group(source, loc, 3)
		add(group(source, loc, 2), "", exported, loc[0], loc[1], "class", extends)
	}
	for _, loc := range funcDecl.FindAllStringSubmatchIndex(source, -1) {
		name := group(source, loc, 2)
		exported := loc[2] >= 0 || isExportedName(name, language)
		add(name, group(source, loc, 3), exported, loc[0], loc[1], "function", "")
	}
	for _, loc := range arrowDecl.FindAllStringSubmatchIndex(source, -1) {
		name := group(source, loc, 2)
		exported := loc[2] >= 0 || isExportedName(name, language)
		add(name, group(source, loc, 3), exported, loc[0], loc[1], "function", "")
	}
	for _, loc := range methodDecl.FindAllStringSubmatchIndex(source, -1) {
		name := group(source, loc, 1)
		if callDenylist[name] {
			continue
		}
		add(name, group(source, loc, 2), true, loc[0], loc[1], "function", "")
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

// group returns submatch n of a FindAllStringSubmatchIndex location
func group(source string, loc []int, n int) string {
	if 2*n+1 >= len(loc) || loc[2*n] < 0 {
		return ""
	}
	return source[loc[2*n]:loc[2*n+1]]
}

// declarationBody returns the brace-balanced body following a
// declaration, or the rest of the line when no brace opens
func declarationBody(source string, start int) string {
	open := strings.IndexByte(source[start:], '{')
	if open < 0 {
		end := strings.IndexByte(source[start:], '\n')
		if end < 0 {
			return source[start:]
		}
		return source[start : start+end]
	}
	depth := 0
	for i := start + open; i < len(source); i++ {
		switch source[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return source[start+open : i+1]
			}
		}
	}
	return source[start+open:]
}

// precedingDoc attaches the comment block immediately above a
// declaration: /** ... */, /// or // runs, or # runs
func precedingDoc(source string, start int) string {
	head := source[:start]
	lineStart := strings.LastIndexByte(head, '\n')
	if lineStart < 0 {
		return ""
	}
	head = head[:lineStart]

	// Block comment ending right above
	if trimmed := strings.TrimRight(head, " \t\n"); strings.HasSuffix(trimmed, "*/") {
		if open := strings.LastIndex(trimmed, "/*"); open >= 0 {
			return cleanDocBlock(trimmed[open:])
		}
	}

	// Runs of line comments
	var lines []string
	for {
		nl := strings.LastIndexByte(head, '\n')
		line := strings.TrimSpace(head[nl+1:])
		if strings.HasPrefix(line, "//") {
			lines = append([]string{strings.TrimSpace(strings.TrimLeft(line, "/ "))}, lines...)
		} else if strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "#!") {
			lines = append([]string{strings.TrimSpace(strings.TrimLeft(line, "# "))}, lines...)
		} else {
			break
		}
		if nl < 0 {
			break
		}
		head = head[:nl]
	}
	return strings.Join(lines, " ")
}

func cleanDocBlock(block string) string {
	block = strings.TrimPrefix(block, "/**")
	block = strings.TrimPrefix(block, "/*")
	block = strings.TrimSuffix(block, "*/")
	var lines []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "* "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, " ")
}

// callDependencies lists identifiers in call position, denylist
// filtered, in first-seen order
func callDependencies(body string) []string {
	var deps []string
	seen := map[string]bool{}
	for _, m := range callSite.FindAllStringSubmatch(body, -1) {
		name := m[1]
		if callDenylist[name] || seen[name] {
			continue
		}
		seen[name] = true
		deps = append(deps, name)
	}
	return deps
}

func codeTags(fn *codeFunction, language string) []string {
	tags := []string{"code"}
	if language != "" {
		tags = append(tags, strings.ToLower(language))
	}
	if fn.kind == "class" {
		tags = append(tags, "class")
	}
	if fn.complexity > 10 {
		tags = append(tags, "complex")
	}
	return tags
}

// codeConfidence: classes parse more reliably than loose declarations
func codeConfidence(fn *codeFunction) float64 {
	if fn.kind == "class" {
		return 0.9
	}
	if fn.docstring != "" {
		return 0.85
	}
	return 0.8
}

func isCapitalized(name string) bool {
	return name != "" && name[0] >= 'A' && name[0] <= 'Z'
}

// isExportedName: Go exports by capitalization; other languages need
// the export keyword, so bare declarations stay unexported
func isExportedName(name, language string) bool {
	switch strings.ToLower(language) {
	case "go", "golang":
		return isCapitalized(name)
	default:
		return false
	}
}
