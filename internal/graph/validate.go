package graph

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/workspace"
)

// ValidationIssue describes one problem found by Validate
type ValidationIssue struct {
	NodeID  string `json:"nodeId,omitempty"`
	File    string `json:"file"`
	Problem string `json:"problem"`
	Detail  string `json:"detail,omitempty"`
}

// ValidationReport aggregates workspace problems. Duplicate edges and
// dangling targets are tolerated at query time; this is the surface
// that reports them instead of silently repairing.
type ValidationReport struct {
	Scanned int               `json:"scanned"`
	Issues  []ValidationIssue `json:"issues"`
}

// Validate scans every node file for decode failures, duplicate edges
// within a file, and edges whose target no longer exists
func (g *Graph) Validate() (*ValidationReport, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	report := &ValidationReport{}
	root := g.ws.Path(workspace.NodesDir)
	typeDirs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}
		return nil, err
	}

	known := make(map[string]bool)
	type parsed struct {
		n    *node.Node
		file string
	}
	var nodes []parsed

	for _, dir := range typeDirs {
		if !dir.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, dir.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if !strings.HasSuffix(f.Name(), ".md") {
				continue
			}
			rel := filepath.Join(workspace.NodesDir, dir.Name(), f.Name())
			report.Scanned++
			data, err := os.ReadFile(filepath.Join(root, dir.Name(), f.Name()))
			if err != nil {
				report.Issues = append(report.Issues, ValidationIssue{File: rel, Problem: "unreadable", Detail: err.Error()})
				continue
			}
			n, err := node.Decode(data, rel)
			if err != nil {
				report.Issues = append(report.Issues, ValidationIssue{File: rel, Problem: "malformed", Detail: err.Error()})
				continue
			}
			known[n.ID] = true
			nodes = append(nodes, parsed{n: n, file: rel})
		}
	}

	for _, p := range nodes {
		seen := make(map[string]bool)
		for _, e := range p.n.Edges {
			if seen[e.ID] {
				report.Issues = append(report.Issues, ValidationIssue{
					NodeID: p.n.ID, File: p.file,
					Problem: "duplicate-edge", Detail: e.ID,
				})
			}
			seen[e.ID] = true
			if !known[e.To] {
				report.Issues = append(report.Issues, ValidationIssue{
					NodeID: p.n.ID, File: p.file,
					Problem: "dangling-edge", Detail: e.ID,
				})
			}
		}
	}
	return report, nil
}
