package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nenadatanasovski/memory-cube/internal/graph"
	"github.com/nenadatanasovski/memory-cube/internal/index"
	"github.com/nenadatanasovski/memory-cube/internal/node"
)

var createFlags struct {
	nodeType string
	content  string
	status   string
	priority string
	tags     []string
	assign   string
	due      string
}

var createCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a node",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := openGraph()
		if err != nil {
			return err
		}
		defer g.Close()

		in := node.CreateInput{
			Type:       node.Type(createFlags.nodeType),
			Title:      args[0],
			Content:    createFlags.content,
			Status:     node.Status(createFlags.status),
			Priority:   node.Priority(createFlags.priority),
			Tags:       createFlags.tags,
			AssignedTo: createFlags.assign,
			CreatedBy:  "cli",
		}
		if createFlags.due != "" {
			due, err := time.Parse(time.RFC3339, createFlags.due)
			if err != nil {
				return usage(fmt.Errorf("bad --due %q: %w", createFlags.due, err))
			}
			in.DueAt = &due
		}
		n, err := g.Create(in, nil)
		if err != nil {
			return err
		}
		return printJSON(n)
	},
}

var getContent bool

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Load a node from its file",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := openGraph()
		if err != nil {
			return err
		}
		defer g.Close()

		n, err := g.Get(args[0])
		if err != nil {
			return err
		}
		if !getContent {
			n = node.Clone(n)
			n.Content = ""
		}
		return printJSON(n)
	},
}

var updateFlags struct {
	title      string
	content    string
	status     string
	validity   string
	priority   string
	assign     string
	confidence float64
	tags       []string
}

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Apply a partial update to a node",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := openGraph()
		if err != nil {
			return err
		}
		defer g.Close()

		var in node.UpdateInput
		if cmd.Flags().Changed("title") {
			in.Title = &updateFlags.title
		}
		if cmd.Flags().Changed("content") {
			in.Content = &updateFlags.content
		}
		if cmd.Flags().Changed("status") {
			status := node.Status(updateFlags.status)
			in.Status = &status
		}
		if cmd.Flags().Changed("validity") {
			validity := node.Validity(updateFlags.validity)
			in.Validity = &validity
		}
		if cmd.Flags().Changed("priority") {
			priority := node.Priority(updateFlags.priority)
			in.Priority = &priority
		}
		if cmd.Flags().Changed("assign") {
			in.AssignedTo = &updateFlags.assign
		}
		if cmd.Flags().Changed("confidence") {
			in.Confidence = &updateFlags.confidence
		}
		if cmd.Flags().Changed("tags") {
			in.Tags = &updateFlags.tags
		}
		n, err := g.Update(args[0], in)
		if err != nil {
			return err
		}
		return printJSON(n)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a node and its index rows",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := openGraph()
		if err != nil {
			return err
		}
		defer g.Close()
		return g.Delete(args[0])
	},
}

var linkCmd = &cobra.Command{
	Use:   "link <from> <edge-type> <to>",
	Short: "Add a typed edge between two nodes",
	Args:  exactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := openGraph()
		if err != nil {
			return err
		}
		defer g.Close()

		n, err := g.Link(args[0], node.EdgeType(args[1]), args[2], nil)
		if err != nil {
			return err
		}
		return printJSON(n)
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <from> <edge-type> <to>",
	Short: "Remove a typed edge",
	Args:  exactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := openGraph()
		if err != nil {
			return err
		}
		defer g.Close()

		n, err := g.Unlink(args[0], node.EdgeType(args[1]), args[2])
		if err != nil {
			return err
		}
		return printJSON(n)
	},
}

var queryFlags struct {
	types      []string
	statuses   []string
	tags       []string
	tagsAny    []string
	assign     string
	search     string
	sortField  string
	sortDesc   bool
	limit      int
	offset     int
	content    bool
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query nodes through the index",
	Args:  exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := openGraph()
		if err != nil {
			return err
		}
		defer g.Close()

		filter := index.Filter{
			Tags:    queryFlags.tags,
			TagsAny: queryFlags.tagsAny,
			Search:  queryFlags.search,
		}
		for _, t := range queryFlags.types {
			filter.Types = append(filter.Types, node.Type(t))
		}
		for _, s := range queryFlags.statuses {
			filter.Statuses = append(filter.Statuses, node.Status(s))
		}
		if cmd.Flags().Changed("assign") {
			filter.AssignedTo = &queryFlags.assign
		}
		opts := graph.QueryOptions{
			Filter:         filter,
			Limit:          queryFlags.limit,
			Offset:         queryFlags.offset,
			IncludeContent: queryFlags.content,
		}
		if queryFlags.sortField != "" {
			opts.Sort = &index.Sort{Field: queryFlags.sortField, Desc: queryFlags.sortDesc}
		}
		nodes, err := g.Query(opts)
		if err != nil {
			return err
		}
		return printJSON(nodes)
	},
}

var traverseFlags struct {
	direction    string
	edgeTypes    []string
	depth        int
	includeStart bool
}

var traverseCmd = &cobra.Command{
	Use:   "traverse <start-id>",
	Short: "Walk the graph from a node",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := openGraph()
		if err != nil {
			return err
		}
		defer g.Close()

		opts := graph.TraverseOptions{
			StartNode:    args[0],
			Direction:    traverseFlags.direction,
			MaxDepth:     traverseFlags.depth,
			IncludeStart: traverseFlags.includeStart,
		}
		for _, t := range traverseFlags.edgeTypes {
			opts.EdgeTypes = append(opts.EdgeTypes, node.EdgeType(t))
		}
		walk, err := g.Traverse(opts)
		if err != nil {
			return err
		}
		return printJSON(walk)
	},
}

func init() {
	createCmd.Flags().StringVar(&createFlags.nodeType, "type", "task", "node type")
	createCmd.Flags().StringVar(&createFlags.content, "content", "", "body content")
	createCmd.Flags().StringVar(&createFlags.status, "status", "", "initial status")
	createCmd.Flags().StringVar(&createFlags.priority, "priority", "", "priority")
	createCmd.Flags().StringSliceVar(&createFlags.tags, "tag", nil, "tag (repeatable)")
	createCmd.Flags().StringVar(&createFlags.assign, "assign", "", "assigned agent")
	createCmd.Flags().StringVar(&createFlags.due, "due", "", "due date (RFC 3339)")

	getCmd.Flags().BoolVar(&getContent, "content", false, "include the body")

	updateCmd.Flags().StringVar(&updateFlags.title, "title", "", "new title")
	updateCmd.Flags().StringVar(&updateFlags.content, "content", "", "new content")
	updateCmd.Flags().StringVar(&updateFlags.status, "status", "", "new status")
	updateCmd.Flags().StringVar(&updateFlags.validity, "validity", "", "new validity")
	updateCmd.Flags().StringVar(&updateFlags.priority, "priority", "", "new priority")
	updateCmd.Flags().StringVar(&updateFlags.assign, "assign", "", "new assignee (empty clears)")
	updateCmd.Flags().Float64Var(&updateFlags.confidence, "confidence", 1, "confidence in [0,1]")
	updateCmd.Flags().StringSliceVar(&updateFlags.tags, "tags", nil, "replacement tag set")

	queryCmd.Flags().StringSliceVar(&queryFlags.types, "type", nil, "node type filter")
	queryCmd.Flags().StringSliceVar(&queryFlags.statuses, "status", nil, "status filter")
	queryCmd.Flags().StringSliceVar(&queryFlags.tags, "tag", nil, "required tag (all-of)")
	queryCmd.Flags().StringSliceVar(&queryFlags.tagsAny, "tag-any", nil, "tag (any-of)")
	queryCmd.Flags().StringVar(&queryFlags.assign, "assign", "", "assigned agent (empty matches unassigned)")
	queryCmd.Flags().StringVar(&queryFlags.search, "search", "", "substring search on title and preview")
	queryCmd.Flags().StringVar(&queryFlags.sortField, "sort", "", "sort field")
	queryCmd.Flags().BoolVar(&queryFlags.sortDesc, "desc", false, "sort descending")
	queryCmd.Flags().IntVar(&queryFlags.limit, "limit", 0, "max results")
	queryCmd.Flags().IntVar(&queryFlags.offset, "offset", 0, "result offset")
	queryCmd.Flags().BoolVar(&queryFlags.content, "include-content", false, "include node bodies")

	traverseCmd.Flags().StringVar(&traverseFlags.direction, "direction", "out", "out, in or both")
	traverseCmd.Flags().StringSliceVar(&traverseFlags.edgeTypes, "edge-type", nil, "edge type filter")
	traverseCmd.Flags().IntVar(&traverseFlags.depth, "depth", 0, "max depth (default 10)")
	traverseCmd.Flags().BoolVar(&traverseFlags.includeStart, "include-start", false, "include the start node")

	rootCmd.AddCommand(createCmd, getCmd, updateCmd, deleteCmd, linkCmd, unlinkCmd, queryCmd, traverseCmd)
}
