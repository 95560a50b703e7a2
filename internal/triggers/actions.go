package triggers

import (
	"go.uber.org/zap"

	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/types"
)

// Built-in action type names
const (
	ActionLog        = "log"
	ActionNotify     = "notify"
	ActionCreateNode = "create_node"
	ActionUpdateNode = "update_node"
	ActionInvalidate = "invalidate"
)

func registerBuiltins(e *Engine) {
	e.actions[ActionLog] = actionLog
	e.actions[ActionNotify] = actionNotify
	e.actions[ActionCreateNode] = actionCreateNode
	e.actions[ActionUpdateNode] = actionUpdateNode
	e.actions[ActionInvalidate] = actionInvalidate
}

// actionLog writes an interpolated message to the diagnostic sink
func actionLog(ctx *ActionContext) error {
	ctx.Logger.Info(ctx.Param("message"),
		zap.String("trigger", ctx.Trigger.ID),
		zap.String("event", string(ctx.Event.Type)))
	return nil
}

// actionNotify delivers an interpolated message to a named target
func actionNotify(ctx *ActionContext) error {
	target := ctx.Param("target")
	if target == "" {
		target = "terminal"
	}
	title := ctx.Param("title")
	if title == "" {
		title = ctx.Trigger.Name
	}
	return ctx.Notify.Send(target, title, ctx.Param("message"))
}

// actionCreateNode creates a node through the graph facade
func actionCreateNode(ctx *ActionContext) error {
	nodeType := node.Type(ctx.Param("nodeType"))
	if nodeType == "" {
		nodeType = node.TypeEvent
	}
	_, err := ctx.Graph.Create(node.CreateInput{
		Type:      nodeType,
		Title:     ctx.Param("title"),
		Content:   ctx.Param("content"),
		CreatedBy: "trigger:" + ctx.Trigger.ID,
	}, nil)
	return err
}

// actionUpdateNode applies a partial update to the node identified by
// the interpolated nodeId parameter
func actionUpdateNode(ctx *ActionContext) error {
	id := ctx.Param("nodeId")
	if id == "" {
		return types.E(types.KindInvalidInput, "triggers.update_node", "nodeId param required")
	}
	in := node.UpdateInput{}
	if v := ctx.Param("status"); v != "" {
		status := node.Status(v)
		in.Status = &status
	}
	if v := ctx.Param("validity"); v != "" {
		validity := node.Validity(v)
		in.Validity = &validity
	}
	if v := ctx.Param("priority"); v != "" {
		priority := node.Priority(v)
		in.Priority = &priority
	}
	if v := ctx.Param("content"); v != "" {
		in.Content = &v
	}
	_, err := ctx.Graph.Update(id, in)
	return err
}

// actionInvalidate marks every node documenting the given node as
// stale. The id defaults to the node the event is about.
func actionInvalidate(ctx *ActionContext) error {
	id := ctx.Param("nodeId")
	if id == "" {
		if v, ok := ctx.Event.Payload["nodeId"].(string); ok {
			id = v
		}
	}
	if id == "" {
		return types.E(types.KindInvalidInput, "triggers.invalidate", "no node in scope")
	}
	idx := ctx.Graph.Index()
	if idx == nil {
		return types.E(types.KindIndex, "triggers.invalidate", "index disabled")
	}
	incoming, err := idx.EdgesTo(id)
	if err != nil {
		return err
	}
	stale := node.ValidityStale
	for _, edge := range incoming {
		if edge.Type != node.EdgeDocuments {
			continue
		}
		if _, err := ctx.Graph.Update(edge.From, node.UpdateInput{Validity: &stale}); err != nil {
			return err
		}
	}
	return nil
}
