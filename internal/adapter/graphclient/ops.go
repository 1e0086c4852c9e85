package graphclient

import (
	"context"
	"encoding/json"
	"sort"

	"graphlink/internal/domain"
	"graphlink/internal/usecase/querydoc"
)

// Default selections returned by the mutation helpers.
const (
	DefaultNodeSelection = "id"
	DefaultEdgeSelection = "from to type"
	DefaultTypeSelection = "name"
)

var (
	setNodeHints = map[string]string{
		"id":    querydoc.TypeString,
		"type":  querydoc.TypeString,
		"attrs": "[AttrInput!]",
	}
	removeNodesHints = map[string]string{"ids": "[String!]!"}
	setEdgeHints     = map[string]string{
		"from":  querydoc.TypeString,
		"to":    querydoc.TypeString,
		"type":  querydoc.TypeString,
		"attrs": "[AttrInput!]",
	}
	removeEdgesHints = map[string]string{"edges": "[EdgeInput!]!"}
	setTypeHints     = map[string]string{
		"name":  querydoc.TypeString,
		"attrs": "[AttrDefInput!]",
	}
)

// SetNode creates or overwrites a node and returns the selected fields of
// the result. An empty selection means DefaultNodeSelection.
func (c *Conn) SetNode(ctx context.Context, in domain.NodeInput, selection string) (json.RawMessage, error) {
	if in.ID == "" || in.Type == "" {
		return nil, domain.NewDomainError("Conn.SetNode", domain.ErrInvalidInput, "node id and type are required")
	}
	params := querydoc.NewParams().
		Set("id", in.ID).
		Set("type", in.Type).
		Set("attrs", attrsOf(in.Values))
	return c.mutateField(ctx, "SetNode", "node", "set", setNodeHints, params, orDefault(selection, DefaultNodeSelection))
}

// RemoveNodes deletes nodes by id.
func (c *Conn) RemoveNodes(ctx context.Context, ids []string, selection string) (json.RawMessage, error) {
	if len(ids) == 0 {
		return nil, domain.NewDomainError("Conn.RemoveNodes", domain.ErrInvalidInput, "no node ids given")
	}
	params := querydoc.NewParams().Set("ids", ids)
	return c.mutateField(ctx, "RemoveNodes", "nodes", "remove", removeNodesHints, params, orDefault(selection, DefaultNodeSelection))
}

// SetEdge creates or overwrites an edge.
func (c *Conn) SetEdge(ctx context.Context, in domain.EdgeInput, selection string) (json.RawMessage, error) {
	if in.From == "" || in.To == "" || in.Type == "" {
		return nil, domain.NewDomainError("Conn.SetEdge", domain.ErrInvalidInput, "edge from, to and type are required")
	}
	params := querydoc.NewParams().
		Set("from", in.From).
		Set("to", in.To).
		Set("type", in.Type).
		Set("attrs", attrsOf(in.Values))
	return c.mutateField(ctx, "SetEdge", "edge", "set", setEdgeHints, params, orDefault(selection, DefaultEdgeSelection))
}

// RemoveEdges deletes edges by endpoint pair and type.
func (c *Conn) RemoveEdges(ctx context.Context, edges []domain.EdgeKey, selection string) (json.RawMessage, error) {
	if len(edges) == 0 {
		return nil, domain.NewDomainError("Conn.RemoveEdges", domain.ErrInvalidInput, "no edges given")
	}
	params := querydoc.NewParams().Set("edges", edges)
	return c.mutateField(ctx, "RemoveEdges", "edges", "remove", removeEdgesHints, params, orDefault(selection, DefaultEdgeSelection))
}

// SetType declares or replaces a node type.
func (c *Conn) SetType(ctx context.Context, in domain.TypeInput, selection string) (json.RawMessage, error) {
	if in.Name == "" {
		return nil, domain.NewDomainError("Conn.SetType", domain.ErrInvalidInput, "type name is required")
	}
	attrs := in.Attrs
	if attrs == nil {
		attrs = []domain.AttrDef{}
	}
	params := querydoc.NewParams().
		Set("name", in.Name).
		Set("attrs", attrs)
	return c.mutateField(ctx, "SetType", "type", "set", setTypeHints, params, orDefault(selection, DefaultTypeSelection))
}

func (c *Conn) mutateField(ctx context.Context, name, alias, operation string, hints map[string]string, params *querydoc.Params, selection string) (json.RawMessage, error) {
	body := querydoc.FieldCall(alias, operation, params, selection)
	doc, err := querydoc.Build(querydoc.KindMutation, name, body, hints, params)
	if err != nil {
		return nil, err
	}
	data, err := c.Mutation(ctx, doc, params)
	if err != nil {
		return nil, err
	}
	return unwrapField(data, alias)
}

// unwrapField returns the single top-level field alias from data.
func unwrapField(data json.RawMessage, alias string) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, domain.NewDomainError("graphclient.unwrapField", domain.ErrQueryData, err.Error())
	}
	v, ok := fields[alias]
	if !ok || isAbsent(v) {
		return nil, domain.NewQueryDataError()
	}
	return v, nil
}

// attrsOf flattens values into name/value pairs in key order.
func attrsOf(values map[string]any) []domain.Attr {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]domain.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, domain.Attr{Name: k, Value: values[k]})
	}
	return attrs
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
