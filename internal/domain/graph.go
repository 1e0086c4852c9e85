package domain

// Attr is one name/value pair attached to a node or edge.
type Attr struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// AttrDef declares an attribute on a node type.
type AttrDef struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

// NodeInput describes a node to create or overwrite.
// Values is flattened into the attrs list in key order.
type NodeInput struct {
	ID     string
	Type   string
	Values map[string]any
}

// EdgeInput describes an edge to create or overwrite.
type EdgeInput struct {
	From   string
	To     string
	Type   string
	Values map[string]any
}

// EdgeKey identifies an edge for removal.
type EdgeKey struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// TypeInput declares or replaces a node type.
type TypeInput struct {
	Name  string
	Attrs []AttrDef
}
