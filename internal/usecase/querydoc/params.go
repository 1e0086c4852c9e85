package querydoc

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Params is an insertion-ordered set of query parameters. Order matters for
// the generated document text; the wire encoding is a plain JSON object.
type Params struct {
	keys   []string
	values map[string]any
}

// NewParams returns an empty parameter set.
func NewParams() *Params {
	return &Params{values: make(map[string]any)}
}

// ParamsOf copies m into a Params in sorted key order.
func ParamsOf(m map[string]any) *Params {
	p := NewParams()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.Set(k, m[k])
	}
	return p
}

// Set adds or replaces a value. Replacing keeps the original position.
func (p *Params) Set(key string, value any) *Params {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return p
}

// Get returns the value stored under key.
func (p *Params) Get(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (p *Params) Keys() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len reports the number of parameters. A nil Params is empty.
func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Map returns a copy of the parameters as a plain map.
func (p *Params) Map() map[string]any {
	out := make(map[string]any, p.Len())
	if p == nil {
		return out
	}
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the parameters as an object in insertion order.
func (p *Params) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object. Key order follows the sorted keys since
// encoding/json does not expose source order for maps.
func (p *Params) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*p = *ParamsOf(m)
	return nil
}
