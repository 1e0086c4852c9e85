package graphclient

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"graphlink/internal/domain"
	"graphlink/internal/usecase/querydoc"
)

// FrameType is the value of a frame's "type" field.
type FrameType string

// Outbound request types.
const (
	TypeQuery       FrameType = "query"
	TypeExec        FrameType = "exec"
	TypeSubscribe   FrameType = "subscribe"
	TypeUnsubscribe FrameType = "unsubscribe"
	TypeCommit      FrameType = "commit"
	TypeLogin       FrameType = "login"
	TypeToken       FrameType = "token"
)

// Inbound types with protocol meaning.
const (
	TypeOK    FrameType = "ok"
	TypeError FrameType = "error"
	TypeData  FrameType = "data"
)

// Request is one outbound tagged frame.
type Request struct {
	Tag          string           `json:"tag"`
	Type         FrameType        `json:"type"`
	Query        string           `json:"query,omitempty"`
	Params       *querydoc.Params `json:"params,omitempty"`
	Subscription string           `json:"subscription,omitempty"`
	Token        string           `json:"token,omitempty"`
}

// ResultError is one entry of a result's errors list.
type ResultError struct {
	Message string `json:"message"`
}

// Result is the {data, errors} block carried by replies and pushes.
type Result struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []ResultError   `json:"errors,omitempty"`
}

// Check returns the inner data, or a *domain.QueryDataError when the block
// is missing, has no data, or lists errors.
func (r *Result) Check() (json.RawMessage, error) {
	if r == nil {
		return nil, domain.NewQueryDataError()
	}
	if len(r.Errors) > 0 {
		msgs := make([]string, len(r.Errors))
		for i, e := range r.Errors {
			msgs[i] = e.Message
		}
		return nil, domain.NewQueryDataError(msgs...)
	}
	if isAbsent(r.Data) {
		return nil, domain.NewQueryDataError()
	}
	return r.Data, nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Inbound is a decoded inbound frame: either *Reply or *Push.
type Inbound interface {
	inbound()
}

// Reply answers the request carrying the same tag.
type Reply struct {
	Tag   string
	Type  FrameType
	Data  *Result
	Error string
	Raw   json.RawMessage
}

// Push is a server-initiated frame for a subscription.
type Push struct {
	Subscription string
	Type         FrameType
	Data         *Result
	Error        string
	Raw          json.RawMessage
}

func (*Reply) inbound() {}
func (*Push) inbound()  {}

type wireFrame struct {
	Tag          *string         `json:"tag"`
	Subscription *string         `json:"subscription"`
	Type         FrameType       `json:"type"`
	Data         json.RawMessage `json:"data"`
	Error        string          `json:"error"`
}

// DecodeFrame parses raw into a Reply or a Push. A frame that is not JSON,
// or that carries both or neither of tag and subscription, is a
// *domain.ProtocolFault.
func DecodeFrame(raw []byte) (Inbound, error) {
	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &domain.ProtocolFault{Reason: "malformed frame: " + err.Error(), Raw: raw}
	}

	var result *Result
	if !isAbsent(w.Data) {
		result = &Result{}
		if err := json.Unmarshal(w.Data, result); err != nil {
			return nil, &domain.ProtocolFault{Reason: "malformed data block: " + err.Error(), Raw: raw}
		}
	}

	switch {
	case w.Tag != nil && w.Subscription != nil:
		return nil, &domain.ProtocolFault{Reason: "frame carries both tag and subscription", Raw: raw}
	case w.Tag != nil:
		return &Reply{Tag: *w.Tag, Type: w.Type, Data: result, Error: w.Error, Raw: raw}, nil
	case w.Subscription != nil:
		return &Push{Subscription: *w.Subscription, Type: w.Type, Data: result, Error: w.Error, Raw: raw}, nil
	}
	return nil, &domain.ProtocolFault{Reason: "frame carries neither tag nor subscription", Raw: raw}
}

// frameSchema describes every well-formed inbound frame.
const frameSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "tag": {"type": "string"},
    "subscription": {"type": "string"},
    "type": {"type": "string", "minLength": 1},
    "error": {"type": "string"},
    "data": {
      "type": ["object", "null"],
      "properties": {
        "errors": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["message"],
            "properties": {"message": {"type": "string"}}
          }
        }
      }
    }
  },
  "oneOf": [
    {"required": ["tag"]},
    {"required": ["subscription"]}
  ]
}`

// frameValidator checks inbound frames against frameSchema before they are
// routed. It is only installed in strict mode.
type frameValidator struct {
	schema *jsonschema.Schema
}

func newFrameValidator() (*frameValidator, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(frameSchema))
	if err != nil {
		return nil, fmt.Errorf("compile frame schema: %w", err)
	}
	return &frameValidator{schema: schema}, nil
}

func (v *frameValidator) validate(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &domain.ProtocolFault{Reason: "malformed frame: " + err.Error(), Raw: raw}
	}
	if result := v.schema.Validate(doc); !result.IsValid() {
		return &domain.ProtocolFault{Reason: "frame does not match wire schema", Raw: raw}
	}
	return nil
}
