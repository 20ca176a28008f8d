package gateway

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// clientFrame is an inbound control frame from a dashboard client.
type clientFrame struct {
	Method   string   `json:"method"`
	AgentIDs []string `json:"agent_ids,omitempty"`
}

const clientFrameSchema = `{
  "type": "object",
  "required": ["method"],
  "properties": {
    "method": { "enum": ["subscribe", "ping"] },
    "agent_ids": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 },
      "maxItems": 64
    }
  },
  "additionalProperties": false
}`

var frameSchema = struct {
	once    sync.Once
	initErr error
	schema  *jsonschema.Schema
}{}

func compileFrameSchema() error {
	frameSchema.once.Do(func() {
		s, err := jsonschema.CompileString("client_frame", clientFrameSchema)
		if err != nil {
			frameSchema.initErr = err
			return
		}
		frameSchema.schema = s
	})
	return frameSchema.initErr
}

// parseClientFrame validates raw against the frame schema and decodes it.
func parseClientFrame(raw []byte) (*clientFrame, error) {
	if err := compileFrameSchema(); err != nil {
		return nil, err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("gateway: malformed frame: %w", err)
	}
	if err := frameSchema.schema.Validate(payload); err != nil {
		return nil, fmt.Errorf("gateway: invalid frame: %w", err)
	}
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("gateway: decode frame: %w", err)
	}
	return &frame, nil
}
