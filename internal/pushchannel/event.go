package pushchannel

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Topic is an inbound event type that invalidates cached data.
type Topic string

const (
	// TopicUsers invalidates the user table query.
	TopicUsers Topic = "USER_UPDATE"
	// TopicStats invalidates the dashboard stats.
	TopicStats Topic = "STATS_UPDATE"
)

// RequestCurrentState is the outbound message sent once per connection.
const RequestCurrentState = "REQUEST_CURRENT_STATE"

// Event is one push frame.
type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

//go:embed frame.schema.json
var frameSchemaJSON []byte

const frameSchemaURL = "https://adminsync.local/schemas/push-frame.json"

var frameSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(frameSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse frame schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(frameSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add frame schema: %w", err)
	}
	return c.Compile(frameSchemaURL)
})

// DecodeFrame validates raw against the frame schema and decodes it.
func DecodeFrame(raw []byte) (Event, error) {
	sch, err := frameSchema()
	if err != nil {
		return Event{}, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Event{}, fmt.Errorf("frame is not json: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return Event{}, fmt.Errorf("invalid frame: %w", err)
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("decode frame: %w", err)
	}
	return ev, nil
}
