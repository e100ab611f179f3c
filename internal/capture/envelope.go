package capture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
)

// Action is one logical call inside a batched request envelope.
type Action struct {
	ID         string          `json:"id"`
	Descriptor string          `json:"descriptor"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// ActionResult is one entry of a batched response envelope.
type ActionResult struct {
	ID          string          `json:"id"`
	State       string          `json:"state"`
	ReturnValue json.RawMessage `json:"returnValue,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
}

type requestMessage struct {
	Actions []Action `json:"actions"`
}

type responseEnvelope struct {
	Actions []ActionResult `json:"actions"`
}

// Hosts prefix JSON responses with an anti-hijacking guard.
var jsonGuards = [][]byte{[]byte("while(1);"), []byte("for(;;);"), []byte(")]}'")}

// ParseRequestEnvelope decodes a form-encoded request body and returns the
// actions carried in its "message" field.
func ParseRequestEnvelope(body string) ([]Action, error) {
	form, err := url.ParseQuery(body)
	if err != nil {
		return nil, fmt.Errorf("capture: parse request form: %w", err)
	}
	message := form.Get("message")
	if message == "" {
		return nil, fmt.Errorf("capture: request has no message field")
	}
	var msg requestMessage
	if err := json.Unmarshal([]byte(message), &msg); err != nil {
		return nil, fmt.Errorf("capture: decode request message: %w", err)
	}
	return msg.Actions, nil
}

// ParseResponseEnvelope decodes a response body, tolerating a leading guard.
func ParseResponseEnvelope(body []byte) ([]ActionResult, error) {
	trimmed := bytes.TrimSpace(body)
	for _, guard := range jsonGuards {
		if bytes.HasPrefix(trimmed, guard) {
			trimmed = bytes.TrimSpace(trimmed[len(guard):])
			break
		}
	}
	// Some responses close with a trailing comment marker.
	trimmed = bytes.TrimSuffix(trimmed, []byte("/*ERROR*/"))

	var env responseEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("capture: decode response envelope: %w", err)
	}
	return env.Actions, nil
}
