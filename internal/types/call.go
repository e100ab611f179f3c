package types

import "encoding/json"

// CallState is the lifecycle state of a captured call.
type CallState string

const (
	CallPending CallState = "PENDING"
	CallSuccess CallState = "SUCCESS"
	CallError   CallState = "ERROR"
)

// Terminal reports whether the state is SUCCESS or ERROR.
func (s CallState) Terminal() bool {
	return s == CallSuccess || s == CallError
}

// ParseCallState maps a remote-reported state onto CallState.
// Only the literal SUCCESS is a success; anything else is an error.
func ParseCallState(s string) CallState {
	if s == string(CallSuccess) {
		return CallSuccess
	}
	return CallError
}

// CallSource identifies the capture channel that produced a call.
type CallSource string

const (
	SourcePage    CallSource = "page"
	SourceNetwork CallSource = "network"
)

// Recognised call shapes.
const (
	KindApex    = "apex"
	KindRecord  = "record"
	KindUnknown = "unknown"
)

// CapturedCall is one logical RPC invocation observed in a tab.
type CapturedCall struct {
	ID              string          `json:"id"`
	OriginTab       string          `json:"originTab"`
	RemoteCallID    string          `json:"remoteCallId,omitempty"`
	Source          CallSource      `json:"source"`
	Kind            string          `json:"kind,omitempty"`
	Scope           string          `json:"scope"`
	OperationName   string          `json:"operationName"`
	DisplayName     string          `json:"displayName"`
	RequestPayload  json.RawMessage `json:"requestPayload,omitempty"`
	ResponsePayload json.RawMessage `json:"responsePayload,omitempty"`
	State           CallState       `json:"state"`
	Errors          json.RawMessage `json:"errors,omitempty"`
	RequestedAt     int64           `json:"requestedAt"`
	RespondedAt     int64           `json:"respondedAt,omitempty"`
}

// Duration returns respondedAt - requestedAt in milliseconds, or 0 while pending.
func (c *CapturedCall) Duration() int64 {
	if c.RespondedAt == 0 || c.RespondedAt < c.RequestedAt {
		return 0
	}
	return c.RespondedAt - c.RequestedAt
}

// MarshalJSON adds the derived duration field.
func (c CapturedCall) MarshalJSON() ([]byte, error) {
	type plain CapturedCall
	return json.Marshal(struct {
		plain
		Duration int64 `json:"duration"`
	}{plain: plain(c), Duration: c.Duration()})
}

// CallCompletion carries the fields applied when a pending call settles.
type CallCompletion struct {
	RemoteCallID    string
	State           CallState
	ResponsePayload json.RawMessage
	Errors          json.RawMessage
	RespondedAt     int64
}
