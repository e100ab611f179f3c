package types

import "encoding/json"

// Inbound message types accepted by the router.
const (
	MsgGetRecord         = "GET_RECORD"
	MsgUpdateRecord      = "UPDATE_RECORD"
	MsgDescribeSObject   = "DESCRIBE_SOBJECT"
	MsgGetLWCDebugStatus = "GET_LWC_DEBUG_STATUS"
	MsgToggleLWCDebug    = "TOGGLE_LWC_DEBUG"
	MsgAuraRequestStart  = "AURA_REQUEST_START"
	MsgAuraRequestDone   = "AURA_REQUEST_COMPLETE"
	MsgGetAPICall        = "GET_API_CALL"
	MsgListAPICalls      = "LIST_API_CALLS"
	MsgClearAPICalls     = "CLEAR_API_CALLS"
	MsgListAllAPICalls   = "LIST_ALL_API_CALLS"
	MsgClearAllAPICalls  = "CLEAR_ALL_API_CALLS"
	MsgDeleteAPICalls    = "DELETE_API_CALLS"
	MsgGetSettings       = "GET_SETTINGS"
	MsgSetSettings       = "SET_SETTINGS"
	MsgListTabs          = "LIST_TABS"
)

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Message is one inbound request to the router.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the single reply produced for every Message.
type Response struct {
	Status  string `json:"status"`
	Payload any    `json:"payload,omitempty"`
	Message string `json:"message,omitempty"`
}

func Success(payload any) Response {
	return Response{Status: StatusSuccess, Payload: payload}
}

func Failure(err error) Response {
	return Response{Status: StatusError, Message: err.Error()}
}

// CaptureStart is the payload of AURA_REQUEST_START.
type CaptureStart struct {
	ID             string          `json:"id"`
	Scope          string          `json:"scope"`
	OperationName  string          `json:"operationName"`
	DisplayName    string          `json:"displayName"`
	Kind           string          `json:"kind,omitempty"`
	RequestPayload json.RawMessage `json:"requestPayload,omitempty"`
	RequestedAt    int64           `json:"requestedAt"`
}

// CaptureComplete is the payload of AURA_REQUEST_COMPLETE.
type CaptureComplete struct {
	ID              string          `json:"id"`
	RemoteCallID    string          `json:"remoteCallId,omitempty"`
	State           string          `json:"state"`
	ResponsePayload json.RawMessage `json:"responsePayload,omitempty"`
	Errors          json.RawMessage `json:"errors,omitempty"`
	RequestedAt     int64           `json:"requestedAt"`
	RespondedAt     int64           `json:"respondedAt"`
}
