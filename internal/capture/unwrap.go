package capture

import (
	"encoding/json"
	"fmt"

	"github.com/dgnsrekt/auracap/internal/types"
)

// Pair is a request action matched with its response result.
type Pair struct {
	Request  Action
	Response ActionResult
}

// Unwrap matches request actions to response results by id. The output
// follows request order; request actions without a result are skipped.
func Unwrap(requests []Action, results []ActionResult) []Pair {
	byID := make(map[string]ActionResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}

	pairs := make([]Pair, 0, len(requests))
	for _, a := range requests {
		res, ok := byID[a.ID]
		if !ok {
			continue
		}
		pairs = append(pairs, Pair{Request: a, Response: res})
	}
	return pairs
}

// CallMeta carries the per-request fields shared by every call in a batch.
type CallMeta struct {
	TabID       string
	Kind        string
	RequestedAt int64
	RespondedAt int64
	MaxPayload  int
}

// BuildCall synthesises one CapturedCall from a matched pair.
func BuildCall(id string, meta CallMeta, p Pair) types.CapturedCall {
	scope, op, display := Classify(p.Request.Descriptor, p.Request.Params)
	state := types.ParseCallState(p.Response.State)

	respondedAt := meta.RespondedAt
	if respondedAt < meta.RequestedAt {
		respondedAt = meta.RequestedAt
	}

	call := types.CapturedCall{
		ID:             id,
		OriginTab:      meta.TabID,
		RemoteCallID:   p.Response.ID,
		Source:         types.SourceNetwork,
		Kind:           meta.Kind,
		Scope:          scope,
		OperationName:  op,
		DisplayName:    display,
		RequestPayload: BoundPayload(p.Request.Params, meta.MaxPayload),
		State:          state,
		RequestedAt:    meta.RequestedAt,
		RespondedAt:    respondedAt,
	}
	if state == types.CallSuccess {
		call.ResponsePayload = BoundPayload(p.Response.ReturnValue, meta.MaxPayload)
	} else {
		call.Errors = errorList(p.Response)
	}
	return call
}

// errorList returns the result's error descriptors, synthesising one when the
// remote reported a non-success state without any.
func errorList(r ActionResult) json.RawMessage {
	var list []json.RawMessage
	if len(r.Error) > 0 && json.Unmarshal(r.Error, &list) == nil && len(list) > 0 {
		return r.Error
	}
	synth, _ := json.Marshal([]map[string]string{{
		"message": fmt.Sprintf("action finished in state %q", r.State),
	}})
	return synth
}
