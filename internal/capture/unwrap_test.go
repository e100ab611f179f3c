package capture

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/dgnsrekt/auracap/internal/types"
)

func formBody(message string) string {
	return url.Values{"message": {message}, "aura.token": {"tok"}}.Encode()
}

func TestUnwrapSkipsUnmatchedActions(t *testing.T) {
	requests := []Action{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	results := []ActionResult{{ID: "3", State: "SUCCESS"}, {ID: "1", State: "ERROR"}}

	pairs := Unwrap(requests, results)
	if len(pairs) != 2 {
		t.Fatalf("len(Unwrap()) = %d; want 2", len(pairs))
	}
	if pairs[0].Request.ID != "1" || pairs[1].Request.ID != "3" {
		t.Fatalf("Unwrap() order = %s,%s; want 1,3", pairs[0].Request.ID, pairs[1].Request.ID)
	}
	if pairs[0].Response.State != "ERROR" {
		t.Fatalf("pair 1 state = %q; want ERROR", pairs[0].Response.State)
	}
}

func TestParseEnvelopes(t *testing.T) {
	actions, err := ParseRequestEnvelope(formBody(`{"actions":[{"id":"1","descriptor":"d","params":{"a":1}}]}`))
	if err != nil {
		t.Fatalf("ParseRequestEnvelope() error = %v", err)
	}
	if len(actions) != 1 || actions[0].ID != "1" || string(actions[0].Params) != `{"a":1}` {
		t.Fatalf("ParseRequestEnvelope() = %+v", actions)
	}

	if _, err := ParseRequestEnvelope("foo=bar"); err == nil {
		t.Fatal("ParseRequestEnvelope(no message) = nil; want error")
	}

	results, err := ParseResponseEnvelope([]byte("while(1);\n{\"actions\":[{\"id\":\"1\",\"state\":\"SUCCESS\",\"returnValue\":{\"x\":1}}]}"))
	if err != nil {
		t.Fatalf("ParseResponseEnvelope() error = %v", err)
	}
	if len(results) != 1 || string(results[0].ReturnValue) != `{"x":1}` {
		t.Fatalf("ParseResponseEnvelope() = %+v", results)
	}

	if _, err := ParseResponseEnvelope([]byte("<html>")); err == nil {
		t.Fatal("ParseResponseEnvelope(html) = nil; want error")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		descriptor string
		params     string
		scope      string
		op         string
		display    string
	}{
		{
			name:       "apex_with_namespace",
			descriptor: "aura://ApexActionController/ACTION$execute",
			params:     `{"namespace":"acme","classname":"OrderCtrl","method":"load","params":{}}`,
			scope:      "acme.OrderCtrl",
			op:         "load",
			display:    "acme.OrderCtrl.load",
		},
		{
			name:       "apex_without_namespace",
			descriptor: "aura://ApexActionController/ACTION$execute",
			params:     `{"classname":"OrderCtrl","method":"save"}`,
			scope:      "OrderCtrl",
			op:         "save",
			display:    "OrderCtrl.save",
		},
		{
			name:       "record",
			descriptor: "serviceComponent://ui.force.components.controllers.recordGlobalValueProvider.RecordGvpController/ACTION$getRecord",
			params:     `{"recordId":"001xx0000001"}`,
			scope:      "RecordGvpController",
			op:         "getRecord",
			display:    "getRecord 001xx0000001",
		},
		{
			name:       "unknown_descriptor_shape",
			descriptor: "something-else",
			params:     `{}`,
			scope:      "something-else",
			op:         "something-else",
			display:    "something-else",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope, op, display := Classify(tt.descriptor, json.RawMessage(tt.params))
			if scope != tt.scope || op != tt.op || display != tt.display {
				t.Fatalf("Classify() = %q, %q, %q; want %q, %q, %q", scope, op, display, tt.scope, tt.op, tt.display)
			}
		})
	}
}

func TestDefaultRecognizer(t *testing.T) {
	tests := []struct {
		method string
		url    string
		kind   string
		ok     bool
	}{
		{"POST", "https://acme.lightning.force.com/aura?r=5&aura.ApexAction.execute=1", types.KindApex, true},
		{"POST", "https://acme.lightning.force.com/aura?r=7&ui-force-components-controllers-recordGlobalValueProvider.RecordGvp.getRecord=1", types.KindRecord, true},
		{"POST", "https://acme.lightning.force.com/aura?r=8&aura.RecordUi.getRecordWithFields=1", types.KindRecord, true},
		{"GET", "https://acme.lightning.force.com/aura?aura.ApexAction.execute=1", "", false},
		{"POST", "https://acme.lightning.force.com/aura?r=1&ui-comm.Other.run=1", "", false},
		{"POST", "https://acme.lightning.force.com/services/data/v59.0/query?aura.ApexAction.execute=1", "", false},
	}
	for _, tt := range tests {
		kind, ok := defaultRecognizer.Recognize(tt.method, tt.url)
		if kind != tt.kind || ok != tt.ok {
			t.Fatalf("Recognize(%s, %s) = %q, %v; want %q, %v", tt.method, tt.url, kind, ok, tt.kind, tt.ok)
		}
	}
}

func TestBuildCallErrorState(t *testing.T) {
	pair := Pair{
		Request:  Action{ID: "9;a", Descriptor: "aura://ApexActionController/ACTION$execute", Params: json.RawMessage(`{"classname":"C","method":"m"}`)},
		Response: ActionResult{ID: "9;a", State: "INCOMPLETE"},
	}
	call := BuildCall("id-1", CallMeta{TabID: "tab", Kind: types.KindApex, RequestedAt: 100, RespondedAt: 90}, pair)

	if call.State != types.CallError {
		t.Fatalf("State = %q; want ERROR", call.State)
	}
	if call.RespondedAt != 100 {
		t.Fatalf("RespondedAt = %d; want clamp to 100", call.RespondedAt)
	}
	if len(call.Errors) == 0 || call.ResponsePayload != nil {
		t.Fatalf("Errors = %s, ResponsePayload = %s", call.Errors, call.ResponsePayload)
	}
	if call.Source != types.SourceNetwork || call.RemoteCallID != "9;a" {
		t.Fatalf("Source = %q, RemoteCallID = %q", call.Source, call.RemoteCallID)
	}
}

func TestRecognizerCustomRules(t *testing.T) {
	r := NewRecognizer([]EndpointRule{{Kind: "flow", QuerySuffix: "FlowRuntime.run"}})

	if kind, ok := r.Recognize("POST", "https://acme.lightning.force.com/aura?ui-flow.FlowRuntime.run=1"); !ok || kind != "flow" {
		t.Fatalf("Recognize(flow) = %q, %v; want flow, true", kind, ok)
	}
	if _, ok := r.Recognize("POST", apexURL); ok {
		t.Fatal("custom rules still recognised the default apex endpoint")
	}
}
