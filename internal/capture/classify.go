package capture

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/dgnsrekt/auracap/internal/types"
)

// EndpointRule matches a tracked request by one of its query keys.
type EndpointRule struct {
	Kind          string
	QuerySuffix   string
	QueryContains []string
}

func (r EndpointRule) matches(key string) bool {
	if r.QuerySuffix != "" && strings.HasSuffix(key, r.QuerySuffix) {
		return true
	}
	for _, c := range r.QueryContains {
		if c != "" && strings.Contains(key, c) {
			return true
		}
	}
	return false
}

// DefaultEndpointRules recognise Apex actions and record UI/GVP loads.
var DefaultEndpointRules = []EndpointRule{
	{Kind: types.KindApex, QuerySuffix: "ApexAction.execute"},
	{Kind: types.KindRecord, QueryContains: []string{"RecordUi.", "RecordGvp"}},
}

// Recognizer decides which network requests are tracked.
type Recognizer struct {
	rules []EndpointRule
}

// NewRecognizer uses the default rules when rules is empty.
func NewRecognizer(rules []EndpointRule) *Recognizer {
	if len(rules) == 0 {
		rules = DefaultEndpointRules
	}
	return &Recognizer{rules: rules}
}

// Recognize reports which call shape a request carries. Only POSTs to a
// path ending in /aura with a matching query key qualify; rules are tried in
// order.
func (r *Recognizer) Recognize(method, rawURL string) (string, bool) {
	if !strings.EqualFold(method, "POST") {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil || !strings.HasSuffix(u.Path, "/aura") {
		return "", false
	}
	keys := make([]string, 0, len(u.Query()))
	for key := range u.Query() {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, rule := range r.rules {
		for _, key := range keys {
			if rule.matches(key) {
				return rule.Kind, true
			}
		}
	}
	return "", false
}

var defaultRecognizer = NewRecognizer(nil)

type actionParams struct {
	Namespace string `json:"namespace"`
	Classname string `json:"classname"`
	Method    string `json:"method"`
	RecordID  string `json:"recordId"`
}

// Classify derives scope, operation name and display name for an action.
func Classify(descriptor string, params json.RawMessage) (scope, op, display string) {
	var p actionParams
	if len(params) > 0 {
		_ = json.Unmarshal(params, &p)
	}

	if p.Classname != "" && p.Method != "" {
		scope = p.Classname
		if p.Namespace != "" {
			scope = p.Namespace + "." + p.Classname
		}
		return scope, p.Method, scope + "." + p.Method
	}

	controller, action := splitDescriptor(descriptor)
	if p.RecordID != "" && action != "" {
		return controller, action, action + " " + p.RecordID
	}
	if action == "" {
		return descriptor, descriptor, descriptor
	}
	return controller, action, controller + "." + action
}

// splitDescriptor turns "scheme://pkg.Controller/ACTION$name" into
// ("Controller", "name").
func splitDescriptor(descriptor string) (controller, action string) {
	rest := descriptor
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	path, name, ok := strings.Cut(rest, "/ACTION$")
	if !ok {
		return descriptor, ""
	}
	if i := strings.LastIndex(path, "."); i >= 0 {
		path = path[i+1:]
	}
	return path, name
}
