// Package pagehook renders the scripts injected into application tabs: the
// main-world call interceptor and the isolated-world bridge.
package pagehook

import (
	"encoding/json"
	"fmt"
)

const (
	// EventSource marks window messages posted by the interceptor.
	EventSource = "auracap-hook"
	// DefaultBinding is the CDP binding the bridge relays to.
	DefaultBinding = "__auracapRelay"
	// DefaultWorld is the isolated world hosting the bridge.
	DefaultWorld = "auracap-bridge"

	EventStart    = "AURA_REQUEST_START"
	EventComplete = "AURA_REQUEST_COMPLETE"
)

// Discovery phases reported by the interceptor's state object.
const (
	PhaseSearching = "SEARCHING"
	PhaseInstalled = "INSTALLED"
	PhaseGaveUp    = "GAVE_UP"
	PhaseDisabled  = "DISABLED"
)

// DefaultTargets names the host dispatch functions the interceptor wraps.
var DefaultTargets = []string{"executeGlobalController", "executeGlobalControllerRawResponse"}

// Options configures the interceptor.
type Options struct {
	Enabled     bool     `json:"enabled"`
	Targets     []string `json:"targets"`
	RetryMS     int      `json:"retryMs"`
	MaxAttempts int      `json:"maxAttempts"`
	MaxDepth    int      `json:"maxDepth"`
	MaxNodes    int      `json:"maxNodes"`
}

func DefaultOptions() Options {
	return Options{
		Enabled:     true,
		Targets:     append([]string(nil), DefaultTargets...),
		RetryMS:     500,
		MaxAttempts: 20,
		MaxDepth:    4,
		MaxNodes:    5000,
	}
}

type hookConfig struct {
	Options
	Source   string `json:"source"`
	Start    string `json:"start"`
	Complete string `json:"complete"`
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if len(o.Targets) == 0 {
		o.Targets = d.Targets
	}
	if o.RetryMS <= 0 {
		o.RetryMS = d.RetryMS
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = d.MaxDepth
	}
	if o.MaxNodes <= 0 {
		o.MaxNodes = d.MaxNodes
	}
	return o
}

// Script renders the interceptor for the page's main world. Evaluating it
// more than once in the same realm is a no-op.
func Script(opts Options) (string, error) {
	cfg, err := json.Marshal(hookConfig{
		Options:  opts.normalized(),
		Source:   EventSource,
		Start:    EventStart,
		Complete: EventComplete,
	})
	if err != nil {
		return "", fmt.Errorf("pagehook: encode options: %w", err)
	}
	return "(function(root, config){\n" + jsHookBody + "\n})(" + jsRoot + ", " + string(cfg) + ");", nil
}

const jsRoot = `(typeof window !== "undefined" ? window : this)`

const jsHookBody = `
if (!root) return null;
if (root.__auracapHook) return root.__auracapHook.phase;

var MARK = "__auracapWrapped";
var seq = 0;

var state = {
  phase: "SEARCHING",
  attempts: 0,
  installed: [],
  findCapability: findCapability,
  wrap: wrap,
  step: step
};
try {
  Object.defineProperty(root, "__auracapHook", {value: state, enumerable: false, configurable: true});
} catch(_) {
  root.__auracapHook = state;
}

function findCapability(start, predicate, maxDepth, maxNodes) {
  if (!start || (typeof start !== "object" && typeof start !== "function")) return null;
  var seen = new Set();
  var queue = [{obj: start, path: [], depth: 0}];
  var visited = 0;
  seen.add(start);
  while (queue.length > 0) {
    var node = queue.shift();
    var keys;
    try { keys = Object.keys(node.obj); } catch(_) { continue; }
    for (var i = 0; i < keys.length; i++) {
      if (++visited > maxNodes) return null;
      var key = keys[i];
      var value;
      try { value = node.obj[key]; } catch(_) { continue; }
      var matched = false;
      try { matched = !!predicate(value, key, node.obj); } catch(_) {}
      if (matched) return node.path.concat([key]);
      if (value === null || (typeof value !== "object" && typeof value !== "function")) continue;
      if (node.depth + 1 >= maxDepth || seen.has(value)) continue;
      seen.add(value);
      queue.push({obj: value, path: node.path.concat([key]), depth: node.depth + 1});
    }
  }
  return null;
}

function resolve(start, path) {
  var parent = start;
  for (var i = 0; i < path.length - 1; i++) {
    parent = parent[path[i]];
    if (parent === null || parent === undefined) return null;
  }
  return {parent: parent, key: path[path.length - 1]};
}

function clone(v) {
  if (v === undefined) return null;
  try {
    var s = JSON.stringify(v);
    return s === undefined ? null : JSON.parse(s);
  } catch(_) {
    return {unserializable: String(v)};
  }
}

function now() { return new Date().getTime(); }

function newID() {
  seq += 1;
  return "pg-" + now().toString(36) + "-" + seq + "-" + Math.random().toString(36).slice(2, 8);
}

function splitDescriptor(descriptor) {
  var rest = String(descriptor || "");
  var scheme = rest.indexOf("://");
  if (scheme >= 0) rest = rest.slice(scheme + 3);
  var cut = rest.indexOf("/ACTION$");
  if (cut < 0) return null;
  var controller = rest.slice(0, cut);
  var dot = controller.lastIndexOf(".");
  if (dot >= 0) controller = controller.slice(dot + 1);
  return {controller: controller, action: rest.slice(cut + 8)};
}

function classify(name, args) {
  var descriptor = name;
  var params = null;
  var first = args.length > 0 ? args[0] : undefined;
  if (typeof first === "string") {
    descriptor = first;
    params = args.length > 1 ? args[1] : null;
  } else if (first && typeof first === "object") {
    if (typeof first.descriptor === "string") descriptor = first.descriptor;
    params = first.params !== undefined ? first.params : first;
  }
  var p = (params && typeof params === "object") ? params : {};
  if (typeof p.classname === "string" && p.classname && typeof p.method === "string" && p.method) {
    var scope = p.namespace ? p.namespace + "." + p.classname : p.classname;
    return {scope: scope, operationName: p.method, displayName: scope + "." + p.method, params: params};
  }
  var parts = splitDescriptor(descriptor);
  if (parts && typeof p.recordId === "string" && p.recordId) {
    return {scope: parts.controller, operationName: parts.action, displayName: parts.action + " " + p.recordId, params: params};
  }
  if (parts) {
    return {scope: parts.controller, operationName: parts.action, displayName: parts.controller + "." + parts.action, params: params};
  }
  return {scope: String(descriptor), operationName: String(name), displayName: String(descriptor), params: params};
}

function emit(type, payload) {
  try {
    var origin = (root.location && root.location.origin) || "*";
    if (origin === "null") origin = "*";
    root.postMessage({source: config.source, type: type, payload: payload}, origin);
  } catch(_) {}
}

function describeError(err) {
  var out = {message: String(err && err.message || err)};
  try {
    if (err && err.name) out.name = String(err.name);
    if (err && err.body !== undefined) out.body = clone(err.body);
    if (err && err.data !== undefined) out.data = clone(err.data);
  } catch(_) {}
  return [out];
}

function remoteID(result) {
  try {
    if (result && typeof result === "object" && typeof result.id === "string") return result.id;
  } catch(_) {}
  return undefined;
}

function wrap(fn, name) {
  if (typeof fn !== "function" || fn[MARK]) return fn;
  var wrapped = function() {
    var id = newID();
    var requestedAt = now();
    try {
      var info = classify(name, arguments);
      emit(config.start, {
        id: id,
        scope: info.scope,
        operationName: info.operationName,
        displayName: info.displayName,
        requestPayload: clone(info.params),
        requestedAt: requestedAt
      });
    } catch(_) {}

    function done(ok, value) {
      try {
        var payload = {id: id, state: ok ? "SUCCESS" : "ERROR", requestedAt: requestedAt, respondedAt: now()};
        if (ok) {
          payload.remoteCallId = remoteID(value);
          payload.responsePayload = clone(value);
        } else {
          payload.errors = describeError(value);
        }
        emit(config.complete, payload);
      } catch(_) {}
    }

    var result;
    try {
      result = fn.apply(this, arguments);
    } catch (err) {
      done(false, err);
      throw err;
    }
    if (result && typeof result.then === "function") {
      try {
        result.then(function(v) { done(true, v); }, function(e) { done(false, e); });
      } catch(_) {}
      return result;
    }
    done(true, result);
    return result;
  };
  try {
    Object.defineProperty(wrapped, MARK, {value: true, enumerable: false});
  } catch(_) {
    wrapped[MARK] = true;
  }
  return wrapped;
}

function installTarget(name) {
  var path = findCapability(root, function(value, key) {
    return key === name && typeof value === "function";
  }, config.maxDepth, config.maxNodes);
  if (!path) return false;
  var slot = resolve(root, path);
  if (!slot) return false;
  var current = slot.parent[slot.key];
  if (!current[MARK]) slot.parent[slot.key] = wrap(current, name);
  state.installed.push(path.join("."));
  return true;
}

function step() {
  if (state.phase !== "SEARCHING") return state.phase;
  state.attempts += 1;
  var pending = [];
  for (var i = 0; i < config.targets.length; i++) {
    var name = config.targets[i];
    var done = false;
    for (var j = 0; j < state.installed.length; j++) {
      var p = state.installed[j];
      if (p === name || p.slice(-name.length - 1) === "." + name) { done = true; break; }
    }
    if (done) continue;
    var ok = false;
    try { ok = installTarget(name); } catch(_) {}
    if (!ok) pending.push(name);
  }
  if (pending.length === 0) {
    state.phase = "INSTALLED";
  } else if (state.attempts >= config.maxAttempts) {
    state.phase = state.installed.length > 0 ? "INSTALLED" : "GAVE_UP";
    try {
      if (typeof console !== "undefined") console.warn("auracap: dispatch functions not found", pending.join(", "));
    } catch(_) {}
  } else {
    try { setTimeout(step, config.retryMs); } catch(_) { state.phase = "GAVE_UP"; }
  }
  return state.phase;
}

if (!config.enabled) {
  state.phase = "DISABLED";
  return state.phase;
}
return step();
`
