package pagehook

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var bindingName = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

type bridgeConfig struct {
	Source   string `json:"source"`
	Binding  string `json:"binding"`
	Start    string `json:"start"`
	Complete string `json:"complete"`
}

// BridgeScript renders the isolated-world relay that forwards interceptor
// events to the named CDP binding.
func BridgeScript(binding string) (string, error) {
	if !bindingName.MatchString(binding) {
		return "", fmt.Errorf("pagehook: invalid binding name %q", binding)
	}
	cfg, err := json.Marshal(bridgeConfig{
		Source:   EventSource,
		Binding:  binding,
		Start:    EventStart,
		Complete: EventComplete,
	})
	if err != nil {
		return "", fmt.Errorf("pagehook: encode bridge config: %w", err)
	}
	return "(function(root, config){\n" + jsBridgeBody + "\n})(" + jsRoot + ", " + string(cfg) + ");", nil
}

const jsBridgeBody = `
if (!root || root.__auracapBridge) return false;
root.__auracapBridge = true;

function debug(msg, err) {
  try { if (typeof console !== "undefined") console.debug("auracap bridge: " + msg, err); } catch(_) {}
}

root.addEventListener("message", function(event) {
  try {
    if (event.source !== root) return;
    if (root.location && event.origin !== root.location.origin) return;
    var data = event.data;
    if (!data || typeof data !== "object" || data.source !== config.source) return;
    if (data.type !== config.start && data.type !== config.complete) return;
    var relay = root[config.binding];
    if (typeof relay !== "function") {
      debug("binding unavailable", config.binding);
      return;
    }
    relay(JSON.stringify({type: data.type, payload: data.payload}));
  } catch (err) {
    debug("relay failed", err);
  }
});
return true;
`
