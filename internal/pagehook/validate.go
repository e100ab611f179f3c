package pagehook

import (
	"fmt"

	"github.com/dop251/goja"
)

// Validate compiles both scripts and runs them once against an inert global
// so syntax or install-time errors surface at startup rather than in a tab.
func Validate(opts Options, binding string) error {
	hook, err := Script(opts)
	if err != nil {
		return err
	}
	bridge, err := BridgeScript(binding)
	if err != nil {
		return err
	}

	for name, src := range map[string]string{"hook": hook, "bridge": bridge} {
		if _, err := goja.Compile(name+".js", src, false); err != nil {
			return fmt.Errorf("pagehook: compile %s: %w", name, err)
		}
	}

	vm := goja.New()
	global := vm.GlobalObject()
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, fn := range []string{"setTimeout", "postMessage", "addEventListener"} {
		if err := global.Set(fn, noop); err != nil {
			return fmt.Errorf("pagehook: prepare runtime: %w", err)
		}
	}
	if err := global.Set("window", global); err != nil {
		return fmt.Errorf("pagehook: prepare runtime: %w", err)
	}

	if _, err := vm.RunString(hook); err != nil {
		return fmt.Errorf("pagehook: run hook: %w", err)
	}
	if _, err := vm.RunString(bridge); err != nil {
		return fmt.Errorf("pagehook: run bridge: %w", err)
	}
	return nil
}
