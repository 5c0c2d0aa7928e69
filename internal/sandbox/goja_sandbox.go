package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/agentworld/worldkernel/internal/kernelerr"
)

// ModuleSource resolves a wasm_hash to the module's source, here a
// JavaScript program exposing an exported entry point function — the
// in-process stand-in for a WASM binary the spec names nominally
// (spec.md §4.7: "Sandbox contract (consumed, not implemented here)").
type ModuleSource interface {
	Source(wasmHash string) (script string, ok bool)
}

// GojaSandbox runs each call in a fresh goja.Runtime, the way
// system/tee/script_engine.go's gojaScriptEngine does for TEE
// simulation mode. Gas is approximated via goja's interrupt hook, fired
// by a wall-clock timer scaled from MaxGas (see gasTimeout), since goja
// has no native gas metering; memory use is not capped.
type GojaSandbox struct {
	sources ModuleSource
}

// NewGojaSandbox constructs a GojaSandbox resolving module scripts
// through sources.
func NewGojaSandbox(sources ModuleSource) *GojaSandbox {
	return &GojaSandbox{sources: sources}
}

// gasTimeout is goja's operation-budget stand-in: a wall-clock bound
// scaled from MaxGas, since goja has no native per-opcode gas counter.
// Interrupting a running VM is goja's only synchronous abort mechanism.
func gasTimeout(maxGas int64) time.Duration {
	if maxGas <= 0 {
		return 5 * time.Second
	}
	d := time.Duration(maxGas) * time.Microsecond
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

func (s *GojaSandbox) Call(req CallRequest) (ModuleOutput, error) {
	script, ok := s.sources.Source(req.WasmHash)
	if !ok {
		return ModuleOutput{}, kernelerr.ModuleCallFailed(req.ModuleID, req.TraceID, kernelerr.FailureTrap, "module source not found")
	}

	vm := goja.New()
	timer := time.AfterFunc(gasTimeout(req.MaxGas), func() {
		vm.Interrupt("gas budget exceeded")
	})
	defer timer.Stop()

	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	_ = vm.Set("console", console)
	_ = vm.Set("state", vm.ToValue(req.StateView))
	_ = vm.Set("input", vm.ToValue(req.Params))

	result, err := s.run(vm, script, req)
	if err != nil {
		var ie *goja.InterruptedError
		if errors.As(err, &ie) {
			return ModuleOutput{}, kernelerr.ModuleCallFailed(req.ModuleID, req.TraceID, kernelerr.FailureGasExceeded, "max_gas exceeded")
		}
		return ModuleOutput{}, kernelerr.ModuleCallFailed(req.ModuleID, req.TraceID, kernelerr.FailureTrap, err.Error())
	}

	out := result
	outBytes, encErr := json.Marshal(out)
	if encErr == nil {
		out.OutputBytes = len(outBytes)
	}
	if err := Enforce(req, out); err != nil {
		return ModuleOutput{}, err
	}
	return out, nil
}

func (s *GojaSandbox) run(vm *goja.Runtime, script string, req CallRequest) (out ModuleOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			if ie, ok := r.(goja.InterruptedError); ok {
				err = &ie
				return
			}
			err = fmt.Errorf("module panic: %v", r)
		}
	}()

	if _, runErr := vm.RunString(script); runErr != nil {
		return ModuleOutput{}, fmt.Errorf("loading module script: %w", runErr)
	}
	entryPoint, ok := goja.AssertFunction(vm.Get(req.Export))
	if !ok {
		return ModuleOutput{}, fmt.Errorf("export %q is not a function", req.Export)
	}
	resultVal, callErr := entryPoint(goja.Undefined(), vm.Get("state"), vm.Get("input"))
	if callErr != nil {
		return ModuleOutput{}, fmt.Errorf("calling %s: %w", req.Export, callErr)
	}

	if resultVal == nil || goja.IsUndefined(resultVal) || goja.IsNull(resultVal) {
		return ModuleOutput{}, nil
	}
	raw, marshalErr := json.Marshal(resultVal.Export())
	if marshalErr != nil {
		return ModuleOutput{}, fmt.Errorf("encoding module output: %w", marshalErr)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return ModuleOutput{}, fmt.Errorf("decoding module output: %w", err)
	}
	return out, nil
}

// MapModuleSource is a ModuleSource backed by an in-memory map, useful
// for tests and for a registry that keeps decoded scripts alongside
// manifests.
type MapModuleSource struct {
	Scripts map[string]string
}

func (m MapModuleSource) Source(key string) (string, bool) {
	s, ok := m.Scripts[key]
	return s, ok
}
