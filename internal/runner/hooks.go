package runner

import "fmt"

// HookInfo carries the identity a lifecycle hook observes.
type HookInfo struct {
	FeaturePath  string
	ScenarioName string
	StepText     string // empty for scenario-level hooks
}

// Hooks are optional lifecycle callbacks run around a scenario's
// background+body and around each step (spec §4.F point 5: "Run
// registered per-scenario hooks (beforeScenario, afterScenario);
// afterScenario is always invoked, even if the body failed"; §4.H:
// "beforeScenario and afterScenario run on the scenario thread"). A nil
// *Hooks, or any nil slice within it, is a valid no-op.
type Hooks struct {
	BeforeScenario []func(HookInfo)
	AfterScenario  []func(HookInfo)
	BeforeStep     []func(HookInfo)
	AfterStep      []func(HookInfo)
}

func runHooks(list []func(HookInfo), info HookInfo, onError func(error)) {
	for _, f := range list {
		invokeHook(f, info, onError)
	}
}

// invokeHook runs one hook, converting a panic into the HookError policy
// of spec §7: "Each hook may raise; a raise is caught and logged, never
// failing the scenario it observes."
func invokeHook(f func(HookInfo), info HookInfo, onError func(error)) {
	defer func() {
		if r := recover(); r != nil && onError != nil {
			onError(fmt.Errorf("hook panic: %v", r))
		}
	}()
	f(info)
}
