package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// ============================================================================
// Lua action scripts
// ============================================================================
// Each <trigger>.lua file in the scripts directory defines one composite
// action. Scripts only describe steps; nothing is transmitted while they run.
//
//   pulse(remote, button [, times])   -- press button `times` times (default 1)
//   hold(remote, button, seconds)     -- assert button for `seconds`
//   delay(seconds)                    -- wait without sending
//   sets(mode, value)                 -- record a device mode on completion
//   cycle(mode)                       -- start a toggle on `mode`
//   option(value)                     -- following steps belong to this option
// ============================================================================

const scriptEvalTimeout = time.Second

// scriptBuilder accumulates the composite described by one script.
type scriptBuilder struct {
	name  string
	steps []Step
	sets  map[string]string
	cycle *Cycle
}

func (b *scriptBuilder) add(s Step) {
	if b.cycle != nil && len(b.cycle.Options) > 0 {
		last := &b.cycle.Options[len(b.cycle.Options)-1]
		last.Steps = append(last.Steps, s)
		return
	}
	b.steps = append(b.steps, s)
}

func (b *scriptBuilder) composite() Composite {
	return Composite{Name: b.name, Steps: b.steps, Sets: b.sets, Cycle: b.cycle}
}

func secondsArg(L *lua.LState, n int) time.Duration {
	secs := float64(L.CheckNumber(n))
	if secs < 0 {
		L.ArgError(n, "duration must be >= 0")
	}
	return time.Duration(secs * float64(time.Second))
}

func (b *scriptBuilder) register(L *lua.LState) {
	L.SetGlobal("pulse", L.NewFunction(func(L *lua.LState) int {
		times := L.OptInt(3, 1)
		if times < 1 {
			L.ArgError(3, "times must be >= 1")
		}
		b.add(Pulse{Remote: L.CheckString(1), Button: L.CheckString(2), Times: times})
		return 0
	}))
	L.SetGlobal("hold", L.NewFunction(func(L *lua.LState) int {
		b.add(Hold{Remote: L.CheckString(1), Button: L.CheckString(2), Duration: secondsArg(L, 3)})
		return 0
	}))
	L.SetGlobal("delay", L.NewFunction(func(L *lua.LState) int {
		b.add(Delay{Duration: secondsArg(L, 1)})
		return 0
	}))
	L.SetGlobal("sets", L.NewFunction(func(L *lua.LState) int {
		if b.sets == nil {
			b.sets = make(map[string]string)
		}
		b.sets[L.CheckString(1)] = L.CheckString(2)
		return 0
	}))
	L.SetGlobal("cycle", L.NewFunction(func(L *lua.LState) int {
		if b.cycle != nil {
			L.RaiseError("cycle already declared for %s", b.cycle.Mode)
		}
		b.cycle = &Cycle{Mode: L.CheckString(1)}
		return 0
	}))
	L.SetGlobal("option", L.NewFunction(func(L *lua.LState) int {
		if b.cycle == nil {
			L.RaiseError("option() requires cycle() first")
		}
		b.cycle.Options = append(b.cycle.Options, CycleOption{Value: L.CheckString(1)})
		return 0
	}))
}

// openScriptLibs loads the safe subset of the standard Lua libraries.
func openScriptLibs(L *lua.LState) {
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(pair.fn))
		L.Push(lua.LString(pair.name))
		L.Call(1, 0)
	}
	// No file or module access from action scripts.
	for _, name := range []string{"dofile", "loadfile", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// evalScript runs one script and returns the composite it describes.
func evalScript(name, code string) (Composite, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	openScriptLibs(L)

	ctx, cancel := context.WithTimeout(context.Background(), scriptEvalTimeout)
	defer cancel()
	L.SetContext(ctx)

	b := &scriptBuilder{name: name}
	b.register(L)

	if err := L.DoString(code); err != nil {
		return Composite{}, fmt.Errorf("script %s: %w", name, err)
	}

	c := b.composite()
	if len(c.Steps) == 0 && c.Cycle == nil {
		return Composite{}, fmt.Errorf("script %s: defines no steps", name)
	}
	if c.Cycle != nil && len(c.Cycle.Options) == 0 {
		return Composite{}, fmt.Errorf("script %s: cycle %s has no options", name, c.Cycle.Mode)
	}
	return c, nil
}

// LoadScriptActions evaluates every *.lua file in dir. The trigger of each
// action is the file name without extension.
func LoadScriptActions(dir string, logger *slog.Logger) (map[Trigger]Action, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	sort.Strings(paths)

	out := make(map[Trigger]Action, len(paths))
	for _, p := range paths {
		code, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read script: %w", err)
		}
		name := strings.TrimSuffix(filepath.Base(p), ".lua")

		c, err := evalScript(name, string(code))
		if err != nil {
			return nil, err
		}
		out[Trigger(name)] = c

		steps, _ := c.Resolve(nil)
		logger.Info("loaded action script", "trigger", name, "steps", len(steps), "toggle", c.Cycle != nil)
	}
	return out, nil
}
