package rules

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// ErrEvalTimeout is returned when a rule expression runs past the timeout
var ErrEvalTimeout = errors.New("rule evaluation timed out")

// runtime wraps a goja VM with the bindings rule expressions may use
type runtime struct {
	vm      *goja.Runtime
	timeout time.Duration
	logger  zerolog.Logger
}

func newRuntime(logger zerolog.Logger) *runtime {
	r := &runtime{
		vm:     goja.New(),
		logger: logger,
	}
	r.setupConsole()
	return r
}

// setupConsole routes console.log and friends to the logger
func (r *runtime) setupConsole() {
	console := r.vm.NewObject()

	logFn := func(level func() *zerolog.Event) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]interface{}, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			level().Msgf("[rules] %v", args)
			return goja.Undefined()
		}
	}

	console.Set("log", logFn(r.logger.Info))
	console.Set("error", logFn(r.logger.Error))
	console.Set("warn", logFn(r.logger.Warn))
	console.Set("debug", logFn(r.logger.Debug))

	r.vm.Set("console", console)
}

// eval runs program with vars bound as globals and reports its truthiness
func (r *runtime) eval(program *goja.Program, vars map[string]interface{}) (result bool, err error) {
	for name, value := range vars {
		if err := r.vm.Set(name, value); err != nil {
			return false, fmt.Errorf("failed to bind %s: %w", name, err)
		}
	}
	defer func() {
		for name := range vars {
			r.vm.Set(name, goja.Undefined())
		}
	}()

	value, err := r.run(program)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return false, ErrEvalTimeout
		}
		return false, err
	}
	return value.ToBoolean(), nil
}

// run executes program, interrupting the VM once the timeout elapses
func (r *runtime) run(program *goja.Program) (goja.Value, error) {
	if r.timeout <= 0 {
		return r.vm.RunProgram(program)
	}

	var (
		mu   sync.Mutex
		done bool
	)
	timer := time.AfterFunc(r.timeout, func() {
		mu.Lock()
		defer mu.Unlock()
		if !done {
			r.vm.Interrupt(ErrEvalTimeout)
		}
	})

	value, err := r.vm.RunProgram(program)

	timer.Stop()
	mu.Lock()
	done = true
	mu.Unlock()
	// An interrupt that landed after the program finished must not hit the next run
	r.vm.ClearInterrupt()
	return value, err
}
