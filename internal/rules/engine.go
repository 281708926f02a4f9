package rules

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

const (
	// DefaultCacheSize is the number of compiled expressions kept by default
	DefaultCacheSize = 256
	// DefaultEvalTimeout bounds a single rule evaluation
	DefaultEvalTimeout = 250 * time.Millisecond
)

// rule is one path pattern with its read expression
type rule struct {
	pattern []string
	expr    string
}

// Engine evaluates read rules. A read is granted when any rule at the path
// or one of its ancestors evaluates truthy. An Engine without rules grants
// everything.
type Engine struct {
	rules    []rule
	programs *lru.Cache[string, *goja.Program]
	rt       *runtime // goja runtimes are not safe for concurrent use
	mu       sync.Mutex
	now      func() time.Time
	logger   zerolog.Logger
}

// New compiles the given rules. Keys are path patterns where a segment
// starting with "$" matches any key and binds it as a variable. The cache
// always holds at least one program per rule.
func New(readRules map[string]string, cacheSize int, logger zerolog.Logger) (*Engine, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cacheSize = max(cacheSize, len(readRules))
	programs, err := lru.New[string, *goja.Program](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create program cache: %w", err)
	}

	e := &Engine{
		programs: programs,
		now:      time.Now,
		logger:   logger.With().Str("component", "rules").Logger(),
	}
	e.rt = newRuntime(e.logger)
	e.rt.timeout = DefaultEvalTimeout

	for pattern, expr := range readRules {
		if _, err := e.compile(expr); err != nil {
			return nil, fmt.Errorf("rule %q: %w", pattern, err)
		}
		e.rules = append(e.rules, rule{pattern: splitPath(pattern), expr: expr})
	}
	// Shallow rules first so cheap ancestor grants short-circuit
	sort.Slice(e.rules, func(i, j int) bool {
		if len(e.rules[i].pattern) != len(e.rules[j].pattern) {
			return len(e.rules[i].pattern) < len(e.rules[j].pattern)
		}
		return strings.Join(e.rules[i].pattern, "/") < strings.Join(e.rules[j].pattern, "/")
	})

	return e, nil
}

// SetTimeout sets the bound for a single rule evaluation. A rule that runs
// longer is interrupted and denies. Zero disables the bound.
func (e *Engine) SetTimeout(timeout time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rt.timeout = timeout
}

// Len returns the number of rules
func (e *Engine) Len() int {
	return len(e.rules)
}

// CanRead reports whether path may be read given the whole tree root
func (e *Engine) CanRead(path string, root any) (bool, error) {
	if len(e.rules) == 0 {
		return true, nil
	}
	segs := splitPath(path)

	e.mu.Lock()
	defer e.mu.Unlock()

	var lastErr error
	for _, r := range e.rules {
		vars, ok := match(r.pattern, segs)
		if !ok {
			continue
		}
		location := segs[:len(r.pattern)]
		vars["data"] = valueAt(root, location)
		vars["path"] = "/" + strings.Join(location, "/")
		vars["now"] = e.now().UnixMilli()

		program, err := e.compile(r.expr)
		if err != nil {
			lastErr = err
			continue
		}
		granted, err := e.rt.eval(program, vars)
		if err != nil {
			e.logger.Warn().Err(err).Str("rule", r.expr).Str("path", path).Msg("rule evaluation failed")
			lastErr = err
			continue
		}
		if granted {
			return true, nil
		}
	}
	return false, lastErr
}

// compile returns the cached program for expr
func (e *Engine) compile(expr string) (*goja.Program, error) {
	if program, ok := e.programs.Get(expr); ok {
		return program, nil
	}
	program, err := goja.Compile("rule", "("+expr+")", true)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rule: %w", err)
	}
	e.programs.Add(expr, program)
	return program, nil
}

// match reports whether pattern matches a prefix of segs and returns the
// bound wildcard variables
func match(pattern, segs []string) (map[string]interface{}, bool) {
	if len(pattern) > len(segs) {
		return nil, false
	}
	vars := make(map[string]interface{})
	for i, p := range pattern {
		if strings.HasPrefix(p, "$") {
			vars[p] = segs[i]
			continue
		}
		if p != segs[i] {
			return nil, false
		}
	}
	return vars, true
}

// valueAt returns a copy of the node at segs so rule scripts cannot mutate
// the tree
func valueAt(node any, segs []string) any {
	for _, seg := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[seg]
	}
	return copyValue(node)
}

func copyValue(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, child := range m {
		out[k] = copyValue(child)
	}
	return out
}

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}
