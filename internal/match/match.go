// Package match evaluates the JSONata matcher expressions used by context
// rules and tool policies. An absent matcher matches everything.
package match

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	jsonata "github.com/blues/jsonata-go"
)

var (
	cacheMu sync.RWMutex
	cache   = map[string]*jsonata.Expr{}
)

func compile(expr string) (*jsonata.Expr, error) {
	cacheMu.RLock()
	compiled, ok := cache[expr]
	cacheMu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := jsonata.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile matcher %q: %w", expr, err)
	}

	cacheMu.Lock()
	cache[expr] = compiled
	cacheMu.Unlock()
	return compiled, nil
}

// Eval evaluates a matcher against the given data and reports whether it
// matched. The data is normalized to plain JSON values first so structs
// behave like the objects JSONata expects. Truthiness follows JSONata: an
// undefined result or explicit false does not match, anything else does.
func Eval(expr string, data any) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}

	compiled, err := compile(expr)
	if err != nil {
		return false, err
	}

	normalized, err := normalize(data)
	if err != nil {
		return false, fmt.Errorf("normalize matcher data: %w", err)
	}

	result, err := compiled.Eval(normalized)
	if err != nil {
		if errors.Is(err, jsonata.ErrUndefined) {
			return false, nil
		}
		return false, fmt.Errorf("eval matcher %q: %w", expr, err)
	}

	switch v := result.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	default:
		return true, nil
	}
}

// normalize round-trips the data through JSON so nested structs and typed
// numbers all present as the plain objects JSONata operates on.
func normalize(data any) (any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
