package runtime

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Context is the parameter store shared across the steps of one scenario
// invocation. A child context layers a fresh writable map over a read-only
// view of its parent, so parameters set by an invoked scenario never leak
// upward. Each context is owned by a single scenario run; no locking.
type Context struct {
	parent *Context
	values map[string]interface{}
}

// NewContext creates an empty root context.
func NewContext() *Context {
	return &Context{values: make(map[string]interface{})}
}

// Child creates a writable layer inheriting this context's parameters.
func (c *Context) Child() *Context {
	return &Context{parent: c, values: make(map[string]interface{})}
}

// Get resolves a parameter, walking up through parent layers.
func (c *Context) Get(name string) (interface{}, bool) {
	for cur := c; cur != nil; cur = cur.parent {
		if v, ok := cur.values[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Set binds a parameter in the current layer, shadowing any parent value.
func (c *Context) Set(name string, value interface{}) {
	c.values[name] = value
}

// SetString coerces a raw extracted string and binds it.
func (c *Context) SetString(name, raw string) {
	c.values[name] = Coerce(raw)
}

// Snapshot flattens all layers into a single map for expression evaluation.
// Closer layers win.
func (c *Context) Snapshot() map[string]interface{} {
	var chain []*Context
	for cur := c; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	flat := make(map[string]interface{})
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].values {
			flat[k] = v
		}
	}
	return flat
}

// Coerce converts a raw captured string into the closed value variant used
// in comparisons: bool, int, float, JSON array/object, or string.
func Coerce(raw string) interface{} {
	s := strings.TrimSpace(raw)
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if len(s) > 1 && s[0] == '[' {
		var arr []interface{}
		if err := json.Unmarshal([]byte(s), &arr); err == nil {
			return arr
		}
	}
	if len(s) > 1 && s[0] == '{' {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(s), &obj); err == nil {
			return obj
		}
	}
	return raw
}
