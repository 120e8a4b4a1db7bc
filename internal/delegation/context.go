// Package delegation defines the coordination request context and the
// closed set of coordination patterns that can serve it.
package delegation

// Attribute keys understood by the built-in patterns.
const (
	AttrRequiredSteps     = "required_steps"
	AttrRequiredResources = "required_resources"
	AttrRequiredDomains   = "required_domains"
)

// Context describes one unit of work to be delegated. It is immutable once
// constructed: NewContext copies the attribute map and accessors never hand
// out mutable references to internal state.
type Context struct {
	domain     string
	agentType  string
	priority   int
	attributes map[string]interface{}
}

// NewContext builds an immutable delegation context. The priority is
// caller-supplied and never mutated by the engine.
func NewContext(domain, agentType string, priority int, attributes map[string]interface{}) *Context {
	attrs := make(map[string]interface{}, len(attributes))
	for k, v := range attributes {
		attrs[k] = v
	}
	return &Context{
		domain:     domain,
		agentType:  agentType,
		priority:   priority,
		attributes: attrs,
	}
}

// Domain returns the area of responsibility this request belongs to.
func (c *Context) Domain() string { return c.domain }

// AgentType returns the requested coordination style tag.
func (c *Context) AgentType() string { return c.agentType }

// Priority returns the caller-supplied priority.
func (c *Context) Priority() int { return c.priority }

// Attribute returns a single attribute value.
func (c *Context) Attribute(key string) (interface{}, bool) {
	v, ok := c.attributes[key]
	return v, ok
}

// StringSlice reads an attribute as a list of strings. It accepts either
// []string or []interface{} of strings, which is what JSON decoding yields.
func (c *Context) StringSlice(key string) []string {
	v, ok := c.attributes[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		out := make([]string, len(vv))
		copy(out, vv)
		return out
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			s, ok := e.(string)
			if !ok {
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		return nil
	}
}

// RequiredSteps returns the ordered step names this request needs.
func (c *Context) RequiredSteps() []string { return c.StringSlice(AttrRequiredSteps) }

// RequiredResources returns the resource types this request needs.
func (c *Context) RequiredResources() []string { return c.StringSlice(AttrRequiredResources) }

// RequiredDomains returns the domains this request spans.
func (c *Context) RequiredDomains() []string { return c.StringSlice(AttrRequiredDomains) }
