package experiments

import "github.com/google/uuid"

// Context carries the per-request identity through every engine call. Hosts
// build one Context per concurrent request and never share it between
// requests; the engine holds no ambient identity state, so identity
// resolution in one request can never leak into another.
type Context struct {
	identity string
	// Request is the host's opaque request object, consulted by the
	// registry's request filter to veto persistence (e.g. bot traffic).
	Request interface{}
}

// NewContext builds a request context for the given identity. An empty
// identity gets a random UUID, mirroring the anonymous-visitor cookie a web
// host would mint on first contact.
func NewContext(identity string) *Context {
	if identity == "" {
		identity = uuid.NewString()
	}
	return &Context{identity: identity}
}

// WithRequest attaches the host's request object and returns the context for
// chaining.
func (c *Context) WithRequest(request interface{}) *Context {
	c.Request = request
	return c
}

// Identity returns the opaque visitor identity.
func (c *Context) Identity() string {
	return c.identity
}
