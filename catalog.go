package mrpc

import (
	"sort"
	"sync"

	"miren.dev/mrpc/pkg/cond"
)

// CallMethod is the fixed method token appended to an interest to form the
// full method name. Every interest exposes exactly one unary method.
const CallMethod = "_call"

// FullMethod returns the wire method name for an interest.
func FullMethod(interest string) string {
	return interest + "/" + CallMethod
}

// Binding is one installed method: the interest, its message factories, and
// the handler composed from the processor and the interceptor chain.
// Bindings are immutable once added to a catalog.
type Binding struct {
	Method      string
	Interest    string
	NewRequest  Factory
	NewResponse Factory
	Handler     Handler
}

// Catalog is the mutable method table the dispatch layer consults on every
// call. Additions are accepted at any time, including while the server is
// running; installed bindings are never replaced or removed.
type Catalog struct {
	mu       sync.RWMutex
	bindings map[string]*Binding
}

func NewCatalog() *Catalog {
	return &Catalog{
		bindings: make(map[string]*Binding),
	}
}

func (c *Catalog) Add(b *Binding) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.bindings[b.Method]; ok {
		return cond.Conflict("method", b.Method)
	}

	c.bindings[b.Method] = b
	return nil
}

func (c *Catalog) Lookup(method string) (*Binding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	b, ok := c.bindings[method]
	return b, ok
}

// Methods returns the installed method names, sorted.
func (c *Catalog) Methods() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	methods := make([]string, 0, len(c.bindings))
	for m := range c.bindings {
		methods = append(methods, m)
	}

	sort.Strings(methods)
	return methods
}
