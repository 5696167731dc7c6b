package usecase

import (
	"sort"

	"sparkie/internal/domain"
)

// Catalog is the per-request tool set: the static registry merged with the
// user's dynamic connector tools. Static tools win name collisions.
type Catalog struct {
	tools map[string]domain.Tool
	order []string
}

// NewCatalog merges static and dynamic tools. static may be nil.
func NewCatalog(static domain.ToolExecutor, dynamic []domain.Tool) *Catalog {
	c := &Catalog{tools: make(map[string]domain.Tool)}
	if static != nil {
		for _, s := range static.Schemas() {
			if t, err := static.Get(s.Name); err == nil {
				c.add(t)
			}
		}
	}
	for _, t := range dynamic {
		c.add(t)
	}
	sort.Strings(c.order)
	return c
}

func (c *Catalog) add(t domain.Tool) {
	name := t.Name()
	if _, exists := c.tools[name]; exists {
		return
	}
	c.tools[name] = t
	c.order = append(c.order, name)
}

// Get implements domain.ToolExecutor.
func (c *Catalog) Get(name string) (domain.Tool, error) {
	t, ok := c.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Catalog.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// Schemas implements domain.ToolExecutor. Order is by name.
func (c *Catalog) Schemas() []domain.ToolSchema {
	out := make([]domain.ToolSchema, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.tools[name].Schema())
	}
	return out
}

// Len returns the number of tools.
func (c *Catalog) Len() int { return len(c.order) }

var _ domain.ToolExecutor = (*Catalog)(nil)
