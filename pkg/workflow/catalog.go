package workflow

import (
	"context"
	"sort"
	"sync"

	"github.com/rendis/stepflow/pkg/schema"
)

// Catalog holds committed workflows by name. It is safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{workflows: make(map[string]*Workflow)}
}

// Register adds a committed workflow. Names are unique.
func (c *Catalog) Register(w *Workflow) error {
	if err := checkRegistrable(w); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.workflows[w.Name()]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %q already registered", w.Name())
	}
	c.workflows[w.Name()] = w
	return nil
}

// Replace registers w, overwriting any workflow of the same name. It reports
// whether one was overwritten.
func (c *Catalog) Replace(w *Workflow) (bool, error) {
	if err := checkRegistrable(w); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.workflows[w.Name()]
	c.workflows[w.Name()] = w
	return existed, nil
}

func checkRegistrable(w *Workflow) error {
	if w == nil || w.Name() == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow must have a name")
	}
	if !w.Committed() {
		return schema.NewErrorf(schema.ErrCodeNotCommitted, "workflow %q must be committed before registration", w.Name())
	}
	return nil
}

// Get returns the workflow registered under name.
func (c *Catalog) Get(name string) (*Workflow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.workflows[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", name)
	}
	return w, nil
}

// Names returns the registered workflow names sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.workflows))
	for name := range c.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered workflows.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.workflows)
}

// Execute runs the named workflow once.
func (c *Catalog) Execute(ctx context.Context, name string, trigger any) (*Result, error) {
	w, err := c.Get(name)
	if err != nil {
		return nil, err
	}
	return w.Execute(ctx, trigger)
}

// RunWorkflow runs the named workflow and discards its results. It lets the
// catalog drive cron schedules.
func (c *Catalog) RunWorkflow(ctx context.Context, name string, trigger map[string]any) error {
	var payload any
	if trigger != nil {
		payload = trigger
	}
	_, err := c.Execute(ctx, name, payload)
	return err
}
