package runner

import (
	"context"
	"fmt"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
)

// Handler executes the domain logic for one job type. Per-item failures
// stay inside Handle and are surfaced through Outcome.ErrorCount; only
// errors that make the whole execution meaningless are returned.
type Handler interface {
	Type() model.JobType
	Handle(ctx context.Context, job *model.JobRecord) (Outcome, error)
}

// Outcome is what a handler reports back on a completed execution.
type Outcome struct {
	ErrorCount int
	Result     any
}

// Registry maps each job type to its handler. The mapping must be total
// and injective: construction fails if two handlers claim the same type or
// a known type has no handler, so a misconfigured worker never starts.
type Registry struct {
	handlers map[model.JobType]Handler
}

func NewRegistry(handlers ...Handler) (*Registry, error) {
	m := make(map[model.JobType]Handler, len(handlers))
	for _, h := range handlers {
		t := h.Type()
		if !t.Valid() {
			return nil, fmt.Errorf("handler registered for unknown job type %q", t)
		}
		if _, dup := m[t]; dup {
			return nil, fmt.Errorf("duplicate handler for job type %q", t)
		}
		m[t] = h
	}

	for _, t := range model.JobTypes() {
		if _, ok := m[t]; !ok {
			return nil, fmt.Errorf("no handler registered for job type %q", t)
		}
	}

	return &Registry{handlers: m}, nil
}

func (r *Registry) Handler(t model.JobType) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}
