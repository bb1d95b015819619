package chat

import (
	"sync"

	"go.uber.org/zap"

	"github.com/lumen-ide/lumen/errors"
	"github.com/lumen-ide/lumen/logger"
)

// Registry holds all registered chat participants keyed by mention id.
type Registry struct {
	mu           sync.RWMutex
	participants map[string]Participant
	subs         map[int]func()
	nextSub      int
	logger       *zap.SugaredLogger
}

// NewRegistry creates an empty participant registry.
func NewRegistry() *Registry {
	return &Registry{
		participants: make(map[string]Participant),
		subs:         make(map[int]func()),
		logger:       logger.Named("chat.registry"),
	}
}

// Subscribe registers fn to run after every registry change. Returns an
// unsubscribe function.
func (r *Registry) Subscribe(fn func()) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

func (r *Registry) fire() {
	r.mu.RLock()
	fns := make([]func(), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

// Register adds a participant, silently overwriting any existing one
// with the same id. Subscribers are always notified.
func (r *Registry) Register(p Participant) {
	r.mu.Lock()
	previous, replaced := r.participants[p.ID]
	r.participants[p.ID] = p
	r.mu.Unlock()

	if replaced {
		r.logger.Warnw("Chat participant replaced",
			logger.FieldParticipant, p.ID,
			"previous", previous.Extension,
			logger.FieldExtension, p.Extension,
		)
	} else {
		r.logger.Infow("Chat participant registered",
			logger.FieldParticipant, p.ID,
			logger.FieldExtension, p.Extension,
		)
	}
	r.fire()
}

// Unregister removes a participant by id. Subscribers are notified only
// when something was actually removed.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	_, exists := r.participants[id]
	delete(r.participants, id)
	r.mu.Unlock()

	if exists {
		r.fire()
	}
}

// Get returns the participant registered under id.
func (r *Registry) Get(id string) (Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, exists := r.participants[id]
	if !exists {
		return Participant{}, errors.Wrapf(errors.ErrNotFound, "chat participant %s is not registered", id)
	}
	return p, nil
}

// List returns all participants in unspecified order.
func (r *Registry) List() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}
