// Package registry maps method names to executors.
//
// Methods are registered at startup. Once the server starts dispatching, the
// registry is sealed and lookups run without locking.
package registry

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"msgpack-rpc/message"
	"msgpack-rpc/transport"
)

// Executor handles both forms of one method. HandleRequest must return a
// response carrying the request's identifier.
type Executor interface {
	HandleRequest(ctx context.Context, req *message.Request) *message.Response
	HandleNotification(ctx context.Context, n *message.Notification)
}

// Registry is a name → Executor table, append-only until Seal.
type Registry struct {
	mu      sync.Mutex
	methods map[string]Executor
	sealed  atomic.Bool
}

func New() *Registry {
	return &Registry{methods: make(map[string]Executor)}
}

// Register adds exec under name. Empty names, duplicates and registration
// after Seal are rejected.
func (r *Registry) Register(name string, exec Executor) error {
	if name == "" {
		return errors.New("method name is empty")
	}
	if exec == nil {
		return errors.Errorf("method %q has no executor", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return errors.Errorf("register %q: registry is sealed", name)
	}
	if _, dup := r.methods[name]; dup {
		return errors.Errorf("method %q already registered", name)
	}
	r.methods[name] = exec
	return nil
}

// RegisterFunc registers fn as a FuncExecutor.
func (r *Registry) RegisterFunc(name string, fn Func, opts ...FuncOption) error {
	return r.Register(name, NewFuncExecutor(name, fn, opts...))
}

// RegisterTyped registers a plain Go function, see NewTypedExecutor.
func (r *Registry) RegisterTyped(name string, fn any, opts ...FuncOption) error {
	exec, err := NewTypedExecutor(name, fn, opts...)
	if err != nil {
		return err
	}
	return r.Register(name, exec)
}

// Seal freezes the registry. It is safe to call more than once.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed.Store(true)
	r.mu.Unlock()
}

func (r *Registry) Sealed() bool { return r.sealed.Load() }

// Lookup finds the executor for name.
func (r *Registry) Lookup(name string) (Executor, bool) {
	if r.sealed.Load() {
		exec, ok := r.methods[name]
		return exec, ok
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, ok := r.methods[name]
	return exec, ok
}

// Methods lists the registered names in sorted order.
func (r *Registry) Methods() []string {
	r.mu.Lock()
	names := maps.Keys(r.methods)
	r.mu.Unlock()
	slices.Sort(names)
	return names
}

type sessionKey struct{}

// WithSession attaches the calling peer to ctx.
func WithSession(ctx context.Context, s transport.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the peer that sent the message being handled.
func SessionFrom(ctx context.Context) (transport.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(transport.Session)
	return s, ok
}
