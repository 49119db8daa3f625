// Package registry tracks the server-side objects a peer may call.
//
// Every object gets a compact numeric id the first time it is handed out; singleton
// services are additionally indexed by interface name:
//
//	objects  id   -> Service      ids start at 1, increase, never reused
//	names    name -> id           only entries added with RegisterService
//
// The registry itself is a Service (NanoRpc.RpcObjectManager) whose only method, Delete,
// lets a client release an object it no longer needs.
package registry

import (
	"context"
	"errors"
	"math"
	"sync"

	"go.uber.org/zap"

	"nanorpc/log"
	"nanorpc/message"
)

// ServiceName is the interface name of the built-in object manager.
const ServiceName = "NanoRpc.RpcObjectManager"

var (
	// ErrNoDescriptor is returned when an implementation that is not a Service is
	// registered without a Descriptor to bind it.
	ErrNoDescriptor = errors.New("registry: no descriptor")
	// ErrObjectIDsExhausted is returned once every 32-bit id has been handed out.
	ErrObjectIDsExhausted = errors.New("registry: object ids exhausted")
	// ErrNilImplementation is returned when registering a nil implementation.
	ErrNilImplementation = errors.New("registry: nil implementation")
	// ErrEmptyName is returned by RegisterService when no name is given or derivable.
	ErrEmptyName = errors.New("registry: empty service name")
)

// Service handles the calls addressed to one object.
type Service interface {
	CallMethod(ctx context.Context, call *message.Call) *message.Result
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, call *message.Call) *message.Result

func (f ServiceFunc) CallMethod(ctx context.Context, call *message.Call) *message.Result {
	return f(ctx, call)
}

// Descriptor describes an interface and wraps implementations of it as a Service.
// objects is passed so that methods returning other objects can register them.
type Descriptor interface {
	Name() string
	Bind(impl any, objects *Registry) (Service, error)
}

// Registry is safe for concurrent use. Lookups take a read lock, mutations a write lock.
type Registry struct {
	logger *zap.Logger

	mu      sync.RWMutex
	lastID  uint32
	objects map[uint32]Service
	names   map[string]uint32
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = log.OrDiscard(logger) }
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger:  log.Discard,
		objects: make(map[uint32]Service),
		names:   make(map[string]uint32),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) bind(impl any, desc Descriptor) (Service, error) {
	if impl == nil {
		return nil, ErrNilImplementation
	}
	if desc != nil {
		return desc.Bind(impl, r)
	}
	if svc, ok := impl.(Service); ok {
		return svc, nil
	}
	return nil, ErrNoDescriptor
}

// nextID must be called with mu held.
func (r *Registry) nextID() (uint32, error) {
	if r.lastID == math.MaxUint32 {
		return 0, ErrObjectIDsExhausted
	}
	r.lastID++
	return r.lastID, nil
}

// RegisterInstance makes impl callable by id. impl is wrapped by desc unless desc is nil
// and impl already implements Service.
func (r *Registry) RegisterInstance(impl any, desc Descriptor) (uint32, error) {
	svc, err := r.bind(impl, desc)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id, err := r.nextID()
	if err != nil {
		return 0, err
	}
	r.objects[id] = svc
	r.logger.Debug("object registered", zap.Uint32("id", id))
	return id, nil
}

// RegisterService makes impl callable by name as well as by id. An empty name defaults to
// desc.Name(). A service already registered under the name is retired first.
func (r *Registry) RegisterService(name string, impl any, desc Descriptor) (uint32, error) {
	if name == "" && desc != nil {
		name = desc.Name()
	}
	if name == "" {
		return 0, ErrEmptyName
	}
	svc, err := r.bind(impl, desc)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.names[name]; ok {
		delete(r.objects, old)
		delete(r.names, name)
		r.logger.Debug("service replaced", zap.String("service", name), zap.Uint32("old_id", old))
	}
	id, err := r.nextID()
	if err != nil {
		return 0, err
	}
	r.objects[id] = svc
	r.names[name] = id
	r.logger.Debug("service registered", zap.String("service", name), zap.Uint32("id", id))
	return id, nil
}

// GetInstance returns the object with the given id. Id 0 is never valid.
func (r *Registry) GetInstance(id uint32) (Service, bool) {
	if id == 0 {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.objects[id]
	return svc, ok
}

// GetService returns the singleton registered under name.
func (r *Registry) GetService(name string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.names[name]
	if !ok {
		return nil, false
	}
	svc, ok := r.objects[id]
	return svc, ok
}

// Lookup resolves the target of call: by object id when set, by service name otherwise.
func (r *Registry) Lookup(call *message.Call) (Service, bool) {
	if call.ObjectID != 0 {
		return r.GetInstance(call.ObjectID)
	}
	return r.GetService(call.Service)
}

// Services lists the names of the registered singletons.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	return names
}

// Delete releases the object with the given id. Unknown ids are ignored.
func (r *Registry) Delete(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[id]; !ok {
		return
	}
	delete(r.objects, id)
	for name, sid := range r.names {
		if sid == id {
			delete(r.names, name)
			break
		}
	}
	r.logger.Debug("object deleted", zap.Uint32("id", id))
}

// Len returns the number of live objects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// CallMethod serves the object manager interface.
func (r *Registry) CallMethod(_ context.Context, call *message.Call) *message.Result {
	switch call.Method {
	case "Delete":
		if len(call.Parameters) != 1 {
			return message.Failed(message.StatusInvalidCallParameter, "Delete takes 1 parameter")
		}
		id, err := call.Parameters[0].Uint32Value()
		if err != nil {
			return message.Failed(message.StatusInvalidCallParameter, err.Error())
		}
		r.Delete(id)
		return message.Succeeded(nil)
	default:
		return message.Failed(message.StatusUnknownMethod, "unknown method "+ServiceName+"."+call.Method)
	}
}
