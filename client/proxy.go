package client

import (
	"errors"

	"go.uber.org/atomic"

	"nanorpc/message"
	"nanorpc/registry"
)

// ErrObjectClosed is returned by calls on an ObjectProxy after Close.
var ErrObjectClosed = errors.New("client: object proxy closed")

// Proxy calls a singleton service by name. Typed wrappers embed or hold one.
type Proxy struct {
	c       *Client
	service string
}

// Service returns a proxy for the named singleton service.
func (c *Client) Service(name string) *Proxy {
	return &Proxy{c: c, service: name}
}

// Name returns the service name.
func (p *Proxy) Name() string { return p.service }

// Call invokes method and waits for its result.
func (p *Proxy) Call(method string, params ...message.Parameter) (*message.Parameter, error) {
	return p.c.Invoke(message.NewCall(p.service, method, params...))
}

// Notify invokes method without waiting for a result.
func (p *Proxy) Notify(method string, params ...message.Parameter) error {
	return p.c.Send(message.NewCall(p.service, method, params...))
}

// Object invokes a method returning an object and wraps the id. A null result yields a
// nil proxy and no error.
func (p *Proxy) Object(method string, params ...message.Parameter) (*ObjectProxy, error) {
	v, err := p.Call(method, params...)
	if err != nil {
		return nil, err
	}
	return p.c.objectFrom(v)
}

// ObjectProxy calls one object instance by id. Close releases the server-side object.
type ObjectProxy struct {
	c      *Client
	id     uint32
	closed atomic.Bool
}

// Object returns a proxy for the object with the given id.
func (c *Client) Object(id uint32) *ObjectProxy {
	return &ObjectProxy{c: c, id: id}
}

func (c *Client) objectFrom(v *message.Parameter) (*ObjectProxy, error) {
	if v == nil || v.IsNull() {
		return nil, nil
	}
	id, err := v.ObjectIDValue()
	if err != nil {
		return nil, err
	}
	return c.Object(id), nil
}

// ID returns the object id.
func (o *ObjectProxy) ID() uint32 { return o.id }

// Call invokes method on the object and waits for its result.
func (o *ObjectProxy) Call(method string, params ...message.Parameter) (*message.Parameter, error) {
	if o.closed.Load() {
		return nil, ErrObjectClosed
	}
	return o.c.Invoke(message.NewObjectCall(o.id, method, params...))
}

// Object invokes a method on the object that itself returns an object.
func (o *ObjectProxy) Object(method string, params ...message.Parameter) (*ObjectProxy, error) {
	v, err := o.Call(method, params...)
	if err != nil {
		return nil, err
	}
	return o.c.objectFrom(v)
}

// Close asks the server to delete the object. Only the first call sends anything.
func (o *ObjectProxy) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	_, err := o.c.Invoke(message.NewCall(registry.ServiceName, "Delete", message.Uint32(o.id)))
	return err
}
