// Package stub turns typed Go implementations into registry.Service values.
//
// An Interface is an explicit dispatch table, built once per interface: each Method
// declares its parameter and return types and an Invoke closure that calls the
// implementation. CallMethod decodes the wire parameters against the declaration,
// invokes, and encodes the return value:
//
//	Call{Method, Parameters} ─→ table[Method] ─→ decode params ─→ Invoke(impl, args)
//	                                                                     │
//	Result{Status, CallResult} ←──────────────── encode return ─────────┘
//
// Objects returned by a method are registered in the registry and travel as object ids;
// the peer calls them through their id. Interface-typed parameters are not supported.
package stub

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"google.golang.org/protobuf/proto"

	"nanorpc/message"
	"nanorpc/registry"
)

var (
	// ErrInterfaceParameter is returned for a method taking an interface-typed parameter.
	ErrInterfaceParameter = errors.New("stub: interface-typed parameters are not supported")
	ErrDuplicateMethod    = errors.New("stub: duplicate method")
	ErrInvalidMethod      = errors.New("stub: invalid method")
	ErrNilImplementation  = errors.New("stub: nil implementation")
)

// Type is the declared type of a parameter or return value.
type Type uint8

const (
	Void Type = iota
	Bool
	Int32
	Int64
	Uint32
	Double
	String
	Message // a proto.Message; Arg.New allocates the concrete type
	Object  // an interface-typed value, passed by object id
)

func (t Type) String() string {
	switch t {
	case Void:
		return "void"
	case Bool:
		return "bool"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint32:
		return "uint32"
	case Double:
		return "double"
	case String:
		return "string"
	case Message:
		return "message"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Arg declares one parameter or return value.
type Arg struct {
	Type Type
	// New allocates the message a Message parameter is decoded into.
	New func() proto.Message
	// Interface binds objects returned by an Object return value. It may be nil when the
	// returned value implements registry.Service itself.
	Interface *Interface
}

// Method is one entry of a dispatch table.
//
// Invoke receives the decoded arguments in declaration order, typed as bool, int32,
// int64, uint32, float64, string or proto.Message. Its return value must match Returns;
// an Object return must be an untyped nil to travel as null.
type Method struct {
	Name    string
	Params  []Arg
	Returns Arg
	Invoke  func(impl any, args []any) (any, error)
}

// Interface is an immutable dispatch table. It implements registry.Descriptor.
type Interface struct {
	name    string
	methods map[string]*Method
}

var _ registry.Descriptor = (*Interface)(nil)

// NewInterface validates methods and builds the table.
func NewInterface(name string, methods ...Method) (*Interface, error) {
	iface := &Interface{name: name, methods: make(map[string]*Method, len(methods))}
	for i := range methods {
		m := methods[i]
		if m.Name == "" || m.Invoke == nil {
			return nil, fmt.Errorf("%w: %s method %d needs a name and Invoke", ErrInvalidMethod, name, i)
		}
		if _, ok := iface.methods[m.Name]; ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrDuplicateMethod, name, m.Name)
		}
		for j, p := range m.Params {
			switch p.Type {
			case Object:
				return nil, fmt.Errorf("%w: %s.%s parameter %d", ErrInterfaceParameter, name, m.Name, j)
			case Void:
				return nil, fmt.Errorf("%w: %s.%s parameter %d is void", ErrInvalidMethod, name, m.Name, j)
			case Message:
				if p.New == nil {
					return nil, fmt.Errorf("%w: %s.%s parameter %d has no message type", ErrInvalidMethod, name, m.Name, j)
				}
			}
		}
		iface.methods[m.Name] = &m
	}
	return iface, nil
}

// MustInterface is NewInterface for package-level tables; it panics on error.
func MustInterface(name string, methods ...Method) *Interface {
	iface, err := NewInterface(name, methods...)
	if err != nil {
		panic(err)
	}
	return iface
}

// Name returns the interface name used for service registration and events.
func (i *Interface) Name() string { return i.name }

// Method returns the named table entry.
func (i *Interface) Method(name string) (*Method, bool) {
	m, ok := i.methods[name]
	return m, ok
}

// Methods lists method names in sorted order.
func (i *Interface) Methods() []string {
	names := make([]string, 0, len(i.methods))
	for name := range i.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bind wraps impl. objects receives the objects impl's methods return; it may be nil
// when no method returns an Object.
func (i *Interface) Bind(impl any, objects *registry.Registry) (registry.Service, error) {
	if impl == nil {
		return nil, ErrNilImplementation
	}
	return &service{iface: i, impl: impl, objects: objects}, nil
}

type service struct {
	iface   *Interface
	impl    any
	objects *registry.Registry
}

func (s *service) CallMethod(_ context.Context, call *message.Call) *message.Result {
	m, ok := s.iface.methods[call.Method]
	if !ok {
		return message.Failed(message.StatusUnknownMethod, fmt.Sprintf("unknown method %s.%s", s.iface.name, call.Method))
	}
	if len(call.Parameters) != len(m.Params) {
		return message.Failed(message.StatusInvalidCallParameter,
			fmt.Sprintf("%s.%s takes %d parameters, got %d", s.iface.name, m.Name, len(m.Params), len(call.Parameters)))
	}

	args := make([]any, len(m.Params))
	for j, decl := range m.Params {
		v, err := decode(call.Parameters[j], decl)
		if err != nil {
			return message.Failed(message.StatusInvalidCallParameter,
				fmt.Sprintf("%s.%s parameter %d: %v", s.iface.name, m.Name, j, err))
		}
		args[j] = v
	}

	ret, err := m.Invoke(s.impl, args)
	if err != nil {
		var rpcErr *message.Error
		if errors.As(err, &rpcErr) {
			return message.Failed(rpcErr.Status, rpcErr.Message)
		}
		return message.Failed(message.StatusInvalidCallParameter, err.Error())
	}

	p, err := s.encode(ret, m.Returns)
	if err != nil {
		return message.Failed(message.StatusProtocolError, fmt.Sprintf("%s.%s return: %v", s.iface.name, m.Name, err))
	}
	return message.Succeeded(p)
}

func decode(p message.Parameter, decl Arg) (any, error) {
	switch decl.Type {
	case Bool:
		return p.BoolValue()
	case Int32:
		return p.Int32Value()
	case Int64:
		return p.Int64Value()
	case Uint32:
		return p.Uint32Value()
	case Double:
		return p.DoubleValue()
	case String:
		return p.StringValue()
	case Message:
		msg := decl.New()
		if err := p.Unmarshal(msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %s", decl.Type)
	}
}

func (s *service) encode(v any, decl Arg) (*message.Parameter, error) {
	var (
		p  message.Parameter
		ok bool
	)
	switch decl.Type {
	case Void:
		return nil, nil
	case Bool:
		var b bool
		b, ok = v.(bool)
		p = message.Bool(b)
	case Int32:
		var n int32
		n, ok = v.(int32)
		p = message.Int32(n)
	case Int64:
		var n int64
		n, ok = v.(int64)
		p = message.Int64(n)
	case Uint32:
		var n uint32
		n, ok = v.(uint32)
		p = message.Uint32(n)
	case Double:
		var f float64
		f, ok = v.(float64)
		p = message.Double(f)
	case String:
		var str string
		str, ok = v.(string)
		p = message.String(str)
	case Message:
		if v == nil {
			return message.Null().Ptr(), nil
		}
		msg, isMsg := v.(proto.Message)
		if !isMsg {
			break
		}
		var err error
		if p, err = message.Proto(msg); err != nil {
			return nil, err
		}
		ok = true
	case Object:
		if v == nil {
			return message.Null().Ptr(), nil
		}
		if s.objects == nil {
			return nil, errors.New("no registry for returned object")
		}
		var desc registry.Descriptor
		if decl.Interface != nil {
			desc = decl.Interface
		}
		id, err := s.objects.RegisterInstance(v, desc)
		if err != nil {
			return nil, err
		}
		return message.ObjectID(id).Ptr(), nil
	}
	if !ok {
		return nil, fmt.Errorf("got %T, want %s", v, decl.Type)
	}
	return p.Ptr(), nil
}
