package registry

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"nanorpc/message"
)

type echo struct{ tag string }

func (e *echo) CallMethod(_ context.Context, call *message.Call) *message.Result {
	return message.Succeeded(message.String(e.tag + "." + call.Method).Ptr())
}

type wrapDescriptor struct{ name string }

func (d wrapDescriptor) Name() string { return d.name }

func (d wrapDescriptor) Bind(impl any, _ *Registry) (Service, error) {
	s, ok := impl.(string)
	if !ok {
		return nil, assert.AnError
	}
	return &echo{tag: s}, nil
}

func TestRegisterInstanceIDs(t *testing.T) {
	r := New()

	id1, err := r.RegisterInstance(&echo{tag: "a"}, nil)
	require.NoError(t, err)
	id2, err := r.RegisterInstance("b", wrapDescriptor{name: "B"})
	require.NoError(t, err)

	assert.Equal(t, uint32(1), id1)
	assert.Equal(t, uint32(2), id2)

	_, ok := r.GetInstance(0)
	assert.False(t, ok)

	svc, ok := r.GetInstance(id2)
	require.True(t, ok)
	v, err := svc.CallMethod(context.Background(), &message.Call{Method: "M"}).CallResult.StringValue()
	require.NoError(t, err)
	assert.Equal(t, "b.M", v)

	// instances are not reachable by name
	_, ok = r.GetService("B")
	assert.False(t, ok)
}

func TestRegisterErrors(t *testing.T) {
	r := New()

	_, err := r.RegisterInstance(42, nil)
	require.ErrorIs(t, err, ErrNoDescriptor)

	_, err = r.RegisterInstance(nil, nil)
	require.ErrorIs(t, err, ErrNilImplementation)

	_, err = r.RegisterInstance(42, wrapDescriptor{})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 0, r.Len())
}

func TestRegisterServiceReplaces(t *testing.T) {
	r := New()

	old, err := r.RegisterService("Foo", &echo{tag: "old"}, nil)
	require.NoError(t, err)
	cur, err := r.RegisterService("Foo", &echo{tag: "new"}, nil)
	require.NoError(t, err)
	assert.Greater(t, cur, old)

	_, ok := r.GetInstance(old)
	assert.False(t, ok, "replaced service must be retired")

	svc, ok := r.GetService("Foo")
	require.True(t, ok)
	assert.Equal(t, "new", svc.(*echo).tag)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []string{"Foo"}, r.Services())
}

func TestRegisterServiceDefaultName(t *testing.T) {
	r := New()
	_, err := r.RegisterService("", "x", wrapDescriptor{name: "Demo.Echo"})
	require.NoError(t, err)
	_, ok := r.GetService("Demo.Echo")
	assert.True(t, ok)

	_, err = r.RegisterService("", &echo{}, nil)
	require.ErrorIs(t, err, ErrEmptyName)
}

func TestDelete(t *testing.T) {
	r := New()
	id, err := r.RegisterService("Foo", &echo{}, nil)
	require.NoError(t, err)

	r.Delete(id)
	r.Delete(id)
	r.Delete(999)

	_, ok := r.GetInstance(id)
	assert.False(t, ok)
	_, ok = r.GetService("Foo")
	assert.False(t, ok)

	next, err := r.RegisterInstance(&echo{}, nil)
	require.NoError(t, err)
	assert.Greater(t, next, id, "ids are never reused")
}

func TestLookup(t *testing.T) {
	r := New()
	sid, err := r.RegisterService("Foo", &echo{tag: "svc"}, nil)
	require.NoError(t, err)
	oid, err := r.RegisterInstance(&echo{tag: "obj"}, nil)
	require.NoError(t, err)

	svc, ok := r.Lookup(message.NewCall("Foo", "Bar"))
	require.True(t, ok)
	assert.Equal(t, "svc", svc.(*echo).tag)

	svc, ok = r.Lookup(message.NewObjectCall(oid, "Bar"))
	require.True(t, ok)
	assert.Equal(t, "obj", svc.(*echo).tag)

	_, ok = r.Lookup(message.NewCall("Missing", "Bar"))
	assert.False(t, ok)
	_, ok = r.Lookup(message.NewObjectCall(sid+oid+10, "Bar"))
	assert.False(t, ok)
}

func TestIDsExhausted(t *testing.T) {
	r := New()
	r.lastID = math.MaxUint32 - 1

	id, err := r.RegisterInstance(&echo{}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), id)

	_, err = r.RegisterInstance(&echo{}, nil)
	require.ErrorIs(t, err, ErrObjectIDsExhausted)
	_, err = r.RegisterService("Foo", &echo{}, nil)
	require.ErrorIs(t, err, ErrObjectIDsExhausted)
}

func TestObjectManagerService(t *testing.T) {
	r := New()
	ctx := context.Background()
	id, err := r.RegisterInstance(&echo{}, nil)
	require.NoError(t, err)

	res := r.CallMethod(ctx, &message.Call{Service: ServiceName, Method: "Delete", Parameters: []message.Parameter{message.Uint32(id)}})
	require.NoError(t, res.Err())
	assert.Nil(t, res.CallResult)
	assert.Equal(t, 0, r.Len())

	res = r.CallMethod(ctx, &message.Call{Method: "Delete"})
	assert.Equal(t, message.StatusInvalidCallParameter, res.Status)

	res = r.CallMethod(ctx, &message.Call{Method: "Delete", Parameters: []message.Parameter{message.String("1")}})
	assert.Equal(t, message.StatusInvalidCallParameter, res.Status)

	res = r.CallMethod(ctx, &message.Call{Method: "Create"})
	assert.Equal(t, message.StatusUnknownMethod, res.Status)
}

func TestConcurrentRegistration(t *testing.T) {
	r := New()
	const n = 64

	var (
		mu  sync.Mutex
		ids = make(map[uint32]struct{}, n)
	)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			id, err := r.RegisterInstance(&echo{}, nil)
			if err != nil {
				return err
			}
			if _, ok := r.GetInstance(id); !ok {
				return assert.AnError
			}
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, ids, n)
	assert.Equal(t, n, r.Len())
}
