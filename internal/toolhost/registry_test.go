package toolhost

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-process provider connection for registry tests.
type fakeConn struct {
	mu       sync.Mutex
	tools    []toolInfo
	failInit bool
	callFn   func(name string, args map[string]any) (callToolResult, error)
	closed   int
}

func (f *fakeConn) call(ctx context.Context, method string, params, out any) error {
	switch method {
	case methodInitialize:
		if f.failInit {
			return errors.New("handshake rejected")
		}
		return reply(out, initializeResult{ServerName: "fake"})
	case methodListTools:
		return reply(out, listToolsResult{Tools: f.tools})
	case methodCallTool:
		p := params.(callToolParams)
		if f.callFn == nil {
			return errors.New("no call handler")
		}
		res, err := f.callFn(p.Name, p.Arguments)
		if err != nil {
			return err
		}
		return reply(out, res)
	default:
		return errors.New("unsupported method: " + method)
	}
}

func (f *fakeConn) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func reply(out, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func newTestRegistry(conns map[string]*fakeConn, failLaunch map[string]bool) *Registry {
	r := NewRegistry()
	r.launch = func(cfg ProviderConfig, sampler Sampler) (providerConn, error) {
		if failLaunch[cfg.Name] {
			return nil, errors.New("spawn failed")
		}
		return conns[cfg.Name], nil
	}
	return r
}

func TestInitializeNoConfigIsNoOp(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Initialize(context.Background(), nil, nil))
	assert.Empty(t, r.Tools())
}

func TestInitializeMergesCatalogs(t *testing.T) {
	conns := map[string]*fakeConn{
		"alpha": {tools: []toolInfo{{Name: "search", Description: "search things"}}},
		"beta":  {tools: []toolInfo{{Name: "fetch", Description: "fetch things"}}},
	}
	r := newTestRegistry(conns, nil)

	cfg := []ProviderConfig{{Name: "alpha"}, {Name: "beta"}}
	require.NoError(t, r.Initialize(context.Background(), cfg, nil))

	tools := r.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "search", tools[0].Name)
	assert.Equal(t, "alpha", tools[0].Provider)
	assert.Equal(t, "fetch", tools[1].Name)
	assert.Equal(t, "beta", tools[1].Provider)
}

func TestToolsIdempotentAndCopied(t *testing.T) {
	conns := map[string]*fakeConn{
		"alpha": {tools: []toolInfo{{Name: "search"}}},
	}
	r := newTestRegistry(conns, nil)
	require.NoError(t, r.Initialize(context.Background(), []ProviderConfig{{Name: "alpha"}}, nil))

	first := r.Tools()
	first[0].Name = "mutated"

	second := r.Tools()
	assert.Equal(t, "search", second[0].Name)
	assert.Equal(t, r.Tools(), second)
}

func TestDuplicateToolFirstRegisteredWins(t *testing.T) {
	conns := map[string]*fakeConn{
		"alpha": {
			tools: []toolInfo{{Name: "search"}},
			callFn: func(name string, args map[string]any) (callToolResult, error) {
				return callToolResult{Content: "from alpha"}, nil
			},
		},
		"beta": {tools: []toolInfo{{Name: "search"}}},
	}
	r := newTestRegistry(conns, nil)

	cfg := []ProviderConfig{{Name: "alpha"}, {Name: "beta"}}
	require.NoError(t, r.Initialize(context.Background(), cfg, nil))

	tools := r.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "alpha", tools[0].Provider)

	result, err := r.Invoke(context.Background(), "search", nil)
	require.NoError(t, err)
	assert.Equal(t, "from alpha", result)
}

func TestProviderFailureIsIsolated(t *testing.T) {
	conns := map[string]*fakeConn{
		"bad":  {failInit: true},
		"good": {tools: []toolInfo{{Name: "fetch"}}},
	}
	r := newTestRegistry(conns, map[string]bool{"broken": true})

	cfg := []ProviderConfig{{Name: "broken"}, {Name: "bad"}, {Name: "good"}}
	require.NoError(t, r.Initialize(context.Background(), cfg, nil))

	tools := r.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "fetch", tools[0].Name)

	// The failed handshake connection must have been closed.
	assert.Equal(t, 1, conns["bad"].closed)
}

func TestInvokeRoutesToOwningProvider(t *testing.T) {
	conns := map[string]*fakeConn{
		"alpha": {
			tools: []toolInfo{{Name: "add"}},
			callFn: func(name string, args map[string]any) (callToolResult, error) {
				return callToolResult{Content: "3"}, nil
			},
		},
	}
	r := newTestRegistry(conns, nil)
	require.NoError(t, r.Initialize(context.Background(), []ProviderConfig{{Name: "alpha"}}, nil))

	result, err := r.Invoke(context.Background(), "add", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, "3", result)
}

func TestInvokeUnknownTool(t *testing.T) {
	r := NewRegistry()

	_, err := r.Invoke(context.Background(), "ghost", nil)
	assert.ErrorContains(t, err, "tool not found")
}

func TestInvokeToolError(t *testing.T) {
	conns := map[string]*fakeConn{
		"alpha": {
			tools: []toolInfo{{Name: "boom"}},
			callFn: func(name string, args map[string]any) (callToolResult, error) {
				return callToolResult{Content: "it broke", IsError: true}, nil
			},
		},
	}
	r := newTestRegistry(conns, nil)
	require.NoError(t, r.Initialize(context.Background(), []ProviderConfig{{Name: "alpha"}}, nil))

	_, err := r.Invoke(context.Background(), "boom", nil)
	assert.ErrorContains(t, err, "it broke")
}

func TestDisposeIdempotent(t *testing.T) {
	conns := map[string]*fakeConn{
		"alpha": {tools: []toolInfo{{Name: "search"}}},
	}
	r := newTestRegistry(conns, nil)
	require.NoError(t, r.Initialize(context.Background(), []ProviderConfig{{Name: "alpha"}}, nil))

	r.Dispose()
	r.Dispose()

	assert.Equal(t, 1, conns["alpha"].closed)
}

func TestInvokeAfterDispose(t *testing.T) {
	conns := map[string]*fakeConn{
		"alpha": {
			tools: []toolInfo{{Name: "search"}},
			callFn: func(name string, args map[string]any) (callToolResult, error) {
				return callToolResult{Content: "hit"}, nil
			},
		},
	}
	r := newTestRegistry(conns, nil)
	require.NoError(t, r.Initialize(context.Background(), []ProviderConfig{{Name: "alpha"}}, nil))

	r.Dispose()

	_, err := r.Invoke(context.Background(), "search", nil)
	assert.ErrorContains(t, err, "registry disposed")
	assert.Empty(t, r.Tools())
}

func TestDisposeOnUninitializedRegistry(t *testing.T) {
	r := NewRegistry()
	assert.NotPanics(t, r.Dispose)
}
