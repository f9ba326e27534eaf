// Package toolhost launches and supervises out-of-process tool
// providers and exposes their merged tool catalog.
package toolhost

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"
)

// launchConcurrency bounds how many providers start at once.
const launchConcurrency = 4

// ProviderConfig describes how to launch one tool provider.
type ProviderConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
}

// Sampler lets a provider request a model completion through the host.
type Sampler func(ctx context.Context, prompt string) (string, error)

// Descriptor is one invocable tool in the merged catalog.
type Descriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
	Provider    string
}

// providerConn is the connection surface the registry needs from a
// provider. stdioConn implements it; tests substitute fakes.
type providerConn interface {
	call(ctx context.Context, method string, params, out any) error
	close() error
}

type provider struct {
	name string
	conn providerConn
}

// Registry owns the provider processes and the merged, immutable-per-
// session tool catalog.
type Registry struct {
	// launch is swappable for tests.
	launch func(cfg ProviderConfig, sampler Sampler) (providerConn, error)

	mu        sync.Mutex
	providers []*provider
	byTool    map[string]*provider
	catalog   []Descriptor
	disposed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		launch: func(cfg ProviderConfig, sampler Sampler) (providerConn, error) {
			return dialStdio(cfg, sampler)
		},
		byTool: make(map[string]*provider),
	}
}

// Initialize launches every configured provider, performs the
// capability handshake (registering the sampler for provider-initiated
// completions), and merges the tool catalogs. An empty config is a
// valid no-op. A provider that fails to launch or handshake is logged
// and skipped; the remaining providers stay usable.
func (r *Registry) Initialize(ctx context.Context, configs []ProviderConfig, sampler Sampler) error {
	if len(configs) == 0 {
		return nil
	}

	type connected struct {
		prov  *provider
		tools []toolInfo
	}
	results := make([]*connected, len(configs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(launchConcurrency)
	for i, cfg := range configs {
		g.Go(func() error {
			conn, err := r.launch(cfg, sampler)
			if err != nil {
				log.Printf("tool provider %s: launch failed, skipping: %v", cfg.Name, err)
				return nil
			}

			var initRes initializeResult
			initParams := initializeParams{
				ClientName:   "chatloop",
				Version:      "1.0",
				Capabilities: map[string]bool{"sampling": true},
			}
			if err := conn.call(gctx, methodInitialize, initParams, &initRes); err != nil {
				log.Printf("tool provider %s: handshake failed, skipping: %v", cfg.Name, err)
				_ = conn.close()
				return nil
			}

			var listRes listToolsResult
			if err := conn.call(gctx, methodListTools, nil, &listRes); err != nil {
				log.Printf("tool provider %s: tools/list failed, skipping: %v", cfg.Name, err)
				_ = conn.close()
				return nil
			}

			results[i] = &connected{
				prov:  &provider{name: cfg.Name, conn: conn},
				tools: listRes.Tools,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("initialize providers: %w", err)
	}

	// Merge in config order so the first-registered-wins policy is
	// deterministic regardless of launch timing.
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range results {
		if res == nil {
			continue
		}
		r.providers = append(r.providers, res.prov)
		for _, tool := range res.tools {
			if existing, ok := r.byTool[tool.Name]; ok {
				log.Printf("tool %s from provider %s dropped: already registered by %s",
					tool.Name, res.prov.name, existing.name)
				continue
			}
			r.byTool[tool.Name] = res.prov
			r.catalog = append(r.catalog, Descriptor{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
				Provider:    res.prov.name,
			})
		}
	}

	return nil
}

// Tools returns a snapshot of the merged catalog. The catalog does not
// change after Initialize for the remainder of the session.
func (r *Registry) Tools() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Descriptor, len(r.catalog))
	copy(out, r.catalog)
	return out
}

// Invoke routes a tool call to its owning provider and returns the
// textual result.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return "", fmt.Errorf("invoke %s: registry disposed", name)
	}
	prov, ok := r.byTool[name]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("tool not found: %s", name)
	}

	var result callToolResult
	params := callToolParams{Name: name, Arguments: args}
	if err := prov.conn.call(ctx, methodCallTool, params, &result); err != nil {
		return "", fmt.Errorf("call tool %s: %w", name, err)
	}
	if result.IsError {
		return "", fmt.Errorf("tool %s failed: %s", name, result.Content)
	}
	return result.Content, nil
}

// Dispose terminates every provider connection. Idempotent, and safe
// on a partially-initialized registry.
func (r *Registry) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed {
		return
	}
	r.disposed = true

	for _, prov := range r.providers {
		if err := prov.conn.close(); err != nil {
			log.Printf("tool provider %s: close: %v", prov.name, err)
		}
	}
	r.providers = nil
	r.byTool = make(map[string]*provider)
	r.catalog = nil
}
