// Package registry implements the Agent Registry (C9): it turns declarative
// configuration into validated, cached adapters, and fronts non-streaming
// calls with the Response Cache (C10) when an agent opts in.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"

	"github.com/coreforge/agentd/internal/adapter"
	"github.com/coreforge/agentd/internal/agenterr"
	"github.com/coreforge/agentd/internal/cache"
	"github.com/coreforge/agentd/internal/config"
	"github.com/coreforge/agentd/internal/mcp"
	"github.com/coreforge/agentd/internal/providers"
	"github.com/coreforge/agentd/pkg/models"
)

// entry pairs a built adapter with the agent definition it was built from,
// so rebuild() can decide whether an unchanged definition can keep its
// adapter (and its underlying tool sessions) instead of rebuilding it.
type entry struct {
	def     models.AgentDefinition
	adapter adapter.Adapter
}

// Registry holds every configured agent's adapter, instantiated once at
// load and swapped atomically on Rebuild.
type Registry struct {
	logger *slog.Logger
	cache  *cache.ResponseCache

	mu      sync.RWMutex
	agents  map[string]entry
	router  *mcp.Router
}

// Build validates cfg and instantiates an adapter for every agent,
// returning an error for the first agent that fails validation or
// provider construction.
func Build(cfg *config.Config, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "registry")

	if err := cfg.Validate(); err != nil {
		return nil, agenterr.Wrap(agenterr.ConfigInvalid, "registry build", err)
	}

	router := mcp.NewRouter(cfg.ToolServers, logger)

	var respCache *cache.ResponseCache
	if cfg.Cache.Enabled {
		respCache = cache.NewResponseCache(cfg.Cache.TTL)
	}

	r := &Registry{
		logger: logger,
		cache:  respCache,
		agents: make(map[string]entry),
		router: router,
	}

	modelsByName := make(map[string]models.ModelDefinition, len(cfg.Models))
	for _, m := range cfg.Models {
		modelsByName[m.Name] = m
	}

	for _, agentDef := range cfg.Agents {
		model, ok := modelsByName[agentDef.ModelName]
		if !ok {
			return nil, agenterr.New(agenterr.ConfigInvalid, fmt.Sprintf("agent %q: unknown model %q", agentDef.Name, agentDef.ModelName))
		}
		if err := router.ValidateCompatibility(agentDef, model); err != nil {
			return nil, err
		}
		built, err := buildAdapter(agentDef, model, router)
		if err != nil {
			return nil, err
		}
		r.agents[agentDef.Name] = entry{def: agentDef, adapter: built}
	}

	return r, nil
}

// buildAdapter instantiates the right Adapter/Provider pair for one agent,
// based on its AdapterKind and the model's declared provider.
func buildAdapter(agentDef models.AgentDefinition, model models.ModelDefinition, router *mcp.Router) (adapter.Adapter, error) {
	apiKey := os.Getenv(model.APIKeyEnv)

	switch agentDef.Adapter {
	case models.AdapterNative:
		if model.Provider != "anthropic" {
			return nil, agenterr.New(agenterr.ConfigInvalid, fmt.Sprintf(
				"agent %q: native adapter requires an anthropic model, got provider %q", agentDef.Name, model.Provider))
		}
		provider := providers.NewAnthropicNativeProvider(apiKey, model.ModelID)
		return adapter.NewNativeAdapter(agentDef, model, provider, router), nil

	case models.AdapterWrapper:
		var provider providers.Provider
		switch model.Provider {
		case "openai", "":
			provider = providers.NewOpenAIProvider(model.Name, apiKey, model.BaseURL)
		default:
			return nil, agenterr.New(agenterr.ConfigInvalid, fmt.Sprintf(
				"agent %q: unsupported wrapper provider %q", agentDef.Name, model.Provider))
		}
		return adapter.NewWrapperAdapter(agentDef, model, provider, router), nil

	default:
		return nil, agenterr.New(agenterr.ConfigInvalid, fmt.Sprintf("agent %q: unknown adapter kind %q", agentDef.Name, agentDef.Adapter))
	}
}

// Lookup returns the adapter registered under name.
func (r *Registry) Lookup(name string) (adapter.Adapter, models.AgentDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[name]
	return e.adapter, e.def, ok
}

// Names returns every registered agent name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	return names
}

// Run executes agentName's adapter against prompt. Non-streaming calls for
// an agent with CacheResponses set are served through the Response Cache,
// keyed by agent name, prompt, and sessionID (sessionID stands in for the
// "args" component of the cache key documented for this path, since a
// plain prompt call carries no other arguments).
func (r *Registry) Run(ctx context.Context, agentName, prompt, sessionID string) (*adapter.FinalResponse, error) {
	a, def, ok := r.Lookup(agentName)
	if !ok {
		return nil, agenterr.New(agenterr.ToolNotFound, fmt.Sprintf("unknown agent %q", agentName))
	}

	if !def.CacheResponses || r.cache == nil {
		return a.Run(ctx, prompt, sessionID)
	}

	key := cache.Key(agentName, prompt, map[string]string{"session": sessionID})
	raw, err := r.cache.Get(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
		resp, err := a.Run(ctx, prompt, sessionID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
	if err != nil {
		return nil, err
	}
	var resp adapter.FinalResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, agenterr.Wrap(agenterr.StoreError, "decode cached response", err)
	}
	return &resp, nil
}

// RunStream executes agentName's adapter in streaming mode. Streams always
// bypass the Response Cache (spec §4.10).
func (r *Registry) RunStream(ctx context.Context, agentName, prompt, sessionID string) (<-chan models.ReasoningStep, error) {
	a, _, ok := r.Lookup(agentName)
	if !ok {
		return nil, agenterr.New(agenterr.ToolNotFound, fmt.Sprintf("unknown agent %q", agentName))
	}
	return a.RunStream(ctx, prompt, sessionID)
}

// Router exposes the shared MCP Router so the Session Hub's SSE tool-call
// stream (§6) can invoke a tool directly, without going through an agent.
func (r *Registry) Router() *mcp.Router {
	return r.router
}

// CacheStats reports the Response Cache's cumulative hit/miss counters.
// Returns the zero value if caching is disabled.
func (r *Registry) CacheStats() cache.Stats {
	if r.cache == nil {
		return cache.Stats{}
	}
	return r.cache.Stats()
}

// Rebuild replaces the registry's agents with those in cfg. An agent whose
// definition is unchanged from the current one keeps its existing adapter
// (and the tool sessions it has already opened) instead of being rebuilt;
// router is shared across generations so tool sessions are never torn down
// unnecessarily.
func (r *Registry) Rebuild(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return agenterr.Wrap(agenterr.ConfigInvalid, "registry rebuild", err)
	}

	modelsByName := make(map[string]models.ModelDefinition, len(cfg.Models))
	for _, m := range cfg.Models {
		modelsByName[m.Name] = m
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]entry, len(cfg.Agents))
	for _, agentDef := range cfg.Agents {
		model, ok := modelsByName[agentDef.ModelName]
		if !ok {
			return agenterr.New(agenterr.ConfigInvalid, fmt.Sprintf("agent %q: unknown model %q", agentDef.Name, agentDef.ModelName))
		}
		if err := r.router.ValidateCompatibility(agentDef, model); err != nil {
			return err
		}

		if existing, ok := r.agents[agentDef.Name]; ok && reflect.DeepEqual(existing.def, agentDef) {
			next[agentDef.Name] = existing
			continue
		}

		built, err := buildAdapter(agentDef, model, r.router)
		if err != nil {
			return err
		}
		next[agentDef.Name] = entry{def: agentDef, adapter: built}
	}

	r.agents = next
	r.logger.Info("registry rebuilt", "agent_count", len(next))
	return nil
}

// Close releases the router's tool sessions.
func (r *Registry) Close() error {
	return r.router.Close()
}
