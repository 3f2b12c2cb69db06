package inference

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/solverhub/solver-node/internal/config"
)

// Engine represents a configured generation engine
type Engine struct {
	Name    string
	Type    string
	URL     string
	Models  []string
	Default string
	Client  Client
}

// Router manages generation engines and applies request defaults
type Router struct {
	engines       map[string]*Engine
	defaultEngine string
	maxTokens     int
	temperature   float64
	mu            sync.RWMutex
}

// NewRouter creates a new generation router from config
func NewRouter(cfg *config.InferenceConfig) (*Router, error) {
	r := &Router{
		engines:       make(map[string]*Engine),
		defaultEngine: cfg.DefaultEngine,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
	}

	for _, ec := range cfg.Engines {
		models := ec.Models
		if len(models) == 0 {
			models = []string{"default"}
		}
		defaultModel := models[0]

		client, err := createClient(&ec, defaultModel, cfg.GetTimeout())
		if err != nil {
			return nil, fmt.Errorf("failed to create client for engine %s: %w", ec.Name, err)
		}

		r.engines[ec.Name] = &Engine{
			Name:    ec.Name,
			Type:    ec.Type,
			URL:     ec.URL,
			Models:  models,
			Default: defaultModel,
			Client:  client,
		}
	}

	if len(r.engines) == 0 {
		return nil, fmt.Errorf("no inference engines configured")
	}

	if r.defaultEngine != "" {
		if _, ok := r.engines[r.defaultEngine]; !ok {
			return nil, fmt.Errorf("default engine %s not found", r.defaultEngine)
		}
	} else {
		names := make([]string, 0, len(r.engines))
		for name := range r.engines {
			names = append(names, name)
		}
		sort.Strings(names)
		r.defaultEngine = names[0]
	}

	return r, nil
}

func createClient(ec *config.EngineConfig, defaultModel string, timeout time.Duration) (Client, error) {
	switch ec.Type {
	case "ollama":
		return NewOllamaClient(&OllamaConfig{URL: ec.URL, DefaultModel: defaultModel, Timeout: timeout})
	case "openai-compatible", "openai", "vllm", "openrouter":
		return NewOpenAIClient(&OpenAIConfig{BaseURL: ec.URL, APIKey: ec.APIKey, Model: defaultModel, Timeout: timeout})
	default:
		return nil, fmt.Errorf("unsupported inference type: %s", ec.Type)
	}
}

// Generate routes the request to the named engine, or the default
// engine when the name is empty. Temperature and max tokens fall back
// to the configured defaults when unset.
func (r *Router) Generate(ctx context.Context, engine string, req *Request) (*Response, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if engine == "" {
		engine = r.defaultEngine
	}
	target, ok := r.engines[engine]
	if !ok {
		return nil, fmt.Errorf("engine %s not found", engine)
	}

	if req.Model != "" {
		found := false
		for _, m := range target.Models {
			if m == req.Model {
				found = true
				break
			}
		}
		if !found {
			req.Model = target.Default
		}
	}
	if req.Temperature == 0 {
		req.Temperature = r.temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = r.maxTokens
	}

	res, err := target.Client.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("engine %s: %w", engine, err)
	}
	res.Engine = engine
	return res, nil
}

// Health checks all engines
func (r *Router) Health(ctx context.Context) map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make(map[string]error)
	for name, eng := range r.engines {
		results[name] = eng.Client.Health(ctx)
	}
	return results
}

// ListEngines returns the configured engines
func (r *Router) ListEngines() []Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Engine, 0, len(r.engines))
	for _, e := range r.engines {
		list = append(list, *e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// ListModels returns a flat sorted list of all models
func (r *Router) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modelSet := make(map[string]bool)
	for _, e := range r.engines {
		for _, m := range e.Models {
			modelSet[m] = true
		}
	}
	models := make([]string, 0, len(modelSet))
	for m := range modelSet {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}
