package provider

import (
	"sort"

	"DramaForge/server/internal/apperr"
	"DramaForge/server/internal/config"
)

// Registry maps public model ids to configured providers. Legacy short
// aliases from early clients resolve to the same providers.
type Registry struct {
	providers map[string]ExtractionProvider
	aliases   map[string]string
}

// NewRegistry wires the supported models from vendor config.
func NewRegistry(cfg config.AIConfig) *Registry {
	r := &Registry{
		providers: map[string]ExtractionProvider{
			"claude-sonnet-4-5": NewClaudeClient("claude-sonnet-4-5", "claude-sonnet-4-5-20250929", cfg.Anthropic, cfg),
			"deepseek-chat":     NewChatClient("deepseek-chat", "deepseek-chat", cfg.DeepSeek, cfg),
			"gpt-4":             NewChatClient("gpt-4", "gpt-4", cfg.OpenAI, cfg),
			"glm-4-plus":        NewChatClient("glm-4-plus", "glm-4-plus", cfg.GLM, cfg),
		},
		aliases: map[string]string{
			"claude":   "claude-sonnet-4-5",
			"deepseek": "deepseek-chat",
			"gpt4":     "gpt-4",
			"glm":      "glm-4-plus",
		},
	}
	return r
}

// Resolve returns the provider for a model id or alias.
func (r *Registry) Resolve(model string) (ExtractionProvider, error) {
	if canonical, ok := r.aliases[model]; ok {
		model = canonical
	}
	p, ok := r.providers[model]
	if !ok {
		return nil, apperr.Validationf("unsupported model %q", model)
	}
	return p, nil
}

// Models lists the canonical model ids, sorted.
func (r *Registry) Models() []string {
	out := make([]string, 0, len(r.providers))
	for id := range r.providers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Register adds or replaces a provider under its own name. Tests use this
// to install fakes.
func (r *Registry) Register(p ExtractionProvider) {
	r.providers[p.Name()] = p
}
