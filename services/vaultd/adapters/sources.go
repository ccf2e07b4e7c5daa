package adapters

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"cdpchain/services/vaultd/config"
	"cdpchain/services/vaultd/oracle"
)

// Registry constructs oracle sources based on configuration.
type Registry struct {
	HTTPClient *http.Client
	Now        func() time.Time
}

// NewRegistry builds a registry with sane defaults.
func NewRegistry() *Registry {
	return &Registry{HTTPClient: &http.Client{Timeout: 10 * time.Second}, Now: time.Now}
}

// Build creates a source from the supplied configuration.
func (r *Registry) Build(src config.Source) (oracle.Source, error) {
	switch strings.ToLower(strings.TrimSpace(src.Type)) {
	case "coingecko":
		return NewCoinGecko(r.client(), label(src.Name, "coingecko"), src.Endpoint, src.Assets), nil
	case "static":
		return NewStatic(label(src.Name, "static"), src.Price, r.clock())
	default:
		return nil, fmt.Errorf("unknown oracle type %q", src.Type)
	}
}

// BuildAll builds every configured source in order.
func (r *Registry) BuildAll(sources []config.Source) ([]oracle.Source, error) {
	out := make([]oracle.Source, 0, len(sources))
	for _, src := range sources {
		built, err := r.Build(src)
		if err != nil {
			return nil, fmt.Errorf("build source %s: %w", src.Name, err)
		}
		out = append(out, built)
	}
	return out, nil
}

func (r *Registry) client() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (r *Registry) clock() func() time.Time {
	if r.Now != nil {
		return r.Now
	}
	return time.Now
}

func label(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed != "" {
		return trimmed
	}
	return fallback
}
