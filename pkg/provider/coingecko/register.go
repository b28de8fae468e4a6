package coingecko

import (
	"net/http"

	"marketpipe/pkg/provider"
)

func init() {
	provider.Register("coingecko", build)
}

func build(_ string, cfg *provider.ProviderConfig) (provider.Client, error) {
	opts := []Option{}
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, WithAPIKey(cfg.APIKey))
	}
	if cfg.VsCurrency != "" {
		opts = append(opts, WithVsCurrency(cfg.VsCurrency))
	}
	if cfg.MinInterval > 0 {
		opts = append(opts, WithMinInterval(cfg.MinInterval))
	}
	if cfg.HTTPTimeout > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
	}
	return NewClient(opts...), nil
}
