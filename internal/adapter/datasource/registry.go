package datasource

import (
	"github.com/fairyhunter13/bookcard-runtime/internal/config"
	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
	"github.com/fairyhunter13/bookcard-runtime/internal/service/ratelimiter"
)

// HardcoverSourceName is the registry key for the Hardcover HTTP backend
// (§6 HARDCOVER_API_TOKEN).
const HardcoverSourceName = "hardcover"

// LocalDumpSourceName is the registry key for the local OpenLibrary-dump
// backend (§4.3, §6 openlibrary_dump_ingest).
const LocalDumpSourceName = "local_dump"

// NewDefaultRegistry builds the domain.DataSourceRegistry wired with the
// production backends named in §4.3/§6, resolved by name so that consumers
// never import a concrete backend directly (§9 "avoid global mutable
// state").
func NewDefaultRegistry(cfg config.Config, limiter ratelimiter.Limiter) *domain.DataSourceRegistry {
	registry := domain.NewDataSourceRegistry()

	registry.Register(HardcoverSourceName, func(kwargs map[string]any) (domain.DataSource, error) {
		baseURL, _ := kwargs["base_url"].(string)
		if baseURL == "" {
			baseURL = "https://api.hardcover.app"
		}
		return NewHTTPSource(HardcoverSourceName, baseURL, cfg.HardcoverAPIToken,
			cfg.DataSourceMinRequestInterval, cfg.DataSourceHTTPTimeout, limiter), nil
	})

	registry.Register(LocalDumpSourceName, func(kwargs map[string]any) (domain.DataSource, error) {
		authors, _ := kwargs["authors"].([]DumpAuthorRecord)
		books, _ := kwargs["books"].([]DumpBookRecord)
		threshold := DefaultTitleTrigramThreshold
		if v, ok := kwargs["title_threshold"].(float64); ok && v > 0 {
			threshold = v
		}
		return NewDumpSource(LocalDumpSourceName, authors, books, threshold), nil
	})

	return registry
}
