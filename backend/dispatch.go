package backend

import (
	"github.com/maxpert/tenantdb/cfg"
	"github.com/maxpert/tenantdb/dialect"
	"github.com/maxpert/tenantdb/pool"
	"github.com/rs/zerolog/log"
)

// Deps are the local resources the SQL backend runs on
type Deps struct {
	Pool       *pool.Manager
	Translator *dialect.Translator
}

// Select picks the backend once at startup. The remote backend is used only
// when it is enabled and both endpoint and credential are configured.
func Select(c *cfg.Configuration, deps Deps) (Backend, error) {
	if c.UseRemoteBackend() {
		codec, err := CodecByName(c.Remote.Codec)
		if err != nil {
			return nil, err
		}
		log.Info().Str("endpoint", c.Remote.URL).Str("codec", c.Remote.Codec).Msg("Using remote data backend")
		return NewRemoteBackend(c.Remote.URL, c.Remote.Key, codec, cfg.Millis(c.Remote.TimeoutMS)), nil
	}

	if c.Remote.Enabled {
		log.Warn().Msg("Remote backend enabled but endpoint or key missing, falling back to SQL backend")
	}
	log.Info().Bool("strict_params", c.Dialect.StrictParams).Msg("Using SQL data backend")
	return NewSQLBackend(deps.Pool, deps.Translator, c.Dialect.StrictParams), nil
}
