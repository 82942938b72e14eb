package config

import "github.com/shopspring/decimal"

// RedactedConfig returns a copy of cfg with secrets replaced by "***", for
// logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Chain.RPCURL)
	redact(&out.Redis.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)

	// Slices and maps are copied so the redacted value shares no state with
	// the original.
	out.Symbols = append([]string(nil), cfg.Symbols...)
	out.Chain.Tokens = append([]TokenConfig(nil), cfg.Chain.Tokens...)
	out.Venues = make([]VenueConfig, len(cfg.Venues))
	for i, v := range cfg.Venues {
		v.Pools = append([]PoolConfig(nil), v.Pools...)
		if v.Instruments != nil {
			inst := make(map[string]string, len(v.Instruments))
			for k, name := range v.Instruments {
				inst[k] = name
			}
			v.Instruments = inst
		}
		out.Venues[i] = v
	}
	if cfg.Cost.VenueFeeBps != nil {
		out.Cost.VenueFeeBps = make(map[string]decimal.Decimal, len(cfg.Cost.VenueFeeBps))
		for k, v := range cfg.Cost.VenueFeeBps {
			out.Cost.VenueFeeBps[k] = v
		}
	}
	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
