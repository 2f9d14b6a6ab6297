package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Venue
	out.Venue = cfg.Venue
	redact(&out.Venue.ApiSecret)
	redact(&out.Venue.SecretPassword)

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	out.Server = cfg.Server
	redact(&out.Server.APIKey)

	// Notify: webhook URLs and bot tokens grant posting access.
	out.Notify = cfg.Notify
	redact(&out.Notify.DiscordWebhook)
	redact(&out.Notify.TelegramToken)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Engine.Symbols != nil {
		out.Engine.Symbols = make([]string, len(cfg.Engine.Symbols))
		copy(out.Engine.Symbols, cfg.Engine.Symbols)
	}
	if cfg.Risk.Priorities != nil {
		out.Risk.Priorities = make([]string, len(cfg.Risk.Priorities))
		copy(out.Risk.Priorities, cfg.Risk.Priorities)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}

	// Copy maps so mutations to the redacted copy do not affect the original.
	if cfg.Risk.Allocations != nil {
		out.Risk.Allocations = make(map[string]float64, len(cfg.Risk.Allocations))
		for k, v := range cfg.Risk.Allocations {
			out.Risk.Allocations[k] = v
		}
	}
	if cfg.Venue.Sim.StartPrices != nil {
		out.Venue.Sim.StartPrices = make(map[string]float64, len(cfg.Venue.Sim.StartPrices))
		for k, v := range cfg.Venue.Sim.StartPrices {
			out.Venue.Sim.StartPrices[k] = v
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
