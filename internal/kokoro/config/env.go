package config

import (
	"github.com/bdobrica/kokoro/common/environment"
)

// Environment variables read by ApplyEnvOverrides. KOKORO_PROVIDER is read
// by the router at selection time instead.
const (
	EnvDBPath    = "KOKORO_DB_PATH"
	EnvLogLevel  = "KOKORO_LOG_LEVEL"
	EnvLogFormat = "KOKORO_LOG_FORMAT"
	EnvFallback  = "KOKORO_FORCE_JSON"

	EnvProviderTimeout = "KOKORO_PROVIDER_TIMEOUT"
	EnvTemperature     = "KOKORO_TEMPERATURE"
	EnvDailyCap        = "KOKORO_DAILY_CAP"
)

// ApplyEnvOverrides replaces file values with environment values where set.
func (c *Config) ApplyEnvOverrides() {
	c.Memory.Path = environment.StringOr(EnvDBPath, c.Memory.Path)
	c.Memory.ForceFallback = environment.BoolOr(EnvFallback, c.Memory.ForceFallback)
	c.Log.Level = environment.StringOr(EnvLogLevel, c.Log.Level)
	c.Log.Format = environment.StringOr(EnvLogFormat, c.Log.Format)
	c.Providers.Timeout = environment.DurationOr(EnvProviderTimeout, c.Providers.Timeout)
	c.Chat.Temperature = environment.FloatOr(EnvTemperature, c.Chat.Temperature)
	c.Behavior.Policy.DailyCap = environment.IntOr(EnvDailyCap, c.Behavior.Policy.DailyCap)
}
