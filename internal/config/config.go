// Package config loads storyweaver settings from the environment.
package config

import (
	"time"

	"github.com/myrjola/storyweaver/internal/envstruct"
	"github.com/myrjola/storyweaver/internal/errors"
)

// Generation configures the generative-language backend.
type Generation struct {
	// Backend is either "gemini" for the native generateContent API or "openai" for any
	// OpenAI-compatible chat completions endpoint.
	Backend string `env:"STORYWEAVER_BACKEND" envDefault:"gemini"`
	// APIKey is the static credential. It has no default on purpose.
	APIKey  string        `env:"STORYWEAVER_API_KEY"`
	Model   string        `env:"STORYWEAVER_MODEL" envDefault:"gemini-2.0-flash"`
	BaseURL string        `env:"STORYWEAVER_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta"`
	Timeout time.Duration `env:"STORYWEAVER_GENERATION_TIMEOUT" envDefault:"60s"`
}

// Server configures the web frontend.
type Server struct {
	Addr string `env:"STORYWEAVER_ADDR" envDefault:"localhost:4000"`
	// SecureCookies sets the Secure attribute on the session and CSRF cookies. Browsers drop Secure cookies sent
	// over plain HTTP except on localhost, so disable it when serving plain HTTP on another host.
	SecureCookies bool `env:"STORYWEAVER_SECURE_COOKIES" envDefault:"true"`
	// PprofAddr enables a loopback pprof listener when non-empty, e.g. "localhost:6060".
	PprofAddr string `env:"STORYWEAVER_PPROF_ADDR" envDefault:""`
}

type Config struct {
	Server     Server
	Generation Generation
}

// Load reads the configuration with lookupEnv, which has the same signature as [os.LookupEnv].
func Load(lookupEnv func(string) (string, bool)) (Config, error) {
	var cfg Config
	if err := envstruct.Populate(&cfg.Server, lookupEnv); err != nil {
		return Config{}, errors.Wrap(err, "populate server config")
	}
	if err := envstruct.Populate(&cfg.Generation, lookupEnv); err != nil {
		return Config{}, errors.Wrap(err, "populate generation config")
	}
	return cfg, nil
}
