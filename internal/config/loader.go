package config

import (
	"errors"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering, low to high precedence:
//  1. defaults (New)
//  2. YAML file named by ARENA_CONFIG, if set
//  3. environment variables with prefix ARENA_
//
// Env keys map to lowercase dotted paths: ARENA_TRUST__ACCEPT_SCORE ->
// trust.accept_score (double underscore separates nesting levels so that
// single underscores inside key names survive).
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("ARENA_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	envProvider := env.Provider("ARENA_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "ARENA_"))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if cfg.Addr == "" {
		return nil, errors.New("addr must not be empty")
	}
	if cfg.Handicap.Min <= 0 || cfg.Handicap.Max < cfg.Handicap.Min {
		return nil, errors.New("handicap clamp bounds must satisfy 0 < min <= max")
	}
	if cfg.Trust.RejectScore > cfg.Trust.AcceptScore {
		return nil, errors.New("trust reject_score must not exceed accept_score")
	}
	return &cfg, nil
}
