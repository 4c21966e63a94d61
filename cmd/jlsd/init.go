package main

import (
	"github.com/knadh/koanf"

	"github.com/jls-format/jls-go/internal/config"
	"github.com/jls-format/jls-go/pkg/jls"
)

// initLogger mirrors the teacher's cmd/server/init.go: caller info on,
// debug level gated behind a single config key.
func initLogger(ko *koanf.Koanf) jls.Logger {
	return jls.NewLogfLogger(ko.Bool("app.debug"))
}

// loadConfig layers cmd/jlsd's config.sample.toml default with any
// --config override and the JLS_ environment namespace, per
// spec.md's cmd/jlsd config-loading rule (SPEC_FULL.md §4.L).
func loadConfig() (*koanf.Koanf, error) {
	fs, cfgPath := config.NewFlagSet("jlsd", "config.sample.toml")
	return config.Load(fs, cfgPath)
}
