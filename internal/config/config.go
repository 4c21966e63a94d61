// Package config loads CLI configuration the way the teacher's
// cmd/server/init.go does: pflag for flags, koanf layered with a TOML
// file provider and a prefixed environment provider, shared by
// cmd/jlscopy and cmd/jlsd so neither reinvents flag/file/env layering.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	flag "github.com/spf13/pflag"
)

// EnvPrefix is the environment-variable prefix every jls-go command
// loads overrides from (spec.md §4.L: "JLS_-prefixed environment
// provider"). A double underscore in a JLS_ variable name maps to a
// "." nesting separator in the config tree, e.g. JLS_SERVER__ADDR
// becomes server.addr.
const EnvPrefix = "JLS_"

// NewFlagSet returns a pflag.FlagSet pre-wired with --config, ready
// for a command to register its own flags onto before calling Load.
func NewFlagSet(progName, defaultConfigPath string) (*flag.FlagSet, *string) {
	f := flag.NewFlagSet(progName, flag.ContinueOnError)
	f.Usage = func() {
		fmt.Fprintln(os.Stderr, f.FlagUsages())
		os.Exit(0)
	}
	cfgPath := f.String("config", defaultConfigPath, "Path to a config file to load.")
	return f, cfgPath
}

// Load parses os.Args[1:] against fs (which must already have its
// flags registered, including the *cfgPath returned by NewFlagSet)
// and layers a TOML file and the JLS_ environment namespace on top,
// in that order, mirroring the teacher's initConfig.
func Load(fs *flag.FlagSet, cfgPath *string) (*koanf.Koanf, error) {
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	ko := koanf.New(".")
	if err := ko.Load(file.Provider(*cfgPath), toml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file %q: %w", *cfgPath, err)
	}
	if err := ko.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}
	return ko, nil
}
