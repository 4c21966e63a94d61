// Command jlscopy implements spec.md §6's copy utility: replay one
// JLS file's sources, signals, samples, annotations, UTC entries, and
// user data into a fresh file in chunk order, preserving every
// signal's exact structural parameters.
package main

import (
	"fmt"
	"os"

	"github.com/knadh/koanf"

	"github.com/jls-format/jls-go/internal/config"
	"github.com/jls-format/jls-go/pkg/jls"
)

// rawBatchSize bounds how many raw samples copySamples reads and
// re-writes per round trip, so copying a very long signal doesn't
// pull its whole run into memory at once.
const rawBatchSize = 1 << 16

func loadConfig() (ko *koanf.Koanf, src, dst string, err error) {
	fs, cfgPath := config.NewFlagSet("jlscopy", "config.sample.toml")
	srcFlag := fs.String("src", "", "Path to the source .jls file to copy from.")
	dstFlag := fs.String("dst", "", "Path to the destination .jls file to create.")
	ko, err = config.Load(fs, cfgPath)
	if err != nil {
		return nil, "", "", err
	}
	src = *srcFlag
	if src == "" {
		src = ko.String("src")
	}
	dst = *dstFlag
	if dst == "" {
		dst = ko.String("dst")
	}
	return ko, src, dst, nil
}

func main() {
	ko, src, dst, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "jlscopy:", err)
		os.Exit(1)
	}
	if src == "" || dst == "" {
		fmt.Fprintln(os.Stderr, "jlscopy: both --src and --dst are required")
		os.Exit(1)
	}
	lo := jls.NewLogfLogger(ko.Bool("app.debug"))

	if err := run(src, dst, lo, func(done float64) {
		lo.Info("copy progress", "fraction", done)
	}); err != nil {
		lo.Error("copy failed", "error", err)
		os.Exit(1)
	}
}

// run implements spec.md §4.M's copy operation end to end, reporting
// progress in [0,1] once per signal fully copied.
func run(src, dst string, lo jls.Logger, progress func(float64)) error {
	r, err := jls.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer r.Close()

	w, err := jls.Create(dst, jls.Opts{Logger: lo})
	if err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}

	if err := copyFile(r, w, progress); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
