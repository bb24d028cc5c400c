// Command vase-distill turns an observation log into a limited-value map
// through distill.Distill. It takes log path, output path, max-values,
// and min-occurrence as named inputs and exits 0 on success (including
// producing an empty map), non-zero on a flag, config or I/O error.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/roxaw/EVP-KLEE/config"
	"github.com/roxaw/EVP-KLEE/distill"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "vase-distill:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("vase-distill", flag.ContinueOnError)
	logPath := fs.String("log", "vase_value_log.txt", "observation log path")
	outPath := fs.String("out", "vase_map.json", "limited-value map output path")
	configPath := fs.String("config", "", "optional vase.yaml config file supplying distill parameters")
	maxValues := fs.Int("max-values", distill.DefaultMaxValues, "maximum retained values per (site, variable)")
	minOccurrence := fs.Int("min-occurrence", distill.DefaultMinOccurrence, "minimum occurrence count for a value to survive")
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := distill.Options{MinOccurrence: *minOccurrence, MaxValues: *maxValues}
	if *configPath != "" {
		cfgFile, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		opts = cfgFile.DistillOptions()
	}

	f, err := os.Open(*logPath)
	if os.IsNotExist(err) {
		return writeMap(*outPath, distill.Map{})
	} else if err != nil {
		return fmt.Errorf("open %s: %w", *logPath, err)
	}
	defer f.Close()

	m, err := distill.Distill(f, opts)
	if err != nil {
		return fmt.Errorf("distill %s: %w", *logPath, err)
	}
	return writeMap(*outPath, m)
}

func writeMap(path string, m distill.Map) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer out.Close()
	if err := distill.Encode(out, m); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}
