package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	flags := pflag.NewFlagSet("harmonic", pflag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: harmonic [flags] [pipe-path]\n\n")
		flags.PrintDefaults()
	}
	configPath := flags.StringP("config", "c", "", "config file (default is $HOME/.config/harmonic/config.yml)")
	showVersion := flags.BoolP("version", "v", false, "print version information")
	printConfig := flags.Bool("print-config", false, "print the effective configuration as YAML and exit")
	_ = flags.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("Harmonic - Graph Ingestion Service\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(*configPath, flags.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(2)
	}

	if *printConfig {
		out, err := yaml.Marshal(cfg.redacted())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding config: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
