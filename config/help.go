package config

import (
	"flag"
	"fmt"
)

const HelpMessage = `
ride-hail-driver — driver-side dispatch client

Usage:
  driver [-config-path config.yaml]

Configuration is read from the YAML file, overridable by environment
variables (DISPATCH_ENDPOINT, API_BASE_URL, STORAGE_PATH, DEBUG_ADDR,
LOG_LEVEL, LOCATIONIQ_API_KEY, ...).
`

func PrintHelp() {
	if HelpMessage != "" {
		fmt.Printf("%s", HelpMessage)
	} else {
		flag.Usage()
	}
}

// PrintConfig prints the effective configuration on startup.
func PrintConfig(cfg *Config) {
	fmt.Printf("dispatch endpoint:  %s\n", cfg.Dispatch.Endpoint)
	fmt.Printf("api base url:       %s\n", cfg.API.BaseURL)
	fmt.Printf("storage path:       %s\n", cfg.Storage.Path)
	fmt.Printf("debug listener:     %s\n", cfg.Debug.Addr)
	fmt.Printf("log level:          %s\n", cfg.LogLevel)
}
