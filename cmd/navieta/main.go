// Command navieta polls travel times for configured routes and serves them
// over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"navieta.dev/internal/appconf"
)

func main() {
	var (
		configPath string
		port       int
		env        string
		apiKeys    string
		dotEnv     string
	)
	flag.StringVar(&configPath, "f", "config.json", "path to the JSON config file")
	flag.IntVar(&port, "port", 0, "API server port (overrides the config file)")
	flag.StringVar(&env, "env", "", "development|test|production (overrides the config file)")
	flag.StringVar(&apiKeys, "api-keys", "", "comma separated API keys (overrides the config file)")
	flag.StringVar(&dotEnv, "dotenv", ".env", "env file loaded before the config file")
	flag.Parse()

	if err := appconf.LoadDotEnv(dotEnv); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	jsonConfig, err := appconf.LoadFromFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if port != 0 {
		jsonConfig.Port = port
	}
	if env != "" {
		jsonConfig.Env = env
	}
	if apiKeys != "" {
		jsonConfig.ApiKeys = ParseAPIKeys(apiKeys)
	}
	if err := jsonConfig.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	routes, err := jsonConfig.ToRouteConfigs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid routes: %v\n", err)
		os.Exit(1)
	}

	cfg := jsonConfig.ToAppConfig()
	coreApp, err := BuildApplication(cfg, jsonConfig.ToNaviConfig(), routes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start: %v\n", err)
		os.Exit(1)
	}

	srv, api := CreateServer(coreApp, cfg)
	if err := Run(context.Background(), srv, coreApp, api, configPath); err != nil {
		coreApp.Logger.Error("navieta exited with error", "error", err)
		os.Exit(1)
	}
}
