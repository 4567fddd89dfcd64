package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "embed"
	_ "github.com/mattn/go-sqlite3"

	"github.com/quayside/groupage/pkg/importer/support/util/logger"
)

// propertyFlags collects repeatable -set key=value overrides.
type propertyFlags map[string]string

func (p propertyFlags) String() string {
	parts := make([]string, 0, len(p))
	for k, v := range p {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (p propertyFlags) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got '%s'", value)
	}
	p[key] = val
	return nil
}

// embeddedConfig embeds the content of the application's YAML configuration file.
// This file is used to load configuration at application startup.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// main is the entry point of the application.
// It parses flags, installs signal handling for cooperative cancellation and
// runs the Fx container.
func main() {
	inputPath := flag.String("input", "", "path to the CSV input file (required)")
	envFilePath := flag.String("env", "", "path to an optional .env file")
	overrides := make(propertyFlags)
	flag.Var(overrides, "set", "override an import setting, e.g. -set entity_kind=sku (repeatable)")
	flag.Parse()

	if *inputPath == "" {
		logger.Fatalf("Missing required -input flag.")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handling for graceful shutdown (e.g., Ctrl+C). Cancellation is
	// observed by the scheduler at the next wave boundary; in-flight groups
	// are allowed to finish.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Requesting cancellation at the next wave boundary...", sig)
		cancel()
	}()

	envPath := *envFilePath
	if envPath == "" {
		envPath = os.Getenv("ENV_FILE_PATH")
	}

	RunApplication(ctx, envPath, embeddedConfig, *inputPath, overrides)
}
