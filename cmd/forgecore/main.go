// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package main provides the command-line interface and the main entry point
// for the ForgeCore generation-evaluation-learning core.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zbeamlabs/forgecore"
	"github.com/zbeamlabs/forgecore/config"
	"github.com/zbeamlabs/forgecore/pkg/logging"
	"github.com/zbeamlabs/forgecore/version"
)

const (
	generateCommandName  = "generate"
	helpCommandName      = "help"
	versionCommandName   = "version"
	unsetFlagValue       = "\x00"
	exitCodeSuccess      = 0
	exitCodeConfigOrData = 1
	exitCodeSomeFailed   = 2
	loggerPrefix         = version.Name + ": "
	defaultConfigFile    = "config.yaml"
	defaultWorkerCount   = 4
)

var commandDoc = map[string]string{
	generateCommandName: "generate content for one item or a whole domain",
	helpCommandName:     "show help",
	versionCommandName:  "show version",
}

var (
	configFilePath = flag.String("config", defaultConfigFile, "configuration file path")
	domainFlag     = flag.String("domain", unsetFlagValue, "domain name (required)")
	itemFlag       = flag.String("item", unsetFlagValue, "single item id; blank processes every item in the domain")
	componentFlag  = flag.String("component", unsetFlagValue, "component name (required)")
	limitFlag      = flag.Int("limit", 0, "cap on the number of items processed; 0 means unlimited")
	noParallel     = flag.Bool("no-parallel", false, "process items sequentially instead of via the bounded worker pool")
	forceFlag      = flag.Bool("force", false, "ignored; overwrite is already mandatory")
	sessionIDFlag  = flag.String("session-id", "", "override the generated retry-session id")
	logFilePath    = flag.String("log", unsetFlagValue, "log file path; append if exists; blank = stdout")
	debugFlag      = flag.Bool("debug", false, "enable debug-level logging")
)

func init() {
	log.SetPrefix(loggerPrefix)
	log.SetFlags(0)
	flag.Usage = func() {
		w := flag.CommandLine.Output()
		fmt.Fprintf(w, "Usage: %s [options] [command]\n", os.Args[0])
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Commands:")
		printCommandHelp(w, generateCommandName, helpCommandName, versionCommandName)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Options:")
		flag.PrintDefaults()
	}
}

func printCommandHelp(out io.Writer, commands ...string) {
	for _, cmdName := range commands {
		fmt.Fprintf(out, "  %s\n        %s\n", cmdName, commandDoc[cmdName])
	}
}

func main() {
	if len(os.Args) > 1 {
		for _, arg := range os.Args[1:] {
			switch arg {
			case helpCommandName:
				printHelp(os.Stdout)
				return
			case versionCommandName:
				printVersion(os.Stdout)
				return
			case generateCommandName:
				os.Exit(runGenerate())
				return
			}
		}
	}
	printHelp(nil) // os.Stderr
	os.Exit(exitCodeConfigOrData)
}

func printHelp(out io.Writer) {
	flag.CommandLine.SetOutput(out)
	flag.Usage()
}

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "%s %s\n", version.Name, version.GetVersion())
}

// runGenerate wires a Core from configuration and drives it over either a
// single named item or every item in a domain, returning the process exit
// code the CLI surface promises: 0 if every item passed, 2 if the core
// completed but some items exhausted their attempts, 1 on any fatal
// configuration or data error encountered before or during wiring.
func runGenerate() int {
	flag.Parse()
	ctx := context.Background()

	if !config.IsNotBlank(*domainFlag) || !config.IsNotBlank(*componentFlag) {
		fmt.Fprintln(os.Stderr, "generate requires --domain and --component")
		return exitCodeConfigOrData
	}

	configPath := filepath.Clean(*configFilePath)
	configDir, err := configDirOf(configPath)
	if err != nil {
		log.Println(err)
		return exitCodeConfigOrData
	}
	fmt.Printf("Configuration directory: %s\n", configDir)

	fmt.Printf("Loading configuration from file: %s\n", configPath)
	cfg, err := config.LoadConfigFromFile(ctx, configPath)
	if err != nil {
		log.Println(err)
		return exitCodeConfigOrData
	}

	logWriter, err := openLogWriter()
	if err != nil {
		log.Println(err)
		return exitCodeConfigOrData
	}
	if logWriter != os.Stdout {
		fmt.Printf("Log messages will be saved to: %s\n", getFlagValueIfSet(logFilePath, ""))
		defer logWriter.(*os.File).Close() //nolint:errcheck
	}
	logger := newLogger(logWriter)

	core, err := forgecore.New(ctx, cfg, configDir)
	if err != nil {
		logger.Error(ctx, logging.LevelError, err, "failed to initialize generation core")
		return exitCodeConfigOrData
	}
	defer core.Close(ctx) //nolint:errcheck

	itemIDs, err := resolveItemIDs(ctx, core)
	if err != nil {
		logger.Error(ctx, logging.LevelError, err, "failed to resolve items for domain %q", *domainFlag)
		return exitCodeConfigOrData
	}
	if len(itemIDs) == 0 {
		fmt.Println("Nothing to generate: domain has no items.")
		return exitCodeSuccess
	}

	allPassed, err := generateAll(ctx, logger, core, itemIDs)
	if err != nil {
		logger.Error(ctx, logging.LevelError, err, "generation aborted")
		return exitCodeConfigOrData
	}
	if !allPassed {
		return exitCodeSomeFailed
	}
	return exitCodeSuccess
}

// generator is the subset of *forgecore.Core the CLI drives; extracted so
// tests can substitute a fake without wiring live providers.
type generator interface {
	ListItems(ctx context.Context, domainName string) ([]string, error)
	Generate(ctx context.Context, logger logging.Logger, domainName, itemID, component, sessionID string) (forgecore.Result, error)
}

func configDirOf(configFilePath string) (string, error) {
	absConfigPath, err := filepath.Abs(configFilePath)
	if err != nil {
		return "", err
	}
	return filepath.Dir(absConfigPath), nil
}

func openLogWriter() (io.Writer, error) {
	path := getFlagValueIfSet(logFilePath, "")
	if !config.IsNotBlank(path) {
		return os.Stdout, nil
	}
	path = config.CleanIfNotBlank(path)
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func newLogger(w io.Writer) logging.Logger {
	level := zerolog.InfoLevel
	if *debugFlag {
		level = zerolog.DebugLevel
	}
	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return logging.NewZerologLogger(zl)
}

func getFlagValueIfSet(value *string, defaultValue string) string {
	if value != nil && *value != unsetFlagValue {
		return *value
	}
	return defaultValue
}

// resolveItemIDs returns the single requested item, or every item of the
// domain capped at --limit when --item is blank.
func resolveItemIDs(ctx context.Context, core generator) ([]string, error) {
	if itemID := getFlagValueIfSet(itemFlag, ""); config.IsNotBlank(itemID) {
		return []string{itemID}, nil
	}
	items, err := core.ListItems(ctx, *domainFlag)
	if err != nil {
		return nil, err
	}
	if *limitFlag > 0 && *limitFlag < len(items) {
		items = items[:*limitFlag]
	}
	return items, nil
}

// generateAll drives one call per item, via a bounded worker pool unless
// --no-parallel forces strictly sequential processing. Every item is
// attempted regardless of earlier failures; the return value is false if any
// item did not pass.
func generateAll(ctx context.Context, logger logging.Logger, core generator, itemIDs []string) (allPassed bool, err error) {
	workers := defaultWorkerCount
	if *noParallel {
		workers = 1
	}

	var mu sync.Mutex
	allPassed = true

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, itemID := range itemIDs {
		itemID := itemID
		g.Go(func() error {
			result, genErr := core.Generate(gctx, logger, *domainFlag, itemID, *componentFlag, *sessionIDFlag)
			if genErr != nil {
				return fmt.Errorf("item %q: %w", itemID, genErr)
			}
			if !result.Success {
				logger.Message(ctx, logging.LevelWarn, "item %q did not pass after %d attempt(s): %v", itemID, result.Attempts, result.ReasonsIfNotPassed)
				mu.Lock()
				allPassed = false
				mu.Unlock()
			} else {
				fmt.Printf("%s/%s/%s: passed in %d attempt(s), score %.3f\n", *domainFlag, itemID, *componentFlag, result.Attempts, result.BestScore)
			}
			return nil
		})
	}
	if waitErr := g.Wait(); waitErr != nil {
		return false, waitErr
	}
	return allPassed, nil
}
