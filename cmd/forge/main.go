// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	forge "github.com/forgebuild/forge"
	"github.com/forgebuild/forge/config"
)

var (
	forgefile string
	jobs      int
	keepGoing bool
	verbose   bool
	component string
)

func main() {
	root := &cobra.Command{
		Use:   "forge",
		Short: "Forge builds targets from a content-addressed rule graph",
	}
	root.PersistentFlags().StringVarP(&forgefile, "file", "f", "forgefile.yaml", "forgefile to load")
	root.PersistentFlags().IntVarP(&jobs, "jobs", "j", 0, "parallel jobs (0 = $FORGE_JOBS, else the number of CPUs)")
	root.PersistentFlags().BoolVarP(&keepGoing, "keep-going", "k", false, "keep building unaffected targets after a failure")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().StringVarP(&component, "component", "c", "", "restrict to one component")

	root.AddCommand(
		buildCmd(),
		runCmd(),
		testCmd(),
		cleanCmd(),
		graphCmd(),
		whyCmd(),
		watchCmd(),
		gcCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(ctx, err))
	}
}

// exitCode maps a command error to the process exit status spec §6
// mandates: 2 for configuration errors caught during graph validation
// or forgefile loading, 3 for I/O failures, 130 for a build the user
// cancelled with SIGINT/SIGTERM, and 1 for anything else.
func exitCode(ctx context.Context, err error) int {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return 130
	}
	var cfgErr *forge.ConfigError
	if errors.As(err, &cfgErr) {
		return 2
	}
	var ioErr *forge.IoError
	if errors.As(err, &ioErr) {
		return 3
	}
	return 1
}

func newLogger() *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return logrus.NewEntry(log)
}

func openEngine() (*forge.Engine, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("FORGE_ROOT"); v != "" {
		root = v
	}
	n := jobs
	if v := os.Getenv("FORGE_JOBS"); v != "" && n == 0 {
		if parsed, err := strconv.Atoi(v); err == nil {
			n = parsed
		}
	}
	eng := forge.Open(root, forge.EngineOptions{
		Jobs:      n,
		KeepGoing: keepGoing,
		Log:       newLogger(),
	})

	loader := config.NewLoader("FORGE", map[string]any{"os": runtimeOS()})
	rules, skipped, err := loader.Load(forgefile)
	if err != nil {
		return nil, err
	}
	for _, skip := range skipped {
		eng.Log().WithField("rule", skip.Name).Warn(skip.Reason)
	}
	for _, r := range rules {
		if err := eng.AddRule(r); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

func runtimeOS() string {
	if v := os.Getenv("FORGE_OS"); v != "" {
		return v
	}
	return "linux"
}

func targetSet(args []string) map[string]bool {
	if len(args) == 0 {
		return nil
	}
	set := make(map[string]bool, len(args))
	for _, a := range args {
		set[a] = true
	}
	return set
}

func componentSet() map[string]bool {
	if component == "" {
		return nil
	}
	return map[string]bool{component: true}
}

func buildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build [targets...]",
		Short: "Build the selected targets (or everything)",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			start := time.Now()
			report, err := eng.Build(cmd.Context(), targetSet(args), componentSet())
			if err != nil {
				return err
			}
			printReport(report, time.Since(start))
			if !report.Success() {
				os.Exit(exitCode(cmd.Context(), report.Err))
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <target>",
		Short: "Build and execute a target's binary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			exit, err := eng.Run(cmd.Context(), args[0], component)
			if err != nil {
				return err
			}
			fmt.Print(exit.Stdout)
			fmt.Fprint(os.Stderr, exit.Stderr)
			if exit.Code != 0 {
				os.Exit(exit.Code)
			}
			return nil
		},
	}
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Build and execute test binaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			target := ""
			if len(args) > 0 {
				target = args[0]
			}
			tr, err := eng.Test(cmd.Context(), target, component)
			if err != nil {
				return err
			}
			printReport(tr.Build, 0)
			failed := false
			for name, exit := range tr.Results {
				if exit.Code != 0 {
					failed = true
					fmt.Printf("FAIL %s\n%s%s", name, exit.Stdout, exit.Stderr)
				} else {
					fmt.Printf("ok   %s\n", name)
				}
			}
			if failed || !tr.Build.Success() {
				os.Exit(exitCode(cmd.Context(), tr.Build.Err))
			}
			return nil
		},
	}
}

func cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete forge-out/",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			return eng.Clean()
		},
	}
}

func graphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph [targets...]",
		Short: "Print the filtered dependency subgraph as DOT",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			names, deps, err := eng.FilteredEdges(targetSet(args), componentSet())
			if err != nil {
				return err
			}
			fmt.Println("digraph forge {")
			for _, name := range names {
				fmt.Printf("  %q;\n", name)
			}
			for _, name := range names {
				for _, dep := range deps[name] {
					fmt.Printf("  %q -> %q;\n", dep, name)
				}
			}
			fmt.Println("}")
			return nil
		},
	}
}

func whyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "why <target>",
		Short: "Show a rule's current fingerprint and whether it is cached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()
			explanation, err := eng.Why(args[0])
			if err != nil {
				return err
			}
			fmt.Println(explanation)
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [targets...]",
		Short: "Rebuild the selected targets whenever their inputs change",
		RunE: func(cmd *cobra.Command, args []string) error {
			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()

			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			dirs := map[string]bool{}
			for _, name := range eng.Names() {
				r := eng.RuleByName(name)
				for _, in := range r.Inputs {
					dirs[filepath.Dir(in)] = true
				}
			}
			for dir := range dirs {
				if err := watcher.Add(dir); err != nil {
					eng.Log().WithError(err).WithField("dir", dir).Warn("cannot watch directory")
				}
			}

			// cmd.Context() is already signal-aware: main() wires
			// SIGINT/SIGTERM cancellation into the root command once,
			// so every subcommand observes the same cancellation.
			ctx := cmd.Context()

			rebuild := func() {
				start := time.Now()
				report, err := eng.Build(ctx, targetSet(args), componentSet())
				if err != nil {
					eng.Log().WithError(err).Error("build failed")
					return
				}
				printReport(report, time.Since(start))
			}
			rebuild()

			debounce := time.NewTimer(0)
			if !debounce.Stop() {
				<-debounce.C
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
						continue
					}
					debounce.Reset(150 * time.Millisecond)
				case <-debounce.C:
					rebuild()
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					eng.Log().WithError(err).Warn("watch error")
				}
			}
		},
	}
}

func gcCmd() *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Evict content-addressed objects unreferenced by the cache index",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()
			freed, err := eng.GC(maxAge)
			if err != nil {
				return err
			}
			fmt.Printf("freed %s\n", humanize.Bytes(uint64(freed)))
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 7*24*time.Hour, "evict objects unreferenced for longer than this")
	return cmd
}

func printReport(report *forge.BuildReport, elapsed time.Duration) {
	for _, rr := range report.Rules {
		status := rr.Status.String()
		if rr.Err != nil {
			fmt.Printf("%-8s %-32s %s (%s)\n", status, rr.Name, humanize.RelTime(time.Now().Add(-rr.Duration), time.Now(), "", ""), rr.Err)
		} else {
			fmt.Printf("%-8s %-32s %s\n", status, rr.Name, rr.Duration)
		}
	}
	if elapsed > 0 {
		fmt.Printf("done in %s\n", elapsed)
	}
	if report.Err != nil {
		fmt.Fprintln(os.Stderr, report.Err)
	}
}
