package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/analyzer"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/config"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/debug"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/indexer"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/invalidation"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/sink"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/types"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/version"
	"github.com/LeanVibe/leanvibe-ai-sub004/pkg/pathutil"

	"github.com/urfave/cli/v2"
)

// loadConfigWithOverrides loads configuration and applies CLI flag overrides.
func loadConfigWithOverrides(c *cli.Context) (*config.Config, string, error) {
	root := c.String("root")
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("failed to resolve working directory: %w", err)
		}
		root = cwd
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve root path %q: %w", root, err)
	}

	cfg, err := config.Load(absRoot)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config for %s: %w", absRoot, err)
	}
	cfg.Project.Root = absRoot

	if includeFlags := c.StringSlice("include"); len(includeFlags) > 0 {
		cfg.Include = includeFlags
	}
	if excludeFlags := c.StringSlice("exclude"); len(excludeFlags) > 0 {
		cfg.Exclude = append(cfg.Exclude, excludeFlags...)
	}
	if cacheDir := c.String("cache-dir"); cacheDir != "" {
		cfg.Index.CacheDir = cacheDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, absRoot, nil
}

func newService(c *cli.Context) (*indexer.Service, *config.Config, error) {
	cfg, root, err := loadConfigWithOverrides(c)
	if err != nil {
		return nil, nil, err
	}
	svc, err := indexer.NewService(root, cfg, analyzer.NewTreeSitterProvider())
	if err != nil {
		return nil, nil, err
	}
	svc.SetGraphSink(sink.NewMemorySink())
	return svc, cfg, nil
}

func main() {
	app := &cli.App{
		Name:                   "pidx",
		Usage:                  "Incremental project index with dependency-aware cache invalidation",
		Version:                version.Version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Project root directory to index (default: working directory)",
			},
			&cli.StringSliceFlag{
				Name:  "include",
				Usage: "Include files matching glob patterns (e.g., --include 'src/**/*.py')",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "Exclude files matching glob patterns (e.g., --exclude '**/generated/**')",
			},
			&cli.StringFlag{
				Name:  "cache-dir",
				Usage: "Directory for persisted index snapshots",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Show debug information",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				os.Setenv("DEBUG", "1")
				debug.SetDebugOutput(os.Stderr)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:    "index",
				Aliases: []string{"i"},
				Usage:   "Build or refresh the project index",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Force a full reindex, ignoring the persisted snapshot",
					},
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"j"},
						Usage:   "Output as JSON",
					},
				},
				Action: indexCommand,
			},
			{
				Name:    "watch",
				Aliases: []string{"w"},
				Usage:   "Index the project and keep it current as files change",
				Action:  watchCommand,
			},
			{
				Name:    "deps",
				Aliases: []string{"d"},
				Usage:   "Show dependencies and dependents of a file",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"j"},
						Usage:   "Output as JSON",
					},
				},
				Action: depsCommand,
			},
			{
				Name:  "invalidate",
				Usage: "Run one invalidation pass for a file and show the affected set",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-propagate",
						Usage: "Invalidate only the file itself, without following dependents",
					},
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"j"},
						Usage:   "Output as JSON",
					},
				},
				Action: invalidateCommand,
			},
			{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Show index and invalidation statistics",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"j"},
						Usage:   "Output as JSON",
					},
				},
				Action: statusCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func indexCommand(c *cli.Context) error {
	svc, _, err := newService(c)
	if err != nil {
		return err
	}

	start := time.Now()
	project, err := svc.GetOrCreateProjectIndex(contextWithSignals(), indexer.Options{
		ForceFullReindex: c.Bool("force"),
		Include:          c.StringSlice("include"),
		Exclude:          c.StringSlice("exclude"),
	})
	if err != nil {
		return err
	}

	symbols, deps := 0, 0
	for _, analysis := range project.Files {
		symbols += len(analysis.Symbols)
		deps += len(analysis.Dependencies)
	}
	metrics := svc.GetMetrics()

	if c.Bool("json") {
		return printJSON(map[string]any{
			"root":         svc.Root(),
			"files":        len(project.Files),
			"symbols":      symbols,
			"dependencies": deps,
			"graph_nodes":  metrics.GraphNodes,
			"graph_edges":  metrics.GraphEdges,
			"elapsed_ms":   time.Since(start).Milliseconds(),
		})
	}

	fmt.Printf("Indexed %s\n", svc.Root())
	fmt.Printf("  files:        %d\n", len(project.Files))
	fmt.Printf("  symbols:      %d\n", symbols)
	fmt.Printf("  dependencies: %d (%d graph edges)\n", deps, metrics.GraphEdges)
	fmt.Printf("  elapsed:      %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func watchCommand(c *cli.Context) error {
	svc, cfg, err := newService(c)
	if err != nil {
		return err
	}

	ctx := contextWithSignals()
	project, err := svc.GetOrCreateProjectIndex(ctx, indexer.Options{
		Include: c.StringSlice("include"),
		Exclude: c.StringSlice("exclude"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d files, watching %s (Ctrl+C to stop)\n", len(project.Files), svc.Root())

	watcher, err := indexer.NewWatcher(svc.Root(), cfg)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down")
			return nil
		case batch, ok := <-watcher.Changes():
			if !ok {
				return nil
			}
			updated, err := svc.UpdateFromFileChanges(ctx, batch)
			if err != nil {
				fmt.Fprintf(os.Stderr, "update failed: %v\n", err)
				continue
			}
			if updated != nil {
				fmt.Printf("[%s] applied %d changes, %d files indexed\n",
					time.Now().Format("15:04:05"), len(batch), len(updated.Files))
			}
		}
	}
}

func depsCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("usage: pidx deps <file>")
	}
	svc, _, err := newService(c)
	if err != nil {
		return err
	}
	if _, err := svc.GetOrCreateProjectIndex(contextWithSignals(), indexer.Options{}); err != nil {
		return err
	}

	target := pathutil.ToSlashRelative(c.Args().First(), svc.Root())
	info, ok := svc.GetDependencyInfo(target)
	if !ok {
		return fmt.Errorf("file %q is not in the index", target)
	}

	if c.Bool("json") {
		return printJSON(info)
	}

	fmt.Printf("%s\n", info.Path)
	printList("depends on", info.Dependencies)
	printList("depended on by", info.Dependents)
	printList("external imports", info.ExternalImports)
	printList("symbols", info.Symbols)
	return nil
}

func invalidateCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("usage: pidx invalidate <file>")
	}
	svc, _, err := newService(c)
	if err != nil {
		return err
	}
	if _, err := svc.GetOrCreateProjectIndex(contextWithSignals(), indexer.Options{}); err != nil {
		return err
	}

	target := pathutil.ToSlashRelative(c.Args().First(), svc.Root())
	events := svc.InvalidateFile(target, types.ChangeModified, !c.Bool("no-propagate"))
	if c.Bool("json") {
		return printJSON(events)
	}

	fmt.Printf("%d files invalidated:\n", len(events))
	for _, ev := range events {
		line := fmt.Sprintf("  %-10s depth=%d  %s", ev.Type, ev.PropagationDepth, ev.Path)
		if len(ev.AffectedSymbols) > 0 {
			line += fmt.Sprintf("  via %v", ev.AffectedSymbols)
		}
		fmt.Println(line)
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	svc, _, err := newService(c)
	if err != nil {
		return err
	}
	if _, err := svc.GetOrCreateProjectIndex(contextWithSignals(), indexer.Options{}); err != nil {
		return err
	}

	project := svc.Project()
	metrics := svc.GetMetrics()
	history := svc.History()

	if c.Bool("json") {
		return printJSON(map[string]any{
			"root":    svc.Root(),
			"files":   len(project.Files),
			"metrics": metrics,
			"history": history,
		})
	}

	fmt.Printf("Index of %s\n", svc.Root())
	fmt.Printf("  files:       %d\n", len(project.Files))
	fmt.Printf("  graph:       %d nodes, %d edges\n", metrics.GraphNodes, metrics.GraphEdges)
	fmt.Printf("Invalidation\n")
	fmt.Printf("  total events:     %d\n", metrics.TotalInvalidations)
	fmt.Printf("  direct/dep/sym:   %d/%d/%d\n", metrics.DirectEvents, metrics.DependencyEvents, metrics.SymbolEvents)
	fmt.Printf("  truncations:      %d depth, %d cascade\n", metrics.DepthTruncations, metrics.CascadeTruncations)
	fmt.Printf("  handler failures: %d\n", metrics.HandlerFailures)
	fmt.Printf("  avg depth:        %.2f\n", metrics.AvgPropagationDepth)
	if len(history) > 0 {
		fmt.Printf("Recent events\n")
		for _, ev := range recentEvents(history, 10) {
			fmt.Printf("  %s  %-10s %s\n", ev.Timestamp.Format("15:04:05"), ev.Type, ev.Path)
		}
	}
	return nil
}

func recentEvents(history []invalidation.Event, n int) []invalidation.Event {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func printList(label string, items []string) {
	if len(items) == 0 {
		return
	}
	sorted := append([]string(nil), items...)
	sort.Strings(sorted)
	fmt.Printf("  %s:\n", label)
	for _, item := range sorted {
		fmt.Printf("    %s\n", item)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// contextWithSignals returns a context cancelled on SIGINT or SIGTERM.
func contextWithSignals() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}
