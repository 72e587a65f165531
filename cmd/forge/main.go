package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/glowbarn/forge/internal/board"
	"github.com/glowbarn/forge/internal/feature"
	"github.com/glowbarn/forge/internal/forgeerr"
	"github.com/glowbarn/forge/internal/pipeline"
	"github.com/glowbarn/forge/internal/toolchain"
)

// stringList collects a repeatable string flag.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

// flagMap collects repeatable "-flag name=bool" arguments.
type flagMap map[string]bool

func (m flagMap) String() string {
	parts := make([]string, 0, len(m))
	for name, value := range m {
		parts = append(parts, fmt.Sprintf("%s=%t", name, value))
	}
	return strings.Join(parts, ",")
}

func (m flagMap) Set(value string) error {
	name, rawValue, found := strings.Cut(value, "=")
	if !found {
		return fmt.Errorf("expected name=bool, got %q", value)
	}
	enabled, err := strconv.ParseBool(rawValue)
	if err != nil {
		return fmt.Errorf("expected name=bool, got %q", value)
	}
	m[name] = enabled
	return nil
}

func main() {
	var targets stringList
	buildFlags := flagMap{}
	var configPath, outputDir, stateDir, toolchainCmd string
	var forceConfig, verbose, listTargets, listFeatures bool
	var timeout time.Duration

	flag.Var(&targets, "target", "board to build an image for (repeatable)")
	flag.Var(buildFlags, "flag", "build flag as name=bool, e.g. gui=true (repeatable)")
	flag.StringVar(&configPath, "config", "", "path to a TOML build config document")
	flag.StringVar(&outputDir, "output-dir", "out", "directory images are published to")
	flag.StringVar(&stateDir, "state-dir", "/var/lib/glowbarn-forge", "directory for staging trees, locks and run state")
	flag.StringVar(&toolchainCmd, "toolchain", "", "toolchain driver command (default: glowbarn-mk on PATH)")
	flag.BoolVar(&forceConfig, "force-config", false, "overwrite hand-edited config files in the staged tree")
	flag.DurationVar(&timeout, "timeout", 0, "bound on the external toolchain build, e.g. 30m (default: none)")
	flag.BoolVar(&verbose, "verbose", false, "enable debug logging")
	flag.BoolVar(&listTargets, "list-targets", false, "print the known boards and exit")
	flag.BoolVar(&listFeatures, "list-features", false, "print the known build flags and exit")
	flag.Parse()

	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if listTargets {
		for _, name := range board.Names() {
			target, err := board.New(name)
			if err != nil {
				panic(err)
			}
			fmt.Printf("%s\t%s\n", name, target.Arch)
		}
		return
	}
	if listFeatures {
		for _, name := range feature.Names() {
			f, _ := feature.Lookup(name)
			fmt.Printf("%s\tdefault=%t\n", name, f.Default)
		}
		return
	}

	if len(targets) == 0 {
		fmt.Fprintln(os.Stderr, "you need to specify at least one -target")
		flag.Usage()
		os.Exit(forgeerr.ExitUsage)
	}
	seen := map[string]bool{}
	for _, target := range targets {
		if seen[target] {
			fmt.Fprintf(os.Stderr, "target %q given more than once\n", target)
			os.Exit(forgeerr.ExitUsage)
		}
		seen[target] = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var command []string
	if toolchainCmd != "" {
		command = strings.Fields(toolchainCmd)
	}

	// one linear pipeline per target, distinct targets in parallel
	group, groupCtx := errgroup.WithContext(ctx)
	for _, target := range targets {
		opts := pipeline.Options{
			Target:               target,
			Flags:                buildFlags,
			ConfigPath:           configPath,
			OutputDir:            outputDir,
			StateDir:             stateDir,
			ForceConfig:          forceConfig,
			ExternalBuildTimeout: timeout,
		}
		p := &pipeline.Pipeline{
			Builder: &toolchain.ExecBuilder{Command: command, StagingDir: opts.StagingDir()},
		}
		group.Go(func() error {
			image, err := p.Run(groupCtx, opts)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\n", image.Path, image.Checksum)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		logrus.Error(err)
		os.Exit(forgeerr.ExitCode(err))
	}
}
