package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/srg/spikelink/internal/exec"
	"github.com/srg/spikelink/internal/frame"
	"github.com/srg/spikelink/internal/stub"
	"github.com/srg/spikelink/pkg/config"
	"github.com/srg/spikelink/pkg/hub"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <file.py>",
	Short: "Run a Python program on a SPIKE hub",
	Long: `Upload a MicroPython program to a SPIKE hub and run it, streaming
the hub's output back to the terminal.

With no --address the first hub advertising the SPIKE service is used.
Imports are validated against the hub module catalog before any data
is sent, so typos fail fast instead of on the hub.

Defaults for address and timeouts can be set in ~/.spikelink.yaml.

Examples:
  # Run on the first hub found
  spikelink run program.py

  # Run on a specific hub, storing into slot 3
  spikelink run program.py --address AA:BB:CC:DD:EE:FF --slot 3

  # Bound the whole run to 30 seconds
  spikelink run program.py --timeout 30s`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runAddress        string
	runHubName        string
	runSlot           uint8
	runProgramName    string
	runTimeout        time.Duration
	runConnectTimeout time.Duration
	runScanTimeout    time.Duration
	runCatalogPath    string
	runStayConnected  bool
)

func init() {
	defaults := config.DefaultConfig()
	runCmd.Flags().StringVarP(&runAddress, "address", "a", "", "Hub BLE address (default: first hub found)")
	runCmd.Flags().StringVar(&runHubName, "hub-name", "", "Connect to the hub with this advertised name")
	runCmd.Flags().Uint8VarP(&runSlot, "slot", "s", 0, "Hub program slot (0-19)")
	runCmd.Flags().StringVarP(&runProgramName, "name", "n", "", "Program name on the hub (default: the file name)")
	runCmd.Flags().DurationVarP(&runTimeout, "timeout", "t", defaults.RunTimeout, "Overall run timeout (0 for unbounded)")
	runCmd.Flags().DurationVar(&runConnectTimeout, "connect-timeout", defaults.ConnectTimeout, "Connection timeout")
	runCmd.Flags().DurationVar(&runScanTimeout, "scan-timeout", defaults.ScanTimeout, "Hub discovery timeout")
	runCmd.Flags().StringVar(&runCatalogPath, "catalog", "", "Custom hub module catalog (YAML)")
	runCmd.Flags().BoolVar(&runStayConnected, "stay-connected", false, "Keep the connection open after the program finishes")
	runCmd.Flags().Bool("verbose", false, "Verbose logging")
}

// loadRunConfig layers ~/.spikelink.yaml under the command flags.
func loadRunConfig(cmd *cobra.Command) error {
	v := viper.New()
	v.SetConfigName(".spikelink")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	v.SetEnvPrefix("SPIKELINK")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine
	}

	if !cmd.Flags().Changed("address") && v.IsSet("address") {
		runAddress = v.GetString("address")
	}
	if !cmd.Flags().Changed("connect-timeout") && v.IsSet("connect_timeout") {
		runConnectTimeout = v.GetDuration("connect_timeout")
	}
	if !cmd.Flags().Changed("scan-timeout") && v.IsSet("scan_timeout") {
		runScanTimeout = v.GetDuration("scan_timeout")
	}
	if !cmd.Flags().Changed("timeout") && v.IsSet("run_timeout") {
		runTimeout = v.GetDuration("run_timeout")
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	if err := loadRunConfig(cmd); err != nil {
		return err
	}

	sourcePath := args[0]
	source, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to read program: %w", err)
	}

	var catalog *stub.Catalog
	if runCatalogPath != "" {
		catalog, err = stub.Load(runCatalogPath)
		if err != nil {
			return err
		}
	}

	programName := runProgramName
	if programName == "" {
		programName = filepath.Base(sourcePath)
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	status := color.New(color.Faint)
	if interactive {
		status.Fprintf(os.Stderr, "Connecting to hub...\n")
	}

	h, err := hub.Connect(ctx, hub.Filter{Address: runAddress, Name: runHubName}, &hub.Options{
		ScanTimeout:    runScanTimeout,
		ConnectTimeout: runConnectTimeout,
		Catalog:        catalog,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := h.Close(); closeErr != nil {
			logger.WithField("error", closeErr).Warn("Disconnect failed")
		}
	}()

	if interactive {
		status.Fprintf(os.Stderr, "Connected to %s (MTU %d), uploading %s...\n",
			h.Session().ID(), h.Session().MTU(), programName)
	}

	runCtx := ctx
	if runTimeout > 0 {
		var runCancel context.CancelFunc
		runCtx, runCancel = context.WithTimeout(ctx, runTimeout)
		defer runCancel()
	}

	run, err := h.Run(runCtx, source, hub.RunOptions{Slot: runSlot, Name: programName})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return printEvents(run)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			run.Abort()
		case <-run.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		// A run cancelled by Ctrl+C is a normal exit
		if errors.Is(err, exec.ErrCancelled) && ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}

	if runStayConnected {
		if interactive {
			status.Fprintf(os.Stderr, "Program finished, staying connected (Ctrl+C to exit)...\n")
		}
		<-ctx.Done()
	}
	return nil
}

// printEvents renders the run's event stream to the terminal.
func printEvents(run *hub.Run) error {
	hubErr := color.New(color.FgRed)
	stderrLine := color.New(color.FgYellow)
	done := color.New(color.Faint)

	for ev := range run.Events() {
		switch ev.Type {
		case hub.EventLine:
			if ev.Stream == frame.StreamStderr {
				stderrLine.Fprintln(os.Stderr, ev.Text)
			} else {
				fmt.Println(ev.Text)
			}
		case hub.EventError:
			if ev.ErrKind == exec.HubError {
				hubErr.Fprintf(os.Stderr, "hub error: %s\n", ev.Text)
				return fmt.Errorf("program failed on the hub")
			}
			return &exec.Error{Kind: ev.ErrKind, Msg: ev.Text}
		case hub.EventDone:
			if ev.Exit.Success() {
				done.Fprintln(os.Stderr, "Program finished.")
			} else {
				done.Fprintf(os.Stderr, "Program exited with status %d.\n", ev.Exit.Status)
			}
		}
	}
	return nil
}
