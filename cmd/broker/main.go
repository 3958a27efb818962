package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/supervisor"
	"github.com/cuemby/warren/pkg/types"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
}

var rootCmd = &cobra.Command{
	Use:     "broker",
	Short:   "agent-relay broker: a local process that wraps interactive AI CLIs in PTYs and routes messages between them",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"broker version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	startCmd.Flags().String("project-dir", ".", "Project directory holding .agent-relay/ state")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the /metrics, /health, /ready, /live HTTP endpoints (empty disables)")
	startCmd.Flags().String("relaycast-url", "", "Websocket URL of the Relaycast relay (empty disables the remote link)")
	startCmd.Flags().String("relaycast-token", "", "Bearer token for the Relaycast relay")
	startCmd.Flags().Duration("release-grace", 5*time.Second, "Grace period given to a worker's child process between SIGTERM and SIGKILL on release")
	startCmd.Flags().String("claude-bin", "claude", "Path or name of the Claude Code CLI binary")
	startCmd.Flags().String("codex-bin", "codex", "Path or name of the Codex CLI binary")
	startCmd.Flags().String("gemini-bin", "gemini", "Path or name of the Gemini CLI binary")
	startCmd.Flags().String("aider-bin", "aider", "Path or name of the Aider CLI binary")
	startCmd.Flags().String("goose-bin", "goose", "Path or name of the Goose CLI binary")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(doctorCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	// stdout carries the control-plane NDJSON stream; logs must never
	// land on it or they would corrupt a client's frame parsing.
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
		Output:     os.Stderr,
	})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the broker and serve the control plane on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFromFlags(cmd)

		sup, err := supervisor.Start(cfg)
		if err != nil {
			var startupErr *supervisor.StartupError
			if asStartupError(err, &startupErr) {
				fmt.Fprintf(os.Stderr, "broker failed to start: %v\n", startupErr.Err)
				os.Exit(startupErr.ExitCode)
			}
			fmt.Fprintf(os.Stderr, "broker failed to start: %v\n", err)
			os.Exit(2)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		serveErr := make(chan error, 1)
		go func() {
			serveErr <- sup.Serve(ctx, os.Stdin, os.Stdout)
		}()

		select {
		case sig := <-sigCh:
			log.Logger.Info().Str("signal", sig.String()).Msg("caught signal, shutting down")
			cancel()
			<-serveErr
		case err := <-serveErr:
			if err != nil {
				log.Logger.Error().Err(err).Msg("control plane exited with error")
				os.Exit(3)
			}
		}

		return nil
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that configured CLI binaries resolve and the project directory is writable, without starting the broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFromFlags(cmd)
		ok := true

		for kind, bin := range cfg.Binaries {
			if _, err := exec.LookPath(bin); err != nil {
				fmt.Printf("✗ %-8s %-12s not found on PATH\n", kind, bin)
				ok = false
				continue
			}
			fmt.Printf("✓ %-8s %-12s found\n", kind, bin)
		}

		probe := cfg.ProjectDir + "/.agent-relay"
		if err := os.MkdirAll(probe, 0o755); err != nil {
			fmt.Printf("✗ project directory %s is not writable: %v\n", cfg.ProjectDir, err)
			ok = false
		} else {
			fmt.Printf("✓ project directory %s is writable\n", cfg.ProjectDir)
		}

		if !ok {
			os.Exit(2)
		}
		return nil
	},
}

func configFromFlags(cmd *cobra.Command) supervisor.Config {
	projectDir, _ := cmd.Flags().GetString("project-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	relaycastURL, _ := cmd.Flags().GetString("relaycast-url")
	relaycastTok, _ := cmd.Flags().GetString("relaycast-token")
	releaseGrace, _ := cmd.Flags().GetDuration("release-grace")

	claudeBin, _ := cmd.Flags().GetString("claude-bin")
	codexBin, _ := cmd.Flags().GetString("codex-bin")
	geminiBin, _ := cmd.Flags().GetString("gemini-bin")
	aiderBin, _ := cmd.Flags().GetString("aider-bin")
	gooseBin, _ := cmd.Flags().GetString("goose-bin")

	return supervisor.Config{
		ProjectDir:   projectDir,
		MetricsAddr:  metricsAddr,
		RelaycastURL: relaycastURL,
		RelaycastTok: relaycastTok,
		ReleaseGrace: releaseGrace,
		Binaries: map[types.CLIKind]string{
			types.CLIClaude: claudeBin,
			types.CLICodex:  codexBin,
			types.CLIGemini: geminiBin,
			types.CLIAider:  aiderBin,
			types.CLIGoose:  gooseBin,
		},
	}
}

func asStartupError(err error, target **supervisor.StartupError) bool {
	se, ok := err.(*supervisor.StartupError)
	if ok {
		*target = se
	}
	return ok
}
