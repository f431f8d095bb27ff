package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/highbeam/changeguard/internal/config"
	"github.com/highbeam/changeguard/internal/daemon"
	"github.com/highbeam/changeguard/internal/hallucination"
	"github.com/highbeam/changeguard/internal/ipc"
	"github.com/highbeam/changeguard/internal/logging"
	"github.com/highbeam/changeguard/internal/mcpserver"
	"github.com/highbeam/changeguard/internal/offline"
	"github.com/highbeam/changeguard/internal/report"
	"github.com/highbeam/changeguard/internal/store"
	"github.com/highbeam/changeguard/internal/tools"
	"github.com/highbeam/changeguard/internal/verdict"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// errBlocked marks a fail or block verdict; main exits 2 on it.
var errBlocked = errors.New("verdict failed")

func main() {
	rootCmd := &cobra.Command{
		Use:           "changeguard",
		Short:         "Guard AI-assisted code changes",
		Long:          "changeguard checks AI-assisted changes for session entropy, structural drift, hallucinated imports, prompt injection and weak change briefs, and learns from the history.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(pingCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(invokeCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(filterCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if errors.Is(err, errBlocked) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

func colorOutput() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

// openSuite opens the store in-process and builds the tool suite.
func openSuite(cfg *config.Config, logger *zap.Logger) (*tools.Suite, func(), error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return tools.NewSuite(cfg, s, logger), func() { _ = s.Close() }, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the changeguard daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if ipc.IsAlive(cfg.SocketPath) {
				fmt.Println("daemon is already running")
				return nil
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			return daemon.New(cfg, logger).Start(cmd.Context())
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the changeguard daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := ipc.NewClient(cfg.SocketPath, 5*time.Second).RequestStop(cmd.Context()); err != nil {
				return fmt.Errorf("stop daemon: %w", err)
			}
			fmt.Println("daemon stopping")
			return nil
		},
	}
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check if daemon is alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := ipc.NewClient(cfg.SocketPath, 5*time.Second).Ping(cmd.Context()); err != nil {
				fmt.Println("daemon is not running")
				return err
			}
			fmt.Println("daemon is alive")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			status, err := ipc.NewClient(cfg.SocketPath, 5*time.Second).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("daemon not running or unreachable: %w", err)
			}
			if jsonOutput {
				fmt.Println(report.FormatJSON(status))
			} else {
				fmt.Print(report.Formatter{Color: colorOutput()}.Status(status))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tools over MCP on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			suite, closeStore, err := openSuite(cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			srv := mcpserver.New(suite, version, logger)
			logger.Info("mcp server starting", zap.String("db", cfg.DBPath))
			if err := srv.Run(cmd.Context(), &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		},
	}
}

func invokeCmd() *cobra.Command {
	var (
		argsFile   string
		jsonOutput bool
		local      bool
	)

	cmd := &cobra.Command{
		Use:   "invoke <tool> [json-args]",
		Short: "Run one tool and print its verdict",
		Long: `Run one tool with JSON arguments, given inline or with --args-file
("-" reads stdin). The running daemon is used when available, otherwise
the database is opened in-process.

Exits 2 when the verdict is fail or block.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readArgs(args[1:], argsFile, cmd.InOrStdin())
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var res *verdict.Result
			if !local && ipc.IsAlive(cfg.SocketPath) {
				res, err = ipc.NewClient(cfg.SocketPath, 0).Invoke(cmd.Context(), args[0], raw)
				if err != nil {
					return err
				}
			} else {
				logger, err := newLogger(cfg)
				if err != nil {
					return err
				}
				defer logger.Sync()
				suite, closeStore, err := openSuite(cfg, logger)
				if err != nil {
					return err
				}
				defer closeStore()
				res = suite.Invoke(cmd.Context(), args[0], raw)
			}

			if jsonOutput {
				fmt.Println(report.FormatJSON(res))
			} else {
				fmt.Print(report.Formatter{Color: colorOutput()}.Result(res))
			}
			if res.Status >= verdict.StatusFail {
				return errBlocked
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&argsFile, "args-file", "", `Read JSON arguments from a file ("-" for stdin)`)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&local, "local", false, "Open the database in-process even if the daemon is running")
	return cmd
}

func readArgs(inline []string, file string, stdin io.Reader) (json.RawMessage, error) {
	switch {
	case len(inline) > 0 && file != "":
		return nil, fmt.Errorf("give arguments inline or with --args-file, not both")
	case len(inline) > 0:
		return json.RawMessage(inline[0]), nil
	case file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read args file: %w", err)
		}
		return data, nil
	default:
		return nil, nil
	}
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the available tools",
		Run: func(cmd *cobra.Command, args []string) {
			for _, sp := range tools.Specs() {
				fmt.Printf("%-22s %s\n", sp.Name, sp.Description)
			}
		},
	}
}

func profileCmd() *cobra.Command {
	var (
		projectPath string
		aiTool      string
		topN        int
		jsonOutput  bool
		dbPath      string
	)

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the developer profile and recent sessions",
		Long: `Aggregate the learning history into a developer profile.

Reads the SQLite database directly; the daemon does not need to be running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				dbPath = cfg.DBPath
			}

			r, err := report.Generate(cmd.Context(), dbPath, store.Scope{ProjectPath: projectPath, AITool: aiTool}, topN)
			if err != nil {
				return fmt.Errorf("generate report: %w", err)
			}
			if jsonOutput {
				fmt.Println(report.FormatJSON(r))
			} else {
				fmt.Print(report.Formatter{Color: colorOutput()}.Report(r))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&projectPath, "project", "", "Restrict to sessions of this project path")
	cmd.Flags().StringVar(&aiTool, "ai-tool", "", "Restrict to sessions of this AI tool")
	cmd.Flags().IntVar(&topN, "top", 5, "Number of top violations to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (default: from config)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDataDir(); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			s, err := store.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			v, err := s.CurrentVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%s at schema version %d\n", cfg.DBPath, v)
			return nil
		},
	}
}

func filterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Manage the offline package filter",
	}
	cmd.AddCommand(filterBuildCmd())
	return cmd
}

func filterBuildCmd() *cobra.Command {
	var (
		output string
		fpRate float64
	)

	cmd := &cobra.Command{
		Use:   "build <list>...",
		Short: "Build the offline filter from package lists",
		Long: `Build the offline package filter from one or more lists with one
"ecosystem name" pair per line ("-" reads stdin).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				output = cfg.Registry.FilterPath
			}

			var entries []offline.Entry
			for _, path := range args {
				got, err := readEntries(path, cmd.InOrStdin())
				if err != nil {
					return err
				}
				entries = append(entries, got...)
			}
			if len(entries) == 0 {
				return fmt.Errorf("no packages in %s", strings.Join(args, ", "))
			}

			if err := offline.Build(entries, fpRate).Save(output); err != nil {
				return fmt.Errorf("save filter: %w", err)
			}
			fmt.Printf("wrote %d packages to %s\n", len(entries), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Filter path (default: registry.filter_path from config)")
	cmd.Flags().Float64Var(&fpRate, "fp-rate", offline.DefaultFalsePositiveRate, "Target false-positive rate")
	return cmd
}

// readEntries reads one package list and normalizes ecosystem aliases.
func readEntries(path string, stdin io.Reader) ([]offline.Entry, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	entries, err := offline.ReadEntries(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for i, e := range entries {
		eco, err := hallucination.ParseEcosystem(e.Ecosystem)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		entries[i].Ecosystem = eco.String()
	}
	return entries, nil
}
