package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/studiowebux/difyload/internal/cli"
	"github.com/studiowebux/difyload/internal/testfiles"
)

var (
	version = "0.1.0"
)

// exitError carries a non-zero exit code without an error message
type exitError int

func (e exitError) Error() string {
	return "exit status " + strconv.Itoa(int(e))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if code, ok := err.(exitError); ok {
		os.Exit(int(code))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "difyload",
	Short: "Load testing harness for Dify",
	Long: `difyload drives virtual users against a Dify deployment and reports
latency, throughput and failures per endpoint.

Hosts and API keys come from the environment or a .env file:
  API_HOST, SANDBOX_HOST
  CHATFLOW_API_KEY, WORKFLOW_API_KEY, KNOWLEDGE_API_KEY, SANDBOX_API_KEY
  CHATFLOW_SANDBOX_API_KEY (chatflow_sandbox only)

Examples:
  difyload run                           # every scenario with the default load
  difyload run chat --users 20 -d 5m     # chat only, 20 users for 5 minutes
  difyload run sandbox --mode weighted   # weighted task picks
  difyload run all --live                # live dashboard
  difyload runs list                     # past runs
  difyload gen-files                     # write upload fixtures`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run [chat|chatflow|workflow|file|knowledge|sandbox|chatflow_sandbox|health|all]",
	Short: "Run a load test",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoadTest(cmd, args)
	},
}

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "Show the tasks and weights of every scenario",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cli.Scenarios(cmd.OutOrStdout())
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list [scenario]",
	Short: "List recent runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scenarioName := ""
		if len(args) > 0 {
			scenarioName = args[0]
		}
		return cli.ListRuns(historyOptions(cmd), scenarioName, flagLimit)
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one run with its per-endpoint summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRunID(args[0])
		if err != nil {
			return err
		}
		return cli.ShowRun(historyOptions(cmd), id, flagSamples)
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a run and its samples",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRunID(args[0])
		if err != nil {
			return err
		}
		return cli.DeleteRun(historyOptions(cmd), id)
	},
}

var genFilesCmd = &cobra.Command{
	Use:   "gen-files [dir]",
	Short: "Write the sample text, image and audio files used by uploads",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := testfiles.DefaultDir
		if len(args) > 0 {
			dir = args[0]
		}
		return cli.GenerateFiles(cmd.OutOrStdout(), dir)
	},
}

// Flags for run command
var (
	flagConfig       string
	flagEnvFile      string
	flagUsers        int
	flagSandboxUsers int
	flagSpawnRate    float64
	flagDuration     string
	flagMode         string
	flagLive         bool
	flagMetricsAddr  string
	flagNoStore      bool
	flagOutput       string
	flagStrict       bool
	flagTestFiles    string
	flagLogLevel     string
	flagHostMetrics  bool
)

// Flags shared by run and runs
var (
	flagDB      string
	flagLimit   int
	flagSamples bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Run history database (default ~/.difyload/difyload.db)")

	runCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "Load profile (.yaml, .yml, .json, .jsonc)")
	runCmd.Flags().StringVar(&flagEnvFile, "env-file", "", "Load environment variables from file (default .env)")
	runCmd.Flags().IntVarP(&flagUsers, "users", "u", 0, "API virtual users (default 100)")
	runCmd.Flags().IntVar(&flagSandboxUsers, "sandbox-users", 0, "Sandbox virtual users (default 50)")
	runCmd.Flags().Float64VarP(&flagSpawnRate, "spawn-rate", "r", 0, "Users started per second (default 10)")
	runCmd.Flags().StringVarP(&flagDuration, "duration", "d", "", "Run time, e.g. 90s, 30m or seconds; 0 runs until interrupted (default 30m)")
	runCmd.Flags().StringVarP(&flagMode, "mode", "m", "", "Task selection: sequence or weighted (default sequence)")
	runCmd.Flags().BoolVar(&flagLive, "live", false, "Show the live dashboard")
	runCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	runCmd.Flags().BoolVar(&flagNoStore, "no-store", false, "Do not record the run in the history database")
	runCmd.Flags().StringVarP(&flagOutput, "output", "o", "text", "Report format (text/json/yaml)")
	runCmd.Flags().BoolVar(&flagStrict, "strict", false, "Exit non-zero when any threshold fails")
	runCmd.Flags().StringVar(&flagTestFiles, "test-files", "", "Directory with upload fixtures (default test_files)")
	runCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "Log level: dev, prod, debug, info, warn, error")
	runCmd.Flags().BoolVar(&flagHostMetrics, "host-metrics", false, "Sample CPU, memory, disk and network of this host and check them against the host limits")

	runsCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "Output format (text/json/yaml)")
	runsListCmd.Flags().IntVarP(&flagLimit, "limit", "n", 20, "Maximum number of runs (0 for all)")
	runsShowCmd.Flags().BoolVar(&flagSamples, "samples", false, "Also print every stored sample")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scenariosCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(genFilesCmd)
}

// runLoadTest maps the flags that were given onto run options
func runLoadTest(cmd *cobra.Command, args []string) error {
	opts := cli.RunOptions{
		ConfigPath:   flagConfig,
		EnvFile:      flagEnvFile,
		Duration:     flagDuration,
		Mode:         flagMode,
		TestFiles:    flagTestFiles,
		LogLevel:     flagLogLevel,
		Live:         flagLive,
		MetricsAddr:  flagMetricsAddr,
		DBPath:       flagDB,
		NoStore:      flagNoStore,
		OutputFormat: flagOutput,
		Strict:       flagStrict,
		HostMetrics:  flagHostMetrics,
		Stdout:       cmd.OutOrStdout(),
		Stderr:       cmd.ErrOrStderr(),
	}
	if len(args) > 0 {
		opts.Scenario = args[0]
	}

	flags := cmd.Flags()
	if flags.Changed("users") {
		opts.APIUsers = &flagUsers
	}
	if flags.Changed("sandbox-users") {
		opts.SandboxUsers = &flagSandboxUsers
	}
	if flags.Changed("spawn-rate") {
		opts.SpawnRate = &flagSpawnRate
	}

	code, err := cli.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}
	if code != 0 {
		return exitError(code)
	}
	return nil
}

func historyOptions(cmd *cobra.Command) cli.HistoryOptions {
	return cli.HistoryOptions{
		DBPath:       flagDB,
		OutputFormat: flagOutput,
		Stdout:       cmd.OutOrStdout(),
	}
}

func parseRunID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", s)
	}
	return id, nil
}
