package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tournevent/kuaidi100/internal/batch"
	"github.com/tournevent/kuaidi100/internal/server"
	"github.com/tournevent/kuaidi100/pkg/kuaidi100"
)

var version = "0.0.1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "kuaidi100",
	Short:   "Kuaidi100 tracking bridge - subscriptions, push notifications and lookups",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server receiving provider notifications",
	RunE:  runServe,
}

var trackCmd = &cobra.Command{
	Use:   "track <waybill>",
	Short: "Subscribe to status notifications for a waybill",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrack,
}

var queryCmd = &cobra.Command{
	Use:   "query <waybill>...",
	Short: "Look up the current status of one or more waybills",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify and decode a notification body read from stdin",
	Args:  cobra.NoArgs,
	RunE:  runVerify,
}

func init() {
	trackCmd.Flags().String("company", "", "carrier code; empty lets the provider detect it")
	trackCmd.Flags().String("from", "", "origin address")
	trackCmd.Flags().String("to", "", "destination address")
	trackCmd.Flags().String("salt", "", "notification salt (defaults to the configured salt, then the waybill)")
	trackCmd.Flags().String("callback", "", "notification URL overriding KUAIDI100_NOTIFICATION_URL")
	trackCmd.Flags().Bool("international", true, "let the provider resolve international carriers")

	queryCmd.Flags().String("company", "", "carrier code of every waybill")
	queryCmd.Flags().String("from", "", "origin address")
	queryCmd.Flags().String("to", "", "destination address")
	_ = queryCmd.MarkFlagRequired("company")

	verifyCmd.Flags().String("salt", "", "salt the notification was signed with (defaults to the waybill)")

	rootCmd.AddCommand(serveCmd, trackCmd, queryCmd, verifyCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Initialize telemetry
	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
	} else {
		defer tracerShutdown(context.Background())
	}

	guard, closeGuard, err := initReplayGuard(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeGuard()

	logger.Info("Starting Kuaidi100 tracking bridge",
		zap.Int("port", cfg.Port),
		zap.String("version", cfg.Version),
		zap.Bool("mock", cfg.UseMock),
		zap.Bool("replay_guard", cfg.RedisURL != ""),
	)

	srv := server.New(
		server.Config{Port: cfg.Port, BatchConcurrency: cfg.BatchConcurrency},
		initService(cfg),
		logger,
		server.WithGuard(guard),
	)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runTrack(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := kuaidi100.TrackingOptions{
		Company:         stringFlag(cmd, "company"),
		From:            stringFlag(cmd, "from"),
		To:              stringFlag(cmd, "to"),
		Salt:            stringFlag(cmd, "salt"),
		NotificationURL: stringFlag(cmd, "callback"),
	}
	if cmd.Flags().Changed("international") {
		international, _ := cmd.Flags().GetBool("international")
		opts.International = kuaidi100.Some(international)
	}

	if err := initService(cfg).Track(cmd.Context(), args[0], opts); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "subscribed %s\n", args[0])
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	company, _ := cmd.Flags().GetString("company")
	reqs := make([]kuaidi100.QueryRequest, len(args))
	for i, waybillNo := range args {
		reqs[i] = kuaidi100.QueryRequest{
			Company:   company,
			WaybillNo: waybillNo,
			From:      stringFlag(cmd, "from"),
			To:        stringFlag(cmd, "to"),
		}
	}

	results := batch.NewRunner(initService(cfg), cfg.BatchConcurrency).Query(cmd.Context(), reqs)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%v\n", res.Err)
			continue
		}
		if err := enc.Encode(res.Logistics); err != nil {
			return err
		}
	}
	if n := batch.Failed(results); n > 0 {
		return fmt.Errorf("%d of %d lookups failed", n, len(results))
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	body, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("reading notification: %w", err)
	}
	salt, _ := cmd.Flags().GetString("salt")

	result, err := kuaidi100.ParseNotification(strings.TrimRight(string(body), "\r\n"), salt)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// stringFlag returns the flag value when it was given on the command line.
func stringFlag(cmd *cobra.Command, name string) kuaidi100.Optional[string] {
	if !cmd.Flags().Changed(name) {
		return kuaidi100.None[string]()
	}
	v, _ := cmd.Flags().GetString(name)
	return kuaidi100.Some(v)
}
