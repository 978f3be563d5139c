package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yqhp/fanout/api/rest"
	"yqhp/fanout/internal/master"
	"yqhp/fanout/pkg/logger"
)

var (
	masterAddress      string
	masterAPIAddress   string
	masterOrderTimeout time.Duration
	statusAPIAddress   string
	statusTimeout      time.Duration
)

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Manage the master node",
	Long:  `The master keeps the worker registry, splits submitted arrays and reassembles results.`,
}

var masterStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a master node",
	Example: `  # Start with defaults
  fanout master start

  # Listen on all interfaces and serve the status API elsewhere
  fanout master start --address :9700 --api-address :9701

  # Disable the status API
  fanout master start --api-address ""`,
	Args: cobra.NoArgs,
	RunE: runMasterStart,
}

var masterStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running master",
	Example: `  fanout master status
  fanout master status --api-address 10.0.0.5:9701`,
	Args: cobra.NoArgs,
	RunE: runMasterStatus,
}

func init() {
	rootCmd.AddCommand(masterCmd)
	masterCmd.AddCommand(masterStartCmd)
	masterCmd.AddCommand(masterStatusCmd)

	masterStartCmd.Flags().StringVar(&masterAddress, "address", "127.0.0.1:9700", "address the master listens on")
	masterStartCmd.Flags().StringVar(&masterAPIAddress, "api-address", "127.0.0.1:9701", "status API address, empty to disable")
	masterStartCmd.Flags().DurationVar(&masterOrderTimeout, "order-timeout", 5*time.Minute, "maximum time an order may wait for its fragments")

	masterStatusCmd.Flags().StringVar(&statusAPIAddress, "api-address", "127.0.0.1:9701", "status API address of the master")
	masterStatusCmd.Flags().DurationVar(&statusTimeout, "timeout", 5*time.Second, "request timeout")
}

func runMasterStart(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("address") {
		cfg.Master.Address = masterAddress
	}
	if cmd.Flags().Changed("api-address") {
		cfg.API.Address = masterAPIAddress
	}
	if cmd.Flags().Changed("order-timeout") {
		cfg.Master.OrderTimeout = masterOrderTimeout
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.Named("cli")
	m := master.New(cfg.MasterOptions())

	printf(Banner, Version)
	printf("\n  Starting master on %s\n", cfg.Master.Address)

	if err := m.Start(context.Background()); err != nil {
		return fmt.Errorf("start master: %w", err)
	}

	var api *rest.Server
	apiFailed := make(chan struct{})
	if cfg.API.Address != "" {
		api = rest.NewServer(m, cfg.APIOptions())
		go func() {
			if err := api.Start(); err != nil {
				log.Error("Status API failed", zap.Error(err))
				close(apiFailed)
			}
		}()
		printf("  Status API on http://%s/api/v1\n", cfg.API.Address)
	}

	printf("  Master running. Press Ctrl+C to stop.\n")
	waitForSignal(apiFailed)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if api != nil {
		if err := api.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Warn("Status API shutdown failed", zap.Error(err))
		}
	}
	if err := m.Stop(shutdownCtx); err != nil && !errors.Is(err, master.ErrNotStarted) {
		return fmt.Errorf("stop master: %w", err)
	}

	printf("Master stopped.\n")
	return nil
}

func runMasterStatus(cmd *cobra.Command, args []string) error {
	client := rest.NewStatusClient(statusAPIAddress, statusTimeout)
	defer client.Close()

	health, err := client.Health()
	if err != nil {
		return fmt.Errorf("query master at %s: %w", statusAPIAddress, err)
	}
	workers, err := client.Workers()
	if err != nil {
		return err
	}
	orders, err := client.Orders()
	if err != nil {
		return err
	}
	stats, err := client.Stats()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Master %s\n", health.Address)
	fmt.Fprintf(out, "  State:   %s (%s)\n", health.State, health.Status)
	fmt.Fprintf(out, "  Uptime:  %s\n", health.Uptime)
	fmt.Fprintf(out, "  Workers: %d\n", len(workers))
	for _, w := range workers {
		fmt.Fprintf(out, "    %s  %-16s %s\n", w.ID, w.Name, w.Address)
	}
	fmt.Fprintf(out, "  Orders in flight: %d\n", len(orders))
	for _, o := range orders {
		fmt.Fprintf(out, "    %s  %d/%d\n", o.ID, o.Received, o.Required)
	}
	fmt.Fprintf(out, "  Orders: submitted=%d completed=%d failed=%d rejected=%d\n",
		stats.OrdersSubmitted, stats.OrdersCompleted, stats.OrdersFailed, stats.OrdersRejected)
	fmt.Fprintf(out, "  Latency (ms): mean=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		stats.Latency.Mean, stats.Latency.P50, stats.Latency.P95, stats.Latency.P99, stats.Latency.Max)
	return nil
}
