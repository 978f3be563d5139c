package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yqhp/fanout/internal/task"
	"yqhp/fanout/internal/worker"
	"yqhp/fanout/pkg/logger"
)

var (
	workerName    string
	workerMaster  string
	workerAddress string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage worker nodes",
	Long:  `Workers register with a master and apply task kinds to the fragments delegated to them.`,
}

var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a worker and register it with a master",
	Example: `  fanout worker start --name w1 --master 127.0.0.1:9700
  fanout worker start --name w2 --master 10.0.0.5:9700 --address :9801`,
	Args: cobra.NoArgs,
	RunE: runWorkerStart,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(workerStartCmd)

	workerStartCmd.Flags().StringVar(&workerName, "name", "worker", "worker name reported to the master")
	workerStartCmd.Flags().StringVar(&workerMaster, "master", "127.0.0.1:9700", "master address")
	workerStartCmd.Flags().StringVar(&workerAddress, "address", "127.0.0.1:0", "address the worker listens on")
}

func runWorkerStart(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("name") {
		cfg.Worker.Name = workerName
	}
	if cmd.Flags().Changed("master") {
		cfg.Worker.MasterAddress = workerMaster
	}
	if cmd.Flags().Changed("address") {
		cfg.Worker.Address = workerAddress
	}
	if cfg.Worker.MasterAddress == "" {
		return fmt.Errorf("master address is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.Named("cli")
	tasks := task.DefaultRegistry(cfg.Task.ScriptTimeout)
	w := worker.New(cfg.WorkerOptions(), tasks)

	printf(Banner, Version)
	printf("\n  Starting worker %q\n", cfg.Worker.Name)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	if err := w.Connect(ctx, cfg.Worker.MasterAddress); err != nil {
		_ = stopWorker(w)
		return fmt.Errorf("register with %s: %w", cfg.Worker.MasterAddress, err)
	}

	printf("  Listening on %s\n", w.Address())
	printf("  Registered with %s as %s\n", w.MasterAddress(), w.ID())
	printf("  Task kinds: %v\n", tasks.Types())
	printf("  Worker running. Press Ctrl+C to stop.\n")

	waitForSignal(w.Done())

	stats := w.Stats()
	log.Info("Worker stopping",
		zap.Int64("completed", stats.Completed),
		zap.Int64("failed", stats.Failed))

	if err := stopWorker(w); err != nil {
		return fmt.Errorf("stop worker: %w", err)
	}

	printf("Worker stopped.\n")
	return nil
}

func stopWorker(w *worker.Worker) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return w.Stop(ctx)
}
