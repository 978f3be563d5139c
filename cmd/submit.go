package cmd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"yqhp/fanout/internal/task"
	"yqhp/fanout/pkg/client"
)

var (
	submitMaster string
	submitKind   string
	submitExpr   string
	submitArgs   []string
)

var submitCmd = &cobra.Command{
	Use:   "submit [values...]",
	Short: "Map a task kind over values on the cluster",
	Long: `submit sends the values to the master, which fans them out to its workers.
Values parse as integers, then floats, then fall back to strings.`,
	Example: `  fanout submit --master 127.0.0.1:9700 --kind double 1 2 3 4
  fanout submit --kind increment --args by=10 1 2 3
  fanout submit --kind expr --expr "x * k" --args k=3 1 2 3`,
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitMaster, "master", "127.0.0.1:9700", "master address")
	submitCmd.Flags().StringVar(&submitKind, "kind", task.KindIdentity, "task kind to apply")
	submitCmd.Flags().StringVar(&submitExpr, "expr", "", "expression for --kind expr (implies it when set)")
	submitCmd.Flags().StringArrayVar(&submitArgs, "args", nil, "task argument as key=value, repeatable")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	desc, err := buildDescriptor(submitKind, submitExpr, submitArgs, cmd.Flags().Changed("kind"))
	if err != nil {
		return err
	}

	values := make([]any, len(args))
	for i, a := range args {
		values[i] = parseValue(a)
	}

	c := client.NewWithConfig(cfg.ClientOptions(submitMaster))
	result, err := c.Submit(context.Background(), desc, values)
	if err != nil {
		var werr *client.WorkError
		switch {
		case errors.Is(err, client.ErrNoWorkers):
			return fmt.Errorf("master %s has no workers", submitMaster)
		case errors.As(err, &werr):
			return fmt.Errorf("task %s failed: %s", desc, werr.Message)
		default:
			return err
		}
	}

	out, err := sonic.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// buildDescriptor assembles a descriptor from flags. A non-empty expr selects
// the expr kind unless another kind was requested explicitly.
func buildDescriptor(kind, expr string, kvs []string, kindSet bool) (task.Descriptor, error) {
	var desc task.Descriptor
	switch {
	case expr != "" && (!kindSet || kind == task.KindExpr):
		desc = task.Expression(expr)
	case expr != "":
		return desc, fmt.Errorf("--expr only applies to --kind %s", task.KindExpr)
	default:
		desc = task.Named(kind)
	}

	for _, kv := range kvs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return desc, fmt.Errorf("invalid --args %q, expected key=value", kv)
		}
		desc = desc.WithArg(key, parseValue(value))
	}

	if err := desc.Validate(); err != nil {
		return desc, err
	}
	return desc, nil
}

// parseValue reads s as an int64, then a float64, then keeps it as a string.
func parseValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}
