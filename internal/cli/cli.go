package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Additional-Code/erpsync/internal/app"
	"github.com/Additional-Code/erpsync/internal/dto"
	"github.com/Additional-Code/erpsync/internal/schema"
	"github.com/Additional-Code/erpsync/internal/service/ordersync"
)

const stopTimeout = 10 * time.Second

// NewRootCommand builds the root erpsync CLI command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "erpsync",
		Short:         "Sync upstream sales orders into the ERP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newSchemaCmd())
	root.AddCommand(newWorkerCmd())

	return root
}

// Execute runs the erpsync CLI until it finishes or the process is signalled.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start", "run"},
		Short:   "Run the ops API together with the background sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), fx.New(app.Module))
		},
	}
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage background workers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the periodic pull and the pushed-order consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), fx.New(app.Worker))
		},
	})
	return cmd
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run order synchronization by hand",
	}

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Pull pending orders once and sync them",
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc *ordersync.Service
			opts := fx.Options(app.Core, fx.Populate(&svc))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				batch, err := svc.SyncBatch(ctx)
				if err != nil {
					return err
				}
				if err := writeJSON(cmd.OutOrStdout(), batch.Response()); err != nil {
					return err
				}
				if batch.Rejected {
					return errors.New("upstream refused the pull; marker kept")
				}
				if batch.Succeeded != batch.Total() {
					return fmt.Errorf("%d of %d orders failed", batch.Total()-batch.Succeeded, batch.Total())
				}
				return nil
			})
		},
	}

	orderCmd := &cobra.Command{
		Use:   "order",
		Short: "Sync orders from a JSON file (an order or an array of orders)",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			orders, err := readOrders(cmd.InOrStdin(), path)
			if err != nil {
				return err
			}

			var svc *ordersync.Service
			opts := fx.Options(app.Core, fx.Populate(&svc))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				results := make([]dto.SyncResultResponse, 0, len(orders))
				failed := 0
				for i := range orders {
					res := svc.SyncOne(ctx, &orders[i])
					if !res.OK() {
						failed++
					}
					results = append(results, res.Response())
				}
				if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d orders failed", failed, len(orders))
				}
				return nil
			})
		},
	}
	orderCmd.Flags().StringP("file", "f", "-", "Order JSON file, - for stdin")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the sync marker",
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc *ordersync.Service
			opts := fx.Options(app.Core, fx.Populate(&svc))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				return writeJSON(cmd.OutOrStdout(), svc.Status(ctx))
			})
		},
	}

	cmd.AddCommand(onceCmd, orderCmd, statusCmd)
	return cmd
}

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect the ERP schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Verify every table the sync needs is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			var checker *schema.Checker
			opts := fx.Options(app.Core, schema.Module, fx.Populate(&checker))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := checker.Verify(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "erp schema ok")
				return nil
			})
		},
	})
	return cmd
}

// readOrders decodes a single order or an array of orders.
func readOrders(stdin io.Reader, path string) ([]dto.Order, error) {
	var (
		raw []byte
		err error
	)
	if path == "" || path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read orders: %w", err)
	}

	var orders []dto.Order
	if err := json.Unmarshal(raw, &orders); err == nil {
		return orders, nil
	}
	var order dto.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	return []dto.Order{order}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func runUntilDone(ctx context.Context, application *fx.App) error {
	if err := application.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return application.Stop(stopCtx)
}

func runWithApp(ctx context.Context, opts fx.Option, fn func(context.Context) error) error {
	application := fx.New(opts, fx.NopLogger)
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = application.Stop(stopCtx)
	}()
	return fn(ctx)
}
