package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	taskmanager "github.com/richardbennett100/mcp-task-manager-server-sub002"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/config"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/rpc"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/service"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage/mysql"
)

var rootCmd = &cobra.Command{
	Use:           "taskd",
	Short:         "Hierarchical work-item management server",
	Long:          "taskd manages a forest of work items (projects, tasks, sub-tasks) in a relational store,\nwith ordering, dependencies, soft delete, and full transactional undo/redo history.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the RPC server on a Unix socket",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		server := rpc.NewServer(service.New(store), cfg.SocketPath)
		if err := server.Start(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "taskd %s listening on %s (database %s@%s:%d/%s)\n",
			taskmanager.Version, cfg.SocketPath, cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)

		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down")
		return server.Stop()
	},
}

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance [parent-work-item-id]",
	Short: "Rewrite a sibling group's order keys onto an evenly spaced ladder",
	Long:  "Without an argument, rebalances the root project list. Heavy reordering bisects order\nkeys into very long decimals; rebalancing resets them. The rewrite is recorded in history\nand can be undone like any other action.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		var parentID *string
		if len(args) == 1 {
			parentID = &args[0]
		}
		changed, err := service.New(store).RebalanceSiblings(ctx, parentID)
		if err != nil {
			return err
		}
		fmt.Printf("rebalanced %d order key(s)\n", changed)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("taskd %s\n", taskmanager.Version)
	},
}

func openStore(ctx context.Context) (*config.Config, storage.Storage, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	store, err := mysql.New(ctx, storage.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

func main() {
	rootCmd.AddCommand(serveCmd, rebalanceCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
