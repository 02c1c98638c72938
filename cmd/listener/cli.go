package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/pool-listener/internal/config"
	"github.com/smartdevs17/pool-listener/internal/connection"
	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/internal/storage"
	"github.com/smartdevs17/pool-listener/pkg/utils"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "pool-listener",
	Short:   "Liquidity pool listener",
	Long:    `Discovers new liquidity pools that pair a target token and alerts once a pool holds enough liquidity to trade.`,
	Version: AppVersion,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListener(configFile())
	},
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pool-listener %s\n", AppVersion)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Configuration is valid!")
		fmt.Fprintf(out, "Environment: %s\n", cfg.App.Environment)
		fmt.Fprintf(out, "Node:        %s\n", cfg.Chain.NodeURL)
		fmt.Fprintf(out, "Target:      %s (%s)\n", cfg.Target.TokenAddress, cfg.Target.TokenSymbol)
		fmt.Fprintf(out, "Factory:     %s\n", cfg.Target.FactoryAddress)
		fmt.Fprintf(out, "Threshold:   %s\n", cfg.Monitor.LiquidityThreshold)
		fmt.Fprintf(out, "Database:    %s\n", cfg.Storage.Type)
		if cfg.Notifications.Enabled {
			fmt.Fprintf(out, "Channels:    %s\n", strings.Join(cfg.Notifications.Channels, ", "))
		}
		return nil
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test node and storage connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		fmt.Fprintf(out, "Testing node connection to %s...\n", cfg.Chain.NodeURL)
		conn := connection.NewConnectionManager(&cfg.Chain)
		defer conn.Close()
		if err := conn.HealthCheckWithContext(ctx); err != nil {
			return fmt.Errorf("failed to reach node: %w", err)
		}
		ledger := connection.NewPoolFactoryClient(connection.ManagerBackend(conn), common.HexToAddress(cfg.Target.FactoryAddress))
		head, err := ledger.LatestBlock(ctx)
		if err != nil {
			return fmt.Errorf("failed to read chain head: %w", err)
		}
		fmt.Fprintf(out, "✓ Node reachable, head block %d\n", head)

		fmt.Fprintf(out, "Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.Open(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		defer store.Close()
		cursor, ok, err := store.GetCursor(ctx)
		if err != nil {
			return err
		}
		if ok {
			fmt.Fprintf(out, "✓ Storage ready, cursor at block %d\n", cursor)
		} else {
			fmt.Fprintln(out, "✓ Storage ready, no cursor yet")
		}

		fmt.Fprintln(out, "\nAll connectivity tests passed! ✓")
		return nil
	},
}

var poolsCmd = &cobra.Command{
	Use:   "pools",
	Short: "List tracked pools",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := models.PoolFilter{Limit: limit}
		if state != "" {
			s := models.PoolState(state)
			if !s.Valid() {
				return fmt.Errorf("unknown state %q (want discovered or tradeable)", state)
			}
			filter.State = &s
		}

		return withStore(cmd.Context(), func(ctx context.Context, store storage.Storage) error {
			pools, err := store.ListPools(ctx, filter)
			if err != nil {
				return err
			}
			return renderPools(cmd.OutOrStdout(), pools)
		})
	},
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "List recorded notification attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, _ := cmd.Flags().GetString("pool")
		failed, _ := cmd.Flags().GetBool("failed")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := models.NotificationFilter{Limit: limit}
		if pool != "" {
			if !utils.IsValidAddress(pool) {
				return fmt.Errorf("invalid pool address %q", pool)
			}
			addr := utils.NormalizeAddress(pool)
			filter.PoolAddress = &addr
		}
		if failed {
			success := false
			filter.Success = &success
		}

		return withStore(cmd.Context(), func(ctx context.Context, store storage.Storage) error {
			records, err := store.ListNotifications(ctx, filter)
			if err != nil {
				return err
			}
			return renderNotifications(cmd.OutOrStdout(), records)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise stored pools and notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store storage.Storage) error {
			stats, err := store.GetStats(ctx)
			if err != nil {
				return err
			}
			return renderStats(cmd.OutOrStdout(), stats)
		})
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// withStore opens the configured store for a read-only command
func withStore(ctx context.Context, fn func(context.Context, storage.Storage) error) error {
	cfg, err := config.Load(configFile())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	utils.InitLogger("warn", "text", "stderr", "")

	store, err := storage.Open(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, store)
}

func renderPools(w io.Writer, pools []*models.Pool) error {
	table := tablewriter.NewWriter(w)
	table.Header("Pool", "Pair", "Fee", "Liquidity", "State", "Block", "Last Checked")
	for _, p := range pools {
		checked := "-"
		if p.LastCheckedAt != nil {
			checked = p.LastCheckedAt.Local().Format(time.DateTime)
		}
		if err := table.Append(
			p.Address,
			p.TokenB,
			utils.FormatFeeTier(p.FeeTier),
			p.CurrentLiquidity.String(),
			string(p.State),
			fmt.Sprintf("%d", p.DiscoveredAtBlock),
			checked,
		); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d pools\n", len(pools))
	return err
}

func renderNotifications(w io.Writer, records []*models.Notification) error {
	table := tablewriter.NewWriter(w)
	table.Header("Sent", "Pool", "Kind", "Channel", "OK", "Error")
	for _, n := range records {
		ok := "yes"
		if !n.Success {
			ok = "no"
		}
		if err := table.Append(
			n.SentAt.Local().Format(time.DateTime),
			n.PoolAddress,
			string(n.Kind),
			n.Channel,
			ok,
			n.Error,
		); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderStats(w io.Writer, stats *models.PoolStats) error {
	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")
	rows := [][]string{
		{"Total pools", fmt.Sprintf("%d", stats.TotalPools)},
		{"Tradeable", fmt.Sprintf("%d", stats.TradeablePools)},
		{"Awaiting liquidity", fmt.Sprintf("%d", stats.NonTradeablePools)},
		{"Notifications sent", fmt.Sprintf("%d", stats.SuccessfulNotifications)},
		{"Notifications failed", fmt.Sprintf("%d", stats.FailedNotifications)},
		{"Last processed block", fmt.Sprintf("%d", stats.LastProcessedBlock)},
	}
	for _, row := range rows {
		if err := table.Append(row[0], row[1]); err != nil {
			return err
		}
	}
	return table.Render()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Int("port", 8000, "HTTP server port")
	rootCmd.PersistentFlags().String("token", "", "target token address")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("target.token_address", rootCmd.PersistentFlags().Lookup("token"))

	poolsCmd.Flags().String("state", "", "filter by state (discovered, tradeable)")
	poolsCmd.Flags().Int("limit", 100, "maximum rows")
	notificationsCmd.Flags().String("pool", "", "filter by pool address")
	notificationsCmd.Flags().Bool("failed", false, "only failed deliveries")
	notificationsCmd.Flags().Int("limit", 100, "maximum rows")

	rootCmd.AddCommand(versionCmd, configCmd, testCmd, poolsCmd, notificationsCmd, statsCmd)
	configCmd.AddCommand(validateConfigCmd)

	rootCmd.SetErr(os.Stderr)
}
