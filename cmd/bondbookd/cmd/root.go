// Package cmd wires the trading core into the bondbookd binary.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	"github.com/spf13/cobra"

	"github.com/openalpha/bondbook/api"
	"github.com/openalpha/bondbook/api/websocket"
	"github.com/openalpha/bondbook/engine"
	"github.com/openalpha/bondbook/ledger"
	"github.com/openalpha/bondbook/registry"
	"github.com/openalpha/bondbook/store"
	"github.com/openalpha/bondbook/store/memory"
	"github.com/openalpha/bondbook/store/postgres"
	"github.com/openalpha/bondbook/tape"
	"github.com/openalpha/bondbook/types"
)

// NewRootCmd creates the root command for bondbookd.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bondbookd",
		Short: "Bondbook - fractional bond trading core",
		Long: `Bondbook runs a continuous limit order book for fractional
bond units, with order submission and market data over HTTP and a
WebSocket event stream.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		seedDemoCmd(),
	)
	return rootCmd
}

func serveCmd() *cobra.Command {
	var (
		host         string
		port         int
		dsn          string
		useMemory    bool
		demoHoldings bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the trading core server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := log.NewLogger(os.Stderr)
			ctx := cmd.Context()

			st, err := openStore(dsn, useMemory)
			if err != nil {
				return err
			}
			defer st.Close()

			if demoHoldings {
				if err := seedDemo(ctx, st); err != nil {
					return fmt.Errorf("seeding demo data: %w", err)
				}
				logger.Info("demo instruments and holdings seeded")
			}

			hub := websocket.NewHub(logger)
			hubCtx, stopHub := context.WithCancel(context.Background())
			defer stopHub()
			go hub.Run(hubCtx)

			eng := engine.New(st, ledger.New(), registry.New(st), tape.New(0), hub, logger)
			if err := eng.LoadBooks(ctx); err != nil {
				return fmt.Errorf("rebuilding books: %w", err)
			}

			config := api.DefaultConfig()
			config.Host = host
			config.Port = port
			server := api.NewServer(config, eng, hub, logger)

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-quit:
				logger.Info("shutting down", "signal", sig.String())
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Stop(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "listen host")
	cmd.Flags().IntVar(&port, "port", 8080, "listen port")
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (required unless --memory)")
	cmd.Flags().BoolVar(&useMemory, "memory", false, "use the in-memory store (development only)")
	cmd.Flags().BoolVar(&demoHoldings, "demo-holdings", false, "seed demo instruments, users, and holdings at startup")
	return cmd
}

func seedDemoCmd() *cobra.Command {
	var (
		dsn       string
		useMemory bool
	)

	cmd := &cobra.Command{
		Use:   "seed-demo",
		Short: "Seed demo instruments, users, and holdings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(dsn, useMemory)
			if err != nil {
				return err
			}
			defer st.Close()
			return seedDemo(cmd.Context(), st)
		},
	}

	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (required unless --memory)")
	cmd.Flags().BoolVar(&useMemory, "memory", false, "use the in-memory store (development only)")
	return cmd
}

func openStore(dsn string, useMemory bool) (store.Store, error) {
	if useMemory {
		return memory.New(), nil
	}
	if dsn == "" {
		return nil, fmt.Errorf("either --dsn or --memory is required")
	}
	return postgres.Open(dsn)
}

// seedDemo writes a small fixed data set so the server is usable
// immediately. It never runs unless explicitly requested.
func seedDemo(ctx context.Context, st store.Store) error {
	instruments := []*types.Instrument{
		{
			ID:        "BOND-UST-2030",
			Name:      "US Treasury 4.25% 2030",
			ISIN:      "US91282CAV37",
			MinUnit:   math.LegacyMustNewDecFromStr("1"),
			FaceValue: math.LegacyMustNewDecFromStr("100"),
			Status:    types.InstrumentStatusActive,
		},
		{
			ID:        "BOND-CORP-2028",
			Name:      "Acme Industries 6.10% 2028",
			ISIN:      "US00790PAA12",
			MinUnit:   math.LegacyMustNewDecFromStr("0.1"),
			FaceValue: math.LegacyMustNewDecFromStr("1000"),
			Status:    types.InstrumentStatusActive,
		},
	}
	for _, inst := range instruments {
		if err := st.SaveInstrument(ctx, inst); err != nil {
			return err
		}
	}

	users := []string{"demo-alice", "demo-bob", "demo-carol"}
	for _, id := range users {
		if err := st.SaveUser(ctx, &types.User{ID: id}); err != nil {
			return err
		}
		for _, inst := range instruments {
			h := &types.Holding{
				UserID:       id,
				InstrumentID: inst.ID,
				Quantity:     math.LegacyMustNewDecFromStr("500"),
			}
			if err := st.SaveHolding(ctx, h); err != nil {
				return err
			}
		}
	}
	return nil
}
