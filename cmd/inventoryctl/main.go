package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rl1809/keyvault/internal/bootstrap"
	"github.com/rl1809/keyvault/internal/config"
	"github.com/rl1809/keyvault/internal/pkg/logger"
)

const commandTimeout = 30 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:           "inventoryctl",
		Short:         "Provision and inspect license key inventory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(stockCmd())
	rootCmd.AddCommand(processedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withStorage opens the backend selected by the server's env vars.
func withStorage(cmd *cobra.Command, fn func(ctx context.Context, store bootstrap.Storage) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Init(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	store, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, store)
}

func seedCmd() *cobra.Command {
	var file string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Replace the key sequences of the products listed in a seed file",
		Long: `Seed reads a YAML file of products and replaces each product's key
sequence. Keys are allocated from the end of the sequence.

  products:
    - product_id: pro-license
      keys: [PRO-AAAA, PRO-BBBB]
    - product_id: team-license
      prefix: TEAM
      count: 500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read seed file: %w", err)
			}
			seed, err := parseSeed(data)
			if err != nil {
				return err
			}

			if dryRun {
				for _, p := range seed.Products {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d keys\n", p.ProductID, len(p.allKeys()))
				}
				return nil
			}

			return withStorage(cmd, func(ctx context.Context, store bootstrap.Storage) error {
				for _, p := range seed.Products {
					keys := p.allKeys()
					if err := store.SetInventory(ctx, p.ProductID, keys); err != nil {
						return fmt.Errorf("seed %s: %w", p.ProductID, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d keys\n", p.ProductID, len(keys))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "inventory.yaml", "Seed file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the file without writing")

	return cmd
}

func stockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stock [productID]",
		Short: "Print the number of unallocated keys of a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(ctx context.Context, store bootstrap.Storage) error {
				rec, err := store.GetInventory(ctx, args[0])
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("product %q not found", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d keys (version %d, updated %s)\n",
					rec.ProductID, len(rec.Keys), rec.Version, rec.UpdatedAt.Format(time.RFC3339))
				return nil
			})
		},
	}
}

func processedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "processed [orderID]",
		Short: "Print whether an order has been fulfilled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(ctx context.Context, store bootstrap.Storage) error {
				entry, err := store.GetLedgerEntry(ctx, args[0])
				if err != nil {
					return err
				}
				if entry == nil || !entry.Processed {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: not processed\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: processed at %s\n", args[0], entry.ProcessedAt.Format(time.RFC3339))
				return nil
			})
		},
	}
}
