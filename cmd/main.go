package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rafata1/commerce-engine/config"
	"github.com/rafata1/commerce-engine/kafka"
	"github.com/rafata1/commerce-engine/service/order"
	"github.com/rafata1/commerce-engine/service/product"
	"github.com/rafata1/commerce-engine/store"
)

const versionTimeFormat = "20060102150405"

func main() {
	rootCmd := &cobra.Command{Use: "commerce-engine"}
	rootCmd.AddCommand(
		createMigrationCommand(),
		migrateCommand(),
		relayCommand(),
	)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func createMigrationCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-create [name]",
		Short: "create sql migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version := time.Now().Format(versionTimeFormat)
			name := args[0]
			dir := config.DefaultConfig.MigrationDir
			up := fmt.Sprintf("%s/%s_%s.up.sql", dir, version, name)
			down := fmt.Sprintf("%s/%s_%s.down.sql", dir, version, name)

			if err := os.WriteFile(up, []byte{}, 0644); err != nil {
				return err
			}
			return os.WriteFile(down, []byte{}, 0644)
		},
	}
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply pending sql migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := config.DefaultConfig
			m, err := migrate.New(
				"file://"+conf.MigrationDir,
				"mysql://"+conf.DatabaseDSN,
			)
			if err != nil {
				return err
			}

			err = m.Up()
			if err == migrate.ErrNoChange {
				return nil
			}
			return err
		},
	}
}

func relayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "relay pending order events from the outbox to kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := config.DefaultConfig

			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := store.Connect(conf.DatabaseDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			producer, err := kafka.NewProducer(conf.KafkaHost, conf.OrderEventsTopic)
			if err != nil {
				return err
			}

			ledger := product.NewService(product.NewRepo(db), logger)
			orders := order.NewService(order.NewRepo(db), ledger, producer, logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(conf.RelayInterval)
			defer ticker.Stop()

			logger.Info("outbox relay started", zap.String("topic", conf.OrderEventsTopic))
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := orders.RelayOutbox(ctx, conf.RelayBatchSize); err != nil {
						logger.Error("relay failed", zap.Error(err))
					}
				}
			}
		},
	}
}
