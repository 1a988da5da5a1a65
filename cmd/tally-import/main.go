// Command tally-import loads a Chase CSV export into the configured backend.
//
//	tally-import -user alice -file statement.csv [-export]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"tally/internal/backend"
	"tally/internal/cli"
	applog "tally/internal/log"
	"tally/internal/services"
)

func main() {
	userID := flag.String("user", "", "owner of the imported transactions")
	path := flag.String("file", "", "Chase CSV export to import")
	exportAfter := flag.Bool("export", false, "refresh the spreadsheet after importing")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentImport)

	if *userID == "" || *path == "" {
		fmt.Fprintln(os.Stderr, "usage: tally-import -user <id> -file <chase.csv> [-export]")
		os.Exit(2)
	}

	if err := run(logger, *userID, *path, *exportAfter); err != nil {
		logger.Error("Import failed", applog.FieldError, err, applog.FieldUserID, *userID, "file", *path)
		os.Exit(1)
	}
}

func run(logger *applog.Logger, userID, path string, exportAfter bool) error {
	cfg := cli.LoadAndValidateConfig(logger)
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	// Imports are written directly; no queue is needed.
	backendCfg.AMQPURL = ""

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	res, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return err
	}
	defer res.Cleanup()
	if res.Type == backend.MemoryBackend {
		logger.Warn("Memory backend selected, imported transactions are discarded on exit")
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	txs := services.NewTxService(res.Repo)
	imported, err := txs.ImportChase(ctx, userID, f)
	if err != nil {
		return err
	}
	logger.Info("Chase CSV imported",
		applog.FieldUserID, userID,
		"count", imported.Imported,
		applog.FieldAmount, imported.Total)

	if !exportAfter {
		return nil
	}
	exp, err := services.NewExportService(txs, res.Sheets).Export(ctx, userID)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	logger.Info("Spreadsheet refreshed", "rows", exp.Rows, "years", exp.Years)
	return nil
}
