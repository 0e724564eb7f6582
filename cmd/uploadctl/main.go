package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"example.com/uploadcore/internal/common"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "uploadctl",
		Short:         "Decode device history uploads",
		Long:          "Decode paged device history into ordered clinical records, with LZO and report helpers.",
		Version:       fmt.Sprintf("%s (built %s)", version, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("ledger", os.Getenv("UPLOADCORE_LEDGER"), "SQLite ledger path (default: $UPLOADCORE_LEDGER)")
	root.AddCommand(newDecodeCmd(), newLZOCmd(), newReportCmd(), newBatchesCmd(), newFamiliesCmd())
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		common.Warnf("load .env: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
