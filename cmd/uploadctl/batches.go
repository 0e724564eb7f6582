package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"example.com/uploadcore/internal/devices"
	"example.com/uploadcore/internal/store"
)

func newBatchesCmd() *cobra.Command {
	var device string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List batches committed to the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("ledger")
			if path == "" {
				return errors.New("no ledger configured: use --ledger or $UPLOADCORE_LEDGER")
			}
			l, err := store.Open(path)
			if err != nil {
				return err
			}
			defer l.Close()
			batches, err := l.Batches(cmd.Context(), device)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), batches)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDEVICE\tFAMILY\tCREATED\tRECORDS")
			for _, b := range batches {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", b.ID, b.DeviceID, b.Family, b.CreatedAt.Format(time.RFC3339), b.Records)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "only this device")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newFamiliesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "families",
		Short: "List built-in device families and their packet types",
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FAMILY\tPACKET\tDISCRIMINATOR\tLENGTH")
			for _, name := range devices.Names() {
				fam, err := devices.Lookup(name)
				if err != nil {
					return err
				}
				for _, pt := range fam.Table.Types() {
					fmt.Fprintf(tw, "%s\t%s\t0x%02X\t%d\n", name, pt.Name, pt.Discriminator, pt.Len())
				}
			}
			return tw.Flush()
		},
	}
}
