package main

import (
	"fmt"
	"os"

	"pow-node/epochs"

	"github.com/spf13/cobra"
)

func main() {
	var (
		nodeUrl          string
		epochStart       int64
		epochEnd         int64
		skipPowerCapping bool
	)

	cmd := &cobra.Command{
		Use:   "epochaudit",
		Short: "Recompute epoch consensus weights and diff them against the chain",
		Long: `epochaudit loads each epoch's participant set from a node, reruns the
consensus-weight pipeline (power capping, genesis guardian enhancement,
validity refiltering) and compares the result with the validator set
the chain actually installed for that epoch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if epochEnd < epochStart {
				return fmt.Errorf("epoch-end (%d) < epoch-start (%d)", epochEnd, epochStart)
			}

			source := epochs.NewChainDataSource(nodeUrl)
			out := cmd.OutOrStdout()

			for epoch := epochStart; epoch <= epochEnd; epoch++ {
				group, err := source.LoadEpochGroup(fmt.Sprintf("%d", epoch), skipPowerCapping)
				if err != nil {
					return fmt.Errorf("load epoch %d: %w", epoch, err)
				}
				if err := epochs.AuditEpoch(source, group, out); err != nil {
					return fmt.Errorf("audit epoch %d: %w", epoch, err)
				}

				signersWeight := group.SignersTotalConsensusWeight(group.CreatedAtBlock.SignersAddresses)
				fmt.Fprintf(out, "  sealing block %d signed by %d of %d consensus weight\n",
					group.CreatedAtBlockHeight, signersWeight, group.TotalConsensusWeight())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&nodeUrl, "node-url", "http://localhost:8000", "archive node base url")
	cmd.Flags().Int64Var(&epochStart, "epoch-start", 1, "first epoch to audit")
	cmd.Flags().Int64Var(&epochEnd, "epoch-end", 1, "last epoch to audit")
	cmd.Flags().BoolVar(&skipPowerCapping, "skip-power-capping", false,
		"recompute weights without the individual power cap")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
