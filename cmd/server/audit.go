package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/wallet-ledger/wallet"
)

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Verify every wallet's balance against its ledger",
		Long: `Replays each wallet's ledger entries and compares the running total,
the entry chain and the sequence numbers with the stored wallet snapshot.
Read only; exits with an error when any wallet does not match.`,
		Args: cobra.NoArgs,
		RunE: runAudit,
	}
}

func runAudit(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	st, _, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	reports, err := wallet.NewAuditor(st).VerifyAll(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, rep := range reports {
		if rep.OK() {
			continue
		}
		failed++
		fmt.Fprintf(out, "MISMATCH wallet=%s user=%s balance=%s ledger=%s\n",
			rep.WalletID, rep.UserID, wallet.FormatMoney(rep.Balance), wallet.FormatMoney(rep.LedgerSum))
		for _, p := range rep.Problems {
			fmt.Fprintf(out, "  - %s\n", p)
		}
	}
	fmt.Fprintf(out, "audited %d wallets, %d mismatched\n", len(reports), failed)

	if failed > 0 {
		return fmt.Errorf("%d wallets failed the audit", failed)
	}
	return nil
}
