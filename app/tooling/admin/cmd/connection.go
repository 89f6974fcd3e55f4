package cmd

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ardanlabs/attendance/foundation/ledger"
	"github.com/spf13/cobra"
)

var connectionCmd = &cobra.Command{
	Use:   "connection",
	Short: "Check the ledger node answers and list its accounts.",
	RunE:  connectionRun,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the contract is deployed on the ledger network.",
	RunE:  verifyRun,
}

func init() {
	rootCmd.AddCommand(connectionCmd)
	rootCmd.AddCommand(verifyCmd)
}

func connectionRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	fmt.Println("Testing connection to", ledgerURL)

	networkID, err := ledger.Preflight(ctx, ledgerURL, 1, 0, nil)
	if err != nil {
		return err
	}

	mgr, s, err := session(ctx)
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	fmt.Println("Connected successfully!")
	fmt.Println("Network ID:", networkID)

	accts := s.Accounts()
	fmt.Println("Available accounts:")
	for _, a := range accts {
		fmt.Println("  ", a.Hex())
	}

	bal, err := s.Balance(ctx, accts[0])
	if err != nil {
		return err
	}
	fmt.Printf("First account balance: %s ETH\n", toEther(bal))

	return nil
}

func verifyRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	mgr, s, err := session(ctx)
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	st, err := s.Check(ctx)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	fmt.Println("Network ID:", st.NetworkID)
	fmt.Println("Contract deployed at:", st.ContractAddress)
	fmt.Println("Admin account:", s.AdminAccount().Hex())
	fmt.Println("Contract code verified")

	return nil
}

// toEther formats an amount of wei as ether.
func toEther(wei *big.Int) string {
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(1e18))
	return f.Text('f', 4)
}
