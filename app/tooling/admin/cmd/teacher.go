package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardanlabs/attendance/business/core/teacher"
	"github.com/ardanlabs/attendance/business/core/teacher/stores/teacherdb"
	"github.com/ardanlabs/attendance/business/sys/database"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var teacherName string

var teacherCmd = &cobra.Command{
	Use:   "teacher",
	Short: "Manage the teachers allowed to record attendance.",
}

var teacherAddCmd = &cobra.Command{
	Use:   "add <address>",
	Short: "Add a teacher to the ledger if missing or inactive.",
	Args:  cobra.ExactArgs(1),
	RunE:  teacherAddRun,
}

var teacherVerifyCmd = &cobra.Command{
	Use:   "verify <address>",
	Short: "Show what the ledger and audit store know about a teacher.",
	Args:  cobra.ExactArgs(1),
	RunE:  teacherVerifyRun,
}

func init() {
	rootCmd.AddCommand(teacherCmd)
	teacherCmd.AddCommand(teacherAddCmd)
	teacherCmd.AddCommand(teacherVerifyCmd)
	teacherAddCmd.Flags().StringVarP(&teacherName, "name", "n", "", "Name of the teacher.")
	teacherAddCmd.MarkFlagRequired("name")
}

func teacherAddRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	mgr, _, err := session(ctx)
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	var storer teacher.Storer
	if pool, err := openDB(ctx); err == nil {
		defer pool.Close()
		storer = teacherdb.NewStore(log, pool)
	}

	core := teacher.NewCore(log, mgr, storer)

	active, err := core.EnsureExists(ctx, args[0], teacherName)
	if err != nil {
		return err
	}

	fmt.Printf("Teacher %s active: %t\n", args[0], active)

	return nil
}

func teacherVerifyRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	mgr, _, err := session(ctx)
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	core := teacher.NewCore(log, mgr, nil)

	st, err := core.Verify(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Ledger: exists[%t] active[%t] name[%s]\n", st.Exists, st.IsActive, st.Name)

	pool, err := openDB(ctx)
	if err != nil {
		fmt.Println("Audit store: unavailable:", err)
		return nil
	}
	defer pool.Close()

	t, err := teacherdb.NewStore(log, pool).QueryByAddress(ctx, common.HexToAddress(args[0]).Hex())
	switch {
	case errors.Is(err, database.ErrDBNotFound):
		fmt.Println("Audit store: not mirrored")
	case err != nil:
		fmt.Println("Audit store: unavailable:", err)
	default:
		fmt.Printf("Audit store: name[%s] active[%t] updated[%s]\n", t.Name, t.IsActive, t.DateUpdated)
	}

	return nil
}
