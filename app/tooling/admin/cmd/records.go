package cmd

import (
	"context"
	"fmt"

	"github.com/ardanlabs/attendance/business/core/attendance"
	"github.com/ardanlabs/attendance/business/core/attendance/stores/attendancedb"
	"github.com/ardanlabs/attendance/business/sys/database"
	"github.com/spf13/cobra"
)

var (
	recordsPage    int
	recordsLimit   int
	recordsTeacher string
	recordsStudent string
	recordsSubject string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the audit store tables.",
	RunE:  migrateRun,
}

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List attendance mirrored in the audit store.",
	RunE:  recordsRun,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.Flags().IntVar(&recordsPage, "page", 1, "Page to show.")
	recordsCmd.Flags().IntVar(&recordsLimit, "limit", 10, "Records per page.")
	recordsCmd.Flags().StringVar(&recordsTeacher, "teacher", "", "Only records of this teacher address.")
	recordsCmd.Flags().StringVar(&recordsStudent, "student", "", "Only students matching this text.")
	recordsCmd.Flags().StringVar(&recordsSubject, "subject", "", "Only subjects matching this text.")
}

func migrateRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	pool, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		return err
	}

	fmt.Println("migrations complete")
	return nil
}

func recordsRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	pool, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	var filter attendance.QueryFilter
	if recordsTeacher != "" {
		filter.TeacherAddress = &recordsTeacher
	}
	if recordsStudent != "" {
		filter.StudentName = &recordsStudent
	}
	if recordsSubject != "" {
		filter.Subject = &recordsSubject
	}

	core := attendance.NewCore(attendance.Config{
		Log:    log,
		Storer: attendancedb.NewStore(log, pool),
	})

	recs, total, err := core.QueryRecords(ctx, filter, recordsPage, recordsLimit)
	if err != nil {
		return err
	}

	for _, r := range recs {
		fmt.Printf("%d  %s  %-16s %-10s present[%t]  tx[%s]  block[%s] nonce[%d]\n",
			r.BlockchainID, r.BlockchainTimestamp.Format("2006-01-02 15:04:05"), r.StudentName, r.Subject,
			r.IsPresent, r.TransactionHash, r.BlockHash, r.Nonce)
	}

	fmt.Printf("\n%d of %d records\n", len(recs), total)
	return nil
}
