package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/studiowebux/echotest/internal/config"
	"github.com/studiowebux/echotest/internal/echotest"
	"github.com/studiowebux/echotest/internal/report"
)

func openHistory() (*echotest.Manager, error) {
	if err := config.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}
	dbPath := flagRunsDB
	if dbPath == "" {
		dbPath = config.DatabasePath
	}
	return echotest.NewManager(dbPath)
}

func parseRunID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", arg)
	}
	return id, nil
}

func runRunsList(cmd *cobra.Command) error {
	manager, err := openHistory()
	if err != nil {
		return err
	}
	defer manager.Close()

	runs, err := manager.ListRuns(flagRunsLimit)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), report.RenderRunList(runs))
	return nil
}

func runRunsShow(cmd *cobra.Command, arg string) error {
	id, err := parseRunID(arg)
	if err != nil {
		return err
	}
	manager, err := openHistory()
	if err != nil {
		return err
	}
	defer manager.Close()

	run, err := manager.GetRun(id)
	if err != nil {
		return err
	}
	errs, err := manager.ErrorBreakdown(id)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), report.RenderRun(run, errs))
	return nil
}

func runRunsDelete(cmd *cobra.Command, arg string) error {
	id, err := parseRunID(arg)
	if err != nil {
		return err
	}
	manager, err := openHistory()
	if err != nil {
		return err
	}
	defer manager.Close()

	if err := manager.DeleteRun(id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %d\n", id)
	return nil
}
