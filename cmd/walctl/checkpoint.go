package main

import (
	"fmt"

	"github.com/cuemby/colwal/pkg/store"
	"github.com/cuemby/colwal/pkg/wal"
	"github.com/spf13/cobra"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint <dir>",
	Short: "Run one checkpoint pass against a watermark timestamp",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpoint,
}

func init() {
	checkpointCmd.Flags().Int64("watermark", 0, "commit timestamp up to which segments may be absorbed (required)")
	_ = checkpointCmd.MarkFlagRequired("watermark")
}

func runCheckpoint(cmd *cobra.Command, args []string) error {
	dir := args[0]
	ts, _ := cmd.Flags().GetInt64("watermark")

	st := store.NewBoltColumnStore()
	if err := st.Open(dir); err != nil {
		return fmt.Errorf("open column store: %w", err)
	}
	defer st.Close()

	w, err := wal.Open(dir, st)
	if err != nil {
		return fmt.Errorf("recover %s: %w", dir, err)
	}
	defer w.Close()

	before, _, savedBefore := w.SegmentStats()
	if err := w.Checkpoint(ts); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	after, _, savedAfter := w.SegmentStats()

	fmt.Printf("segments on disk: %d -> %d\n", before, after)
	fmt.Printf("saved_log_id: %d -> %d\n", savedBefore, savedAfter)
	return nil
}
