package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshdrift/meshdrift/internal/config"
	"github.com/meshdrift/meshdrift/internal/drift"
	"github.com/meshdrift/meshdrift/internal/graph"
	"github.com/meshdrift/meshdrift/internal/integration"
	"github.com/meshdrift/meshdrift/internal/ml"
	"github.com/meshdrift/meshdrift/internal/model"
	"github.com/meshdrift/meshdrift/internal/store"
	"github.com/meshdrift/meshdrift/internal/tenant"
)

func openStore(stateDir string) (*store.Store, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return store.Open(filepath.Join(stateDir, "meshdrift.db"))
}

func newSnapshotCmd() *cobra.Command {
	var (
		tenantID string
		input    string
		stateDir string
		startStr string
		endStr   string
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Build and store one snapshot from a JSONL record file",
		RunE: func(cmd *cobra.Command, args []string) error {
			end := time.Now().UTC().Truncate(time.Hour)
			start := end.Add(-time.Hour)
			var err error
			if startStr != "" {
				if start, err = time.Parse(time.RFC3339, startStr); err != nil {
					return fmt.Errorf("invalid --window-start: %w", err)
				}
			}
			if endStr != "" {
				if end, err = time.Parse(time.RFC3339, endStr); err != nil {
					return fmt.Errorf("invalid --window-end: %w", err)
				}
			}

			ctx := context.Background()
			records, err := integration.NewFileIngestor().Ingest(ctx, input)
			if err != nil {
				return err
			}
			snap, err := graph.BuildSnapshot(records, start, end)
			if err != nil {
				return err
			}

			st, err := openStore(stateDir)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Snapshots.Save(ctx, tenant.For(tenantID), snap); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved snapshot %s: %d nodes, %d edges, window %s .. %s\n",
				snap.SnapshotID, len(snap.Nodes), len(snap.Edges),
				snap.TimestampStart.Format(time.RFC3339), snap.TimestampEnd.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "default", "tenant to store the snapshot under")
	cmd.Flags().StringVar(&input, "input", "", "path to a JSONL record file (required)")
	cmd.Flags().StringVar(&stateDir, "state-dir", "/var/lib/meshdrift", "state directory holding the database")
	cmd.Flags().StringVar(&startStr, "window-start", "", "window start, RFC3339 (default: last full hour)")
	cmd.Flags().StringVar(&endStr, "window-end", "", "window end, RFC3339 (default: top of current hour)")
	cmd.MarkFlagRequired("input")
	return cmd
}

func newPolicyCmd() *cobra.Command {
	var (
		tenantID  string
		stateDir  string
		namespace string
	)

	cmd := &cobra.Command{
		Use:   "policy <event-id>",
		Short: "Render a proposed NetworkPolicy locking down a drift event's edge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(stateDir)
			if err != nil {
				return err
			}
			defer st.Close()

			card, err := st.Events.Get(context.Background(), tenant.For(tenantID), args[0])
			if err != nil {
				return err
			}

			out, err := integration.NewNetworkPolicyRenderer(namespace).Render(card)
			if err != nil {
				return err
			}
			if out == nil {
				return fmt.Errorf("event %s (%s, severity %s) does not warrant a lockdown policy", card.EventID, card.EventType, card.Severity)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "default", "tenant owning the event")
	cmd.Flags().StringVar(&stateDir, "state-dir", "/var/lib/meshdrift", "state directory holding the database")
	cmd.Flags().StringVar(&namespace, "namespace", "default", "namespace for the rendered policy")
	return cmd
}

func newDiffCmd() *cobra.Command {
	var (
		tenantID  string
		stateDir  string
		rulesFile string
	)

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Diff the latest two stored snapshots and print scored cards",
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, scoring, err := config.LoadRulesFile(rulesFile)
			if err != nil {
				return err
			}

			st, err := openStore(stateDir)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := context.Background()
			tctx := tenant.For(tenantID)
			current, baseline, ok, err := st.Snapshots.GetLatestTwo(ctx, tctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("tenant %s has fewer than two snapshots", tenantID)
			}

			events := drift.Detect(&baseline, &current)
			memory := ml.NewMemory(st.Feedback, st.Whitelist)
			scorer := ml.NewSmartScorer(rules, scoring, st.Baselines, memory)
			scored, err := scorer.ScoreBatch(ctx, tctx, events, &current)
			if err != nil {
				return err
			}

			cards := make([]model.ExplainCard, 0, len(scored))
			for _, s := range scored {
				cards = append(cards, drift.Explain(tenantID, current.TimestampStart, s.ScoredEvent))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cards)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "default", "tenant to diff")
	cmd.Flags().StringVar(&stateDir, "state-dir", "/var/lib/meshdrift", "state directory holding the database")
	cmd.Flags().StringVar(&rulesFile, "rules-file", "", "optional YAML rules/scoring override file")
	return cmd
}
