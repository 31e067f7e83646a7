package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshdrift/meshdrift/internal/buildinfo"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "meshdrift",
		Short:         "Service-mesh topology drift detection",
		Long:          "meshdrift snapshots a service mesh's call graph, diffs consecutive snapshots, and scores the changes by risk.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newSnapshotCmd())
	root.AddCommand(newDiffCmd())
	root.AddCommand(newPolicyCmd())
	return root
}
