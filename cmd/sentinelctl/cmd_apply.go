package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sentineld/autocracy/internal/session"
)

// newApplyCmd builds either "apply" or "dry-run", which differ only in the
// wire command name they send (apply vs dry_run) and the word used in
// messages; targets are literal agent Common Names or @tag references, and
// an empty target list means every connected agent.
func newApplyCmd(stdout, stderr io.Writer, use string, dryRun bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [target...]",
		Short: applyShort(dryRun),
		Args:  cobra.ArbitraryArgs,
		RunE: func(_ *cobra.Command, args []string) error {
			if cmdApply(args, dryRun, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func applyShort(dryRun bool) string {
	if dryRun {
		return "Dry-run the policy for one or more targets without applying it"
	}
	return "Apply the policy for one or more targets (@tag or all if empty)"
}

func cmdApply(targets []string, dryRun bool, stdout, stderr io.Writer) int {
	sess, closeFn, err := dial(socketFlag)
	if err != nil {
		fmt.Fprintf(stderr, "sentinelctl: %v\n", err)
		return 1
	}
	defer closeFn()

	wireCmd := "apply"
	if dryRun {
		wireCmd = "dry_run"
	}

	args := make([]any, len(targets))
	for i, t := range targets {
		args[i] = t
	}

	replies, err := sess.RemoteCommand(cmdCtx(), wireCmd, args, true, 10*session.DefaultTimeout)
	if err != nil {
		fmt.Fprintf(stderr, "sentinelctl: %s: %v\n", wireCmd, err)
		return 1
	}

	var result map[string]any
	if len(replies) > 0 {
		if err := json.Unmarshal(replies[0], &result); err != nil {
			fmt.Fprintf(stderr, "sentinelctl: %s: decoding reply: %v\n", wireCmd, err)
			return 1
		}
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "sentinelctl: %s: %v\n", wireCmd, err)
		return 1
	}
	fmt.Fprintln(stdout, string(out))

	exit := 0
	for _, raw := range result {
		if entry, ok := raw.(map[string]any); ok {
			if _, failed := entry["error"]; failed {
				exit = 1
			}
		}
	}
	return exit
}
