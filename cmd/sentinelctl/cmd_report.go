package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sentineld/autocracy/internal/session"
)

func newReportCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "report <name>",
		Short: "Show the last-reported facts for one agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if cmdReport(args[0], stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func cmdReport(name string, stdout, stderr io.Writer) int {
	sess, closeFn, err := dial(socketFlag)
	if err != nil {
		fmt.Fprintf(stderr, "sentinelctl: %v\n", err)
		return 1
	}
	defer closeFn()

	replies, err := sess.RemoteCommand(cmdCtx(), "report", []any{name}, true, session.DefaultTimeout)
	if err != nil {
		fmt.Fprintf(stderr, "sentinelctl: report: %v\n", err)
		return 1
	}

	if len(replies) == 0 || string(replies[0]) == "null" {
		fmt.Fprintf(stderr, "sentinelctl: report: agent %q is not connected\n", name)
		return 1
	}

	var facts map[string]any
	if err := json.Unmarshal(replies[0], &facts); err != nil {
		fmt.Fprintf(stderr, "sentinelctl: report: decoding reply: %v\n", err)
		return 1
	}
	out, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "sentinelctl: report: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(out))
	return 0
}
