package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sentineld/autocracy/internal/session"
)

func newOnlineCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "online",
		Short: "List currently connected agent Common Names",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if cmdOnline(stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func cmdOnline(stdout, stderr io.Writer) int {
	sess, closeFn, err := dial(socketFlag)
	if err != nil {
		fmt.Fprintf(stderr, "sentinelctl: %v\n", err)
		return 1
	}
	defer closeFn()

	replies, err := sess.RemoteCommand(cmdCtx(), "online", nil, true, session.DefaultTimeout)
	if err != nil {
		fmt.Fprintf(stderr, "sentinelctl: online: %v\n", err)
		return 1
	}

	var names []string
	if len(replies) > 0 {
		if err := json.Unmarshal(replies[0], &names); err != nil {
			fmt.Fprintf(stderr, "sentinelctl: online: decoding reply: %v\n", err)
			return 1
		}
	}
	for _, n := range names {
		fmt.Fprintln(stdout, n)
	}
	return 0
}
