package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sentineld/autocracy/internal/session"
)

func newQuitCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "quit",
		Short: "Tell the controller to shut down",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if cmdQuit(stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func cmdQuit(stdout, stderr io.Writer) int {
	sess, closeFn, err := dial(socketFlag)
	if err != nil {
		fmt.Fprintf(stderr, "sentinelctl: %v\n", err)
		return 1
	}
	defer closeFn()

	if _, err := sess.RemoteCommand(cmdCtx(), "quit", nil, false, session.DefaultTimeout); err != nil {
		fmt.Fprintf(stderr, "sentinelctl: quit: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "quit requested")
	return 0
}
