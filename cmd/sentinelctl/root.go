package main

import (
	"errors"
	"io"

	"github.com/spf13/cobra"
)

// errExit signals a non-zero exit after the command has already written its
// own error to stderr.
var errExit = errors.New("exit")

// socketFlag holds --socket, the control socket sentinelctl dials.
var socketFlag string

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "sentinelctl",
		Short:         "Admin CLI for a sentineld controller",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&socketFlag, "socket", "/var/lib/sentineld/control",
		"path to the controller's admin control socket")
	root.AddCommand(
		newOnlineCmd(stdout, stderr),
		newReportCmd(stdout, stderr),
		newApplyCmd(stdout, stderr, "apply", false),
		newApplyCmd(stdout, stderr, "dry-run", true),
		newQuitCmd(stdout, stderr),
	)
	return root
}
