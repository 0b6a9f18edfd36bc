// sentinelctl is the admin CLI for a running controller: it dials the local
// control socket and issues the same online/report/apply/dry_run/quit
// commands an operator would otherwise send by hand.
package main

import (
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
