package main

import "context"

// cmdCtx is the context used for the single RemoteCommand call each
// sentinelctl invocation makes; there is no long-running work to cancel
// beyond what dial's own Serve goroutine already tears down on exit.
func cmdCtx() context.Context {
	return context.Background()
}
