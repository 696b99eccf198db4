// Package serverrun exposes the shared Run entrypoint the CLI uses to start
// the relay: config, logging, snapshot store, journal, chain client and
// subscriber, reconciler, session directory and HTTP server, with graceful
// shutdown on signal.
//
// Example:
//
//	opts := serverrun.Options{Fsync: pebblestore.FsyncModeAlways, Config: config.Default()}
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, opts)
package serverrun
