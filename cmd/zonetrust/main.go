// Command zonetrust is the operator CLI of the kill-switch engine: manual
// kills and revivals, audit export, summaries, reconciliation and migrations.
package main

import (
	"context"
	"os"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/bootstrap"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/config"
)

func main() {
	root := newRootCmd(func(ctx context.Context) (*bootstrap.App, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		return bootstrap.New(ctx, cfg, bootstrap.NewLogger(cfg))
	})
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
