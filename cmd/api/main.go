package main

// @title           Handbok.org API
// @version         1.0
// @description     Backend for digital member handbooks: GDPR, subscriptions, documents and forum.

// @contact.name   Handbok.org
// @contact.email  support@handbok.org

// @host      localhost:8888
// @BasePath  /

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/app"
)

func main() {
	os.Exit(run())
}

// run starts the API and blocks until fx sees SIGINT or SIGTERM.
func run() int {
	a := fx.New(app.Module)

	startCtx, cancelStart := context.WithTimeout(context.Background(), app.DefaultStartTimeout)
	defer cancelStart()
	if err := a.Start(startCtx); err != nil {
		// the app logger may not exist yet
		zap.NewExample().Sugar().Errorw("handbok api failed to start", "err", err)
		return 1
	}

	sig := <-a.Done()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
	defer cancelStop()
	if err := a.Stop(stopCtx); err != nil {
		zap.NewExample().Sugar().Errorw("handbok api failed to stop cleanly", "signal", sig.String(), "err", err)
		return 1
	}
	return 0
}
