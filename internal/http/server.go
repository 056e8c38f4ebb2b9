package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelrelay/admission/internal/app"
	"github.com/modelrelay/admission/internal/config"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds in-flight request draining on shutdown.
const shutdownTimeout = 5 * time.Second

// RunServer boots the admission API and blocks until ctx is cancelled or the
// server fails.
func RunServer(ctx context.Context, cfg config.AppConfig, port int) error {
	application, errNew := app.New(ctx, cfg)
	if errNew != nil {
		return errNew
	}
	defer func() {
		if errClose := application.Close(); errClose != nil {
			log.WithError(errClose).Warn("app: close failed")
		}
	}()

	router := NewRouter(RouterDeps{
		Manager:    application.Manager,
		Registry:   application.Registry,
		Dispatcher: application.Dispatcher,
		DB:         application.DB,
		Admin:      cfg.Admin,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.WithField("addr", server.Addr).Info("admission server listening")
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return errServe
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
