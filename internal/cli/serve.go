package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"fleetcore/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(app *App) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = app.Config.HTTPAddr
			}
			return app.run(cmd.Context(), func(rt *Runtime) error {
				ln, err := net.Listen("tcp", addr)
				if err != nil {
					return err
				}
				return app.Serve(cmd.Context(), ln, rt)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to FLEETCORE_HTTP_ADDR)")
	return cmd
}

// Serve runs the HTTP API on ln until ctx is cancelled, then drains
// in-flight requests.
func (a *App) Serve(ctx context.Context, ln net.Listener, rt *Runtime) error {
	gin.SetMode(gin.ReleaseMode)
	handler := httpapi.NewHandler(rt.Service, a.Log, rt.Registry)
	srv := &http.Server{
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	if a.Log != nil {
		a.Log.Info("http_listening", "addr", ln.Addr().String())
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
