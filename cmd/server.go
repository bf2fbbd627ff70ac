package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/draftsync/draftsync/internal/bootstrap"
	"github.com/draftsync/draftsync/internal/conf"
	"github.com/draftsync/draftsync/pkg/utils"
	"github.com/draftsync/draftsync/server"
)

var ServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the draftsync service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		bootstrap.InitLog(cfg.Log)

		components, err := bootstrap.InitComponents(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		components.Runner.Start(ctx)

		gin.SetMode(gin.ReleaseMode)
		engine := gin.New()
		engine.Use(gin.Recovery())
		server.Init(engine, server.Deps{
			Registry: components.Registry,
			Runner:   components.Runner,
			Groups:   components.Groups,
			Mux:      components.Mux,
		})

		addr := fmt.Sprintf("%s:%d", cfg.Scheme.Address, cfg.Scheme.Port)
		srv := &http.Server{Addr: addr, Handler: engine}
		go func() {
			utils.Log.Infof("listening on %s", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				utils.Log.Fatalf("server failed: %+v", err)
			}
		}()

		<-ctx.Done()
		utils.Log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			utils.Log.Warnf("forced shutdown: %v", err)
		}
		components.Shutdown()
		return nil
	},
}

func init() {
	RootCmd.AddCommand(ServerCmd)
}
