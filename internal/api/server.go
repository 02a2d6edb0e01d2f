package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/cumulusfn/cumulus/internal/cache"
	"github.com/cumulusfn/cumulus/internal/config"
	"github.com/cumulusfn/cumulus/internal/node"
)

func StartAPIServer(e *echo.Echo) {
	e.Use(middleware.Recover())

	// Routes
	e.POST("/invoke/:fun", InvokeFunction)
	e.POST("/create", CreateFunction)
	e.POST("/update", UpdateFunction)
	e.POST("/delete", DeleteFunction)
	e.GET("/function", GetFunctions)
	e.GET("/poll/:reqId", PollAsyncResult)
	e.GET("/status", GetServerStatus)
	// Versioning and alias routes
	e.POST("/publish/:fun", PublishVersion)
	e.GET("/versions/:fun", ListVersions)
	e.POST("/alias/:fun", CreateAlias)
	e.GET("/alias/:fun", ListAliases)
	e.DELETE("/alias/:fun/:alias", DeleteAlias)
	// Administration routes
	e.PUT("/concurrency/:fun", SetConcurrency)
	e.POST("/prewarm", Prewarm)
	e.POST("/drain/:fun", Drain)
	e.GET("/poolstatus", GetPoolStatus)
	e.GET("/executions/:fun", GetExecutions)

	// Start server
	portNumber := config.GetInt(config.API_PORT, 1323)
	e.HideBanner = true

	if err := e.Start(fmt.Sprintf(":%d", portNumber)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		e.Logger.Fatal("shutting down the server")
	}
}

func CacheSetup() {
	// setup cache space
	cache.Size = config.GetInt(config.CACHE_SIZE, 100)

	//setup cleanup interval
	d := config.GetInt(config.CACHE_CLEANUP, 60)
	interval := time.Duration(d)
	cache.CleanupInterval = interval * time.Second

	//setup default expiration time
	d = config.GetInt(config.CACHE_ITEM_EXPIRATION, 60)
	expirationInterval := time.Duration(d)
	cache.DefaultExp = expirationInterval * time.Second

	//cache first creation
	cache.GetCacheInstance()
}

// RegisterTerminationHandler drains the node and stops the servers on
// SIGINT.
func RegisterTerminationHandler(e *echo.Echo, runtimeServer *echo.Echo) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		sig := <-c
		log.Infof("Got %s signal. Terminating...", sig)

		node.StopWatchdog()
		node.ShutdownAllContainers()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if runtimeServer != nil {
			if err := runtimeServer.Shutdown(ctx); err != nil {
				log.Errorf("%v", err)
			}
		}
		if err := e.Shutdown(ctx); err != nil {
			e.Logger.Fatal(err)
		}

		os.Exit(0)
	}()
}
