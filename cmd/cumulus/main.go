package main

import (
	"os"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/cumulusfn/cumulus/internal/api"
	"github.com/cumulusfn/cumulus/internal/config"
	"github.com/cumulusfn/cumulus/internal/container"
	"github.com/cumulusfn/cumulus/internal/executor"
	"github.com/cumulusfn/cumulus/internal/function"
	"github.com/cumulusfn/cumulus/internal/metrics"
	"github.com/cumulusfn/cumulus/internal/node"
	"github.com/cumulusfn/cumulus/internal/scheduling"
)

func setupLogging() {
	level := config.GetString(config.LOG_LEVEL, "info")
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("Invalid log level %q, using info", level)
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

func main() {
	configFileName := ""
	if len(os.Args) > 1 {
		configFileName = os.Args[1]
	}
	config.ReadConfiguration(configFileName)

	setupLogging()
	api.CacheSetup()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = shortuuid.New()
	}
	node.NodeIdentifier = hostname

	go metrics.Init()

	container.InitFactory()

	execChannel := executor.NewChannel()
	go scheduling.Run(&scheduling.DefaultPolicy{}, execChannel, &function.EtcdAuditSink{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go node.WatchContainerEvents(ctx)

	runtimeServer := echo.New()
	go executor.StartRuntimeServer(runtimeServer, execChannel)

	e := echo.New()

	// Register a signal handler to cleanup things on termination
	api.RegisterTerminationHandler(e, runtimeServer)

	api.StartAPIServer(e)
}
