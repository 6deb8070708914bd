// Package main is the entry point of the system management service.
// It runs the probe scheduler, the circuit breaker engine and the admin HTTP
// server inside one Kratos application.
package main

import (
	"flag"
	"os"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/biz"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/conf"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/data"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/server"
	zapLogger "github.com/API-Bridge/BE-SystemManagementService-sub000/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/tracing"
	"github.com/go-kratos/kratos/v2/transport/http"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "sysmgmt"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func newApp(logger log.Logger, hs *http.Server, cs *server.CronServer, notifier *data.EventNotifier, queue *biz.TaskQueue) *kratos.App {
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		// notifier first so that events of the first cycle are delivered
		kratos.Server(
			notifier,
			queue,
			cs,
			hs,
		),
	)
}

func main() {
	flag.Parse()

	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLog, err := zapLogger.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer func() { _ = zapLog.Sync() }()

	logger := zapLogger.NewKratosAdapter(zapLog)
	logger = log.With(logger,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
		"trace.id", tracing.TraceID(),
		"span.id", tracing.SpanID(),
	)

	zapLogger.NewLogHelper(logger).Startup("System management service starting",
		"log.level", bc.Log.Level,
		"log.format", bc.Log.Format,
		"probe.cycle_interval", bc.Probe.CycleInterval.String(),
		"circuit_breaker.evaluation_interval", bc.CircuitBreaker.EvaluationInterval.String(),
		"dependency_file", bc.Data.DependencyFile,
	)

	app, cleanup, err := wireApp(bc.Server, bc.Data, bc.Probe, bc.CircuitBreaker, bc.Notifier, bc.Metrics, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
