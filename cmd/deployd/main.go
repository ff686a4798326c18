package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/eagraf/habitat-deployd/internal/deployd/api"
	"github.com/eagraf/habitat-deployd/internal/deployd/config"
	"github.com/eagraf/habitat-deployd/internal/deployd/controller"
	"github.com/eagraf/habitat-deployd/internal/deployd/health"
	"github.com/eagraf/habitat-deployd/internal/deployd/logbuffer"
	"github.com/eagraf/habitat-deployd/internal/deployd/metrics"
	"github.com/eagraf/habitat-deployd/internal/deployd/pubsub"
	"github.com/eagraf/habitat-deployd/internal/deployd/store"
	"github.com/eagraf/habitat-deployd/internal/deployd/validator"
	"github.com/eagraf/habitat-deployd/internal/docker"
	"github.com/eagraf/habitat-deployd/internal/logging"
	"github.com/eagraf/habitat-deployd/internal/process"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

var log *zerolog.Logger

func main() {
	deploydConfig, err := config.NewDeploydConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %s\n", err)
		os.Exit(1)
	}
	log = logging.NewLogger(deploydConfig.LogLevel())

	collector := metrics.NewCollector()

	// every log entry and state snapshot flows through one publisher, in commit order
	publisher := pubsub.NewSimplePublisher[deploy.Event]()
	hub := pubsub.NewHub[deploy.Event](
		deploydConfig.QueueSize(),
		pubsub.WithDropHook[deploy.Event](func(string) { collector.RecordDrop() }),
		pubsub.WithObserverCountHook[deploy.Event](collector.SetObservers),
	)
	publisher.AddSubscriber(hub)
	publisher.AddSubscriber(controller.NewEventLogger(log))

	logs := logbuffer.New(publisher)
	st := store.New(publisher, store.WithTransitionHook(func(target deploy.Target, from, to deploy.State) {
		collector.RecordTransition(string(target), string(from), string(to))
	}))

	drivers := []process.Driver{process.NewExecDriver()}
	localConfig := deploydConfig.Local()
	if localConfig.Driver == docker.DriverDocker {
		dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			log.Fatal().Err(err).Msg("error creating docker client")
		}
		defer dockerClient.Close()

		if err := docker.RemoveStale(context.Background(), dockerClient); err != nil {
			log.Warn().Err(err).Msg("error removing stale containers")
		}
		drivers = append(drivers, docker.NewDriver(dockerClient))
	}
	pm := process.NewProcessManager(drivers, logs,
		process.WithGracePeriod(deploydConfig.GracePeriod()),
		process.WithExitHook(func(h *process.Handle, res process.Result) {
			collector.RecordProcessExit(string(h.Target), res.Success())
		}),
	)

	validatorOpts := []validator.Option{
		validator.WithTimeout(deploydConfig.ValidatorTimeout()),
		validator.WithRetries(deploydConfig.ValidatorRetries()),
		validator.WithObserver(collector.RecordProbe),
	}
	if probesFile := deploydConfig.ProbesFile(); probesFile != "" {
		probes, err := validator.LoadProbes(probesFile)
		if err != nil {
			log.Fatal().Err(err).Msgf("error loading probe manifest %s", probesFile)
		}
		validatorOpts = append(validatorOpts, validator.WithProbes(probes))
	}
	endpointValidator := validator.New(validatorOpts...)

	deployCtrl, err := controller.NewController(
		controller.Config{
			Local:     localConfig,
			Cloud:     deploydConfig.Cloud(),
			Preflight: deploydConfig.Preflight(),
		},
		st, logs, hub, pm, endpointValidator,
		controller.WithRecorder(collector),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("error creating deployment controller")
	}

	// ctx.Done() returns when SIGINT or SIGTERM is received or cancel() is called.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// egCtx is cancelled if any function called with eg.Go() returns an error.
	eg, egCtx := errgroup.WithContext(ctx)

	dbChecker := health.NewDatabaseChecker(deploydConfig.DatabaseURL(), deploydConfig.HealthInterval(), st)
	eg.Go(func() error {
		return dbChecker.Run(egCtx)
	})

	routes := []api.Route{
		api.NewVersionHandler(),
		api.NewMetricsRoute(collector.Handler()),
		api.NewGetStatusRoute(deployCtrl),
		api.NewGetDeploymentRoute(deployCtrl),
		api.NewStartDeploymentRoute(deployCtrl),
		api.NewStopDeploymentRoute(deployCtrl),
		api.NewRestartDeploymentRoute(deployCtrl),
		api.NewGetLogsRoute(deployCtrl),
		api.NewGetProcessesRoute(deployCtrl),
		api.NewTestEndpointsRoute(deployCtrl),
		api.NewGetValidationRoute(deployCtrl),
		api.NewEventsRoute(deployCtrl),
	}
	router := api.NewRouter(routes, log, collector)
	apiServer := api.NewAPIServer(deploydConfig.ListenAddr(), router)
	eg.Go(serveFn(apiServer, "api-server"))

	// Wait for a signal, which triggers ctx.Done(),
	// or for one of the services to error, which triggers egCtx.Done()
	select {
	case <-egCtx.Done():
		log.Err(fmt.Errorf("sub-service errored: shutting down deployd %v", egCtx.Err())).Send()
		cancel()
	case <-ctx.Done():
		log.Info().Msg("Interrupt signal received; gracefully closing deployd")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// observers hold hijacked connections that Shutdown does not wait for
	hub.Close()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Err(fmt.Errorf("error on api-server shutdown: %v", err)).Send()
	}
	if err := deployCtrl.Shutdown(shutdownCtx); err != nil {
		log.Err(fmt.Errorf("error on controller shutdown: %v", err)).Send()
	}
	if err := pm.Shutdown(shutdownCtx); err != nil {
		log.Err(fmt.Errorf("error terminating supervised processes: %v", err)).Send()
	}

	// Wait for the go-routines to finish
	if err := eg.Wait(); err != nil {
		log.Err(fmt.Errorf("received error on eg.Wait(): %v", err)).Send()
	}
}

// serveFn takes in an http.Server and returns a callback that can be run in a separate go-routine.
func serveFn(srv *http.Server, name string) func() error {
	return func() error {
		log.Info().Msgf("Starting deployd server[%s] at %s", name, srv.Addr)
		err := srv.ListenAndServe()
		if err != http.ErrServerClosed {
			log.Err(fmt.Errorf("deployd server[%s] closed with abnormal error: %v", name, err)).Send()
			return err
		}
		return nil
	}
}
