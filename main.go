package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"terracotta/application"
	"terracotta/application/logging"
	"terracotta/infrastructure/discovery"
	"terracotta/infrastructure/easytier"
	zaplogging "terracotta/infrastructure/logging"
	"terracotta/infrastructure/session"
	"terracotta/lobby"
	"terracotta/presentation/interactive"
	"terracotta/presentation/web"
	"terracotta/settings/app_configuration"
)

func main() {
	debug := pflag.Bool("debug", false, "short idle timeout, verbose console logging")
	webPort := pflag.Int("web-port", -1, "control-plane port on 127.0.0.1; 0 picks a free one")
	headless := pflag.Bool("headless", false, "run without the terminal menu, driven over the control plane only")
	pflag.Parse()

	configuration, confErr := app_configuration.NewManager().Configuration()
	if confErr != nil {
		fmt.Fprintf(os.Stderr, "cannot load configuration: %s\n", confErr)
		os.Exit(1)
	}
	if *debug {
		configuration.Debug = true
	}
	if *webPort >= 0 {
		configuration.WebPort = *webPort
	}

	logger, loggerErr := zaplogging.NewZapLogger(configuration.Debug)
	if loggerErr != nil {
		fmt.Fprintf(os.Stderr, "cannot build logger: %s\n", loggerErr)
		os.Exit(1)
	}

	engine, engineErr := easytier.NewEngine(logger)
	if engineErr != nil {
		logger.Printf("terracotta: %s", engineErr)
		os.Exit(1)
	}

	appCtx, appCtxCancel := context.WithCancel(context.Background())
	defer appCtxCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupt received. Shutting down...")
		appCtxCancel()
	}()

	controller := session.NewController(engine, routeLogger{logger: logger}, logger)

	newListener := func(filter func(motd string) bool) (lobby.CandidateListener, error) {
		listener, listenErr := discovery.NewListener(filter, logger)
		if listenErr != nil {
			return nil, listenErr
		}
		return listener, nil
	}

	orchestrator := lobby.NewOrchestrator(lobby.Dependencies{
		Configuration: configuration,
		Logger:        logger,
		Sessions:      sessionFactory{controller: controller},
		NewListener:   newListener,
		NewAnnouncer: func(motd string, port uint16) lobby.Announcer {
			return discovery.NewBroadcaster(motd, port, logger)
		},
		OnIdle: appCtxCancel,
	})
	orchestrator.Start()
	defer orchestrator.Close()

	controlPlane := web.NewServer(orchestrator, logger, configuration.WebPort)
	boundPort, startErr := controlPlane.Start()
	if startErr != nil {
		logger.Printf("terracotta: %s", startErr)
		os.Exit(1)
	}
	defer func() {
		_ = controlPlane.Stop(context.Background())
	}()
	logger.Printf("terracotta: control plane on 127.0.0.1:%d", boundPort)

	if *headless {
		<-appCtx.Done()
		return
	}

	prompt := interactive.NewPrompt(orchestrator, logger, newListener)
	if runErr := prompt.Run(appCtx); runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Printf("terracotta: %s", runErr)
		os.Exit(1)
	}
}

// sessionFactory adapts the session controller to the lobby contract.
type sessionFactory struct {
	controller *session.Controller
}

func (f sessionFactory) Start(document []byte) (lobby.Session, error) {
	started, startErr := f.controller.Start(document)
	if startErr != nil {
		return nil, startErr
	}
	return started, nil
}

// routeLogger is the tunnel binder for the subprocess engine: the engine
// owns the tun device itself, so binding reduces to visibility.
type routeLogger struct {
	logger logging.Logger
}

func (r routeLogger) Bind(address application.NodeAddress, proxiedCIDRs []string, _ *application.TunDescriptor) {
	r.logger.Printf("session: bound %s/%d, %d proxied routes", address.IP, address.PrefixLength, len(proxiedCIDRs))
}
