package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ibam/learnsync/core"
	"github.com/ibam/learnsync/recovery"
	logsvc "github.com/ibam/learnsync/services/logger"
	"github.com/ibam/learnsync/services/progressapi"
	sqlitestore "github.com/ibam/learnsync/storage/local/sqlite"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stderr, "LEARNER : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)
	defer logger.Close()

	store, err := sqlitestore.Open(conf.Client.StorePath)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening local store: %v", err), err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing local store: %v", err), err)
		}
	}()

	svc, err := recovery.New(recovery.Options{
		Store:         store,
		Client:        progressapi.NewClient(conf),
		Logger:        logger,
		MaxRetries:    conf.Client.MaxRetries,
		FlushInterval: conf.Client.FlushInterval,
		PingInterval:  conf.Client.PingInterval,
		Offline:       true,
	})
	if err != nil {
		logger.Fatal(fmt.Sprintf("starting recovery: %v", err), err)
	}
	defer svc.Destroy()

	sh := &shell{svc: svc, out: os.Stdout}
	svc.On(recovery.EventNotification, sh.printNotification)

	ctx := context.Background()
	svc.CheckNetwork(ctx)
	svc.RecoverSession(ctx)
	svc.Start()

	// =========================================================================
	// Run until the input ends or a signal arrives

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		sh.printUsage()
		done <- sh.run(ctx, os.Stdin)
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error(fmt.Sprintf("reading commands: %v", err), err)
		}
	case sig := <-shutdown:
		logger.Info(fmt.Sprintf("%v: saving before exit", sig))
	}

	// same as leaving the page
	if !svc.Hidden(ctx) {
		logger.Warn(fmt.Sprintf("%d operation(s) left queued for the next run", svc.QueueLength()))
	}
}
