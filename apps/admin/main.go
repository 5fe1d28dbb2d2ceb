package main

import (
	"fmt"
	"log"
	"os"

	"github.com/ibam/learnsync/core"
	"github.com/ibam/learnsync/core/progress"
	logsvc "github.com/ibam/learnsync/services/logger"
	"github.com/ibam/learnsync/storage/database"
	sqlxrepos "github.com/ibam/learnsync/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	// set up DB; migrations are left to the migrate command
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	// start CLI
	cli := commandLine{
		db:          db.DB,
		progressSvc: progress.NewService(sqlxrepos.NewProgressRepository(db), logger),
		in:          os.Stdin,
		out:         os.Stdout,
	}
	err = cli.run(os.Args)
	if err != nil && err != errHelp {
		logger.Error(fmt.Sprintf("error: %v", err), err)
	}
	_ = db.Close()
	logger.Close()
	if err != nil {
		os.Exit(1)
	}
}
