package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"

	"golang.org/x/term"

	"github.com/ibam/learnsync/core/progress"
)

var (
	isTerminalFunc = term.IsTerminal // mockable

	errHelp    = errors.New("help provided")
	errAborted = errors.New("aborted")
)

type commandLine struct {
	db          *sql.DB
	progressSvc *progress.Service
	in          io.Reader
	out         io.Writer
}

func (cli *commandLine) printUsage() {
	_, _ = fmt.Fprintln(cli.out, "Usage:")
	_, _ = fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (up, up-by-one, up-to, down, down-to, redo, reset, status, version, create, fix)")
	_, _ = fmt.Fprintln(cli.out, "  resetprogress -user ID [-module N] [-session N] [-yes] - delete session progress and recompute modules")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	resetCmd := flag.NewFlagSet("resetprogress", flag.ContinueOnError)
	resetCmd.SetOutput(cli.out)
	resetUser := resetCmd.String("user", "", "The learner whose progress is cleared.")
	resetModule := resetCmd.Int("module", 0, "Only clear this module.")
	resetSession := resetCmd.Int("session", 0, "Only clear this session; requires -module.")
	resetYes := resetCmd.Bool("yes", false, "Do not ask for confirmation.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "resetprogress":
		if err := resetCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetUser == "" || (*resetSession != 0 && *resetModule == 0) {
			resetCmd.Usage()
			return errHelp
		}
		filter := progress.SessionFilter{UserID: *resetUser, ModuleID: *resetModule, SessionID: *resetSession}
		if !*resetYes && !cli.confirm(filter) {
			return errAborted
		}
		return cli.resetProgress(filter)
	default:
		cli.printUsage()
		return errHelp
	}
}
