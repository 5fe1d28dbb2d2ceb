package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ibam/learnsync/core/progress"
)

// confirm asks before clearing progress when stdin is a terminal.
func (cli *commandLine) confirm(filter progress.SessionFilter) bool {
	if !isTerminalFunc(int(os.Stdin.Fd())) {
		return true
	}

	scope := "all modules"
	switch {
	case filter.SessionID != 0:
		scope = fmt.Sprintf("module %d, session %d", filter.ModuleID, filter.SessionID)
	case filter.ModuleID != 0:
		scope = fmt.Sprintf("module %d", filter.ModuleID)
	}
	_, _ = fmt.Fprintf(cli.out, "Clear the progress of %s in %s? [y/N]: ", filter.UserID, scope)

	answer, _ := bufio.NewReader(cli.in).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func (cli *commandLine) resetProgress(filter progress.SessionFilter) error {
	deleted, err := cli.progressSvc.Reset(context.Background(), filter)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "%d session record(s) deleted\n", deleted)
	return nil
}
