package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ibam/learnsync/recovery"
)

var errQuit = errors.New("quit")

type shell struct {
	svc *recovery.Service
	out io.Writer
}

func (sh *shell) printUsage() {
	_, _ = fmt.Fprintln(sh.out, "Commands:")
	_, _ = fmt.Fprintln(sh.out, "  start USER MODULE SESSION  - start a session")
	_, _ = fmt.Fprintln(sh.out, "  progress SECTION [JSON]    - report progress of a section")
	_, _ = fmt.Fprintln(sh.out, "  form FORM_ID JSON          - save a form draft")
	_, _ = fmt.Fprintln(sh.out, "  complete SECTION           - mark a section completed")
	_, _ = fmt.Fprintln(sh.out, "  save                       - send everything queued now")
	_, _ = fmt.Fprintln(sh.out, "  status                     - show the session and the queue")
	_, _ = fmt.Fprintln(sh.out, "  clear                      - forget the local session")
	_, _ = fmt.Fprintln(sh.out, "  quit")
}

// printNotification is registered as the notification listener.
func (sh *shell) printNotification(data interface{}) {
	if n, ok := data.(recovery.Notification); ok {
		_, _ = fmt.Fprintf(sh.out, "[%s] %s\n", n.Type, n.Message)
	}
}

// run executes the lines of in until quit or EOF.
func (sh *shell) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		err := sh.exec(ctx, scanner.Text())
		if err == errQuit {
			return nil
		}
		if err != nil {
			_, _ = fmt.Fprintf(sh.out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (sh *shell) exec(ctx context.Context, line string) error {
	cmd, rest := splitWord(strings.TrimSpace(line))
	switch cmd {
	case "":
		return nil
	case "start":
		args := strings.Fields(rest)
		if len(args) != 3 {
			return errors.New("usage: start USER MODULE SESSION")
		}
		moduleID, err := strconv.Atoi(args[1])
		if err != nil || moduleID < 1 {
			return fmt.Errorf("invalid module %q", args[1])
		}
		sessionID, err := strconv.Atoi(args[2])
		if err != nil || sessionID < 1 {
			return fmt.Errorf("invalid session %q", args[2])
		}
		return sh.svc.StartSession(ctx, args[0], moduleID, sessionID)
	case "progress":
		section, raw := splitWord(rest)
		if section == "" {
			return errors.New("usage: progress SECTION [JSON]")
		}
		data, err := parseData(raw)
		if err != nil {
			return err
		}
		return sh.svc.UpdateProgress(ctx, section, data)
	case "form":
		formID, raw := splitWord(rest)
		if formID == "" || raw == "" {
			return errors.New("usage: form FORM_ID JSON")
		}
		data, err := parseData(raw)
		if err != nil {
			return err
		}
		return sh.svc.SaveFormData(ctx, formID, data)
	case "complete":
		section := strings.TrimSpace(rest)
		if section == "" {
			return errors.New("usage: complete SECTION")
		}
		return sh.svc.CompleteSection(ctx, section)
	case "save":
		if !sh.svc.ForceSave(ctx) {
			_, _ = fmt.Fprintf(sh.out, "%d operation(s) still queued\n", sh.svc.QueueLength())
		}
		return nil
	case "status":
		sh.printStatus()
		return nil
	case "clear":
		return sh.svc.ClearSession(ctx)
	case "quit", "exit":
		return errQuit
	case "help":
		sh.printUsage()
		return nil
	default:
		sh.printUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (sh *shell) printStatus() {
	st := sh.svc.State()
	online := "offline"
	if sh.svc.IsOnline() {
		online = "online"
	}
	if st == nil {
		_, _ = fmt.Fprintf(sh.out, "no session (%s)\n", online)
	} else {
		_, _ = fmt.Fprintf(sh.out, "user %s, module %d, session %d, section %s (%s)\n",
			st.UserID, st.ModuleID, st.SessionID, st.CurrentSection, online)
		_, _ = fmt.Fprintf(sh.out, "last saved %s, pending changes: %t\n",
			st.LastSaved.Local().Format(time.RFC3339), st.PendingChanges)
	}
	_, _ = fmt.Fprintf(sh.out, "queued: %d, dead letters: %d\n", sh.svc.QueueLength(), len(sh.svc.DeadLetters()))
	for _, op := range sh.svc.Queue() {
		_, _ = fmt.Fprintf(sh.out, "  %s %s retries=%d %s\n", op.ID, op.Type, op.RetryCount, op.LastError)
	}
}

func splitWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}

func parseData(raw string) (recovery.Data, error) {
	data := recovery.Data{}
	if raw == "" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %v", err)
	}
	return data, nil
}
