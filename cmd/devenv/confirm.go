// File: cmd/devenv/confirm.go
// Brief: Confirmation prompts for destructive commands.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/example/devenv/internal/ui"
	"github.com/spf13/cobra"
)

var errAborted = errors.New("aborted")

type approvalDecision struct {
	Approved       bool
	InteractiveTTY bool
}

func approvedFromEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEVENV_YES"))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func approvalMode(cmd *cobra.Command, approved bool) approvalDecision {
	return approvalDecision{
		Approved:       approved || approvedFromEnv(),
		InteractiveTTY: ui.IsTerminalReader(cmd.InOrStdin()) && ui.IsTerminalWriter(cmd.ErrOrStderr()),
	}
}

// confirmAction asks for the literal reply expected (case-insensitive) unless
// the decision is already approved. Without a terminal it refuses.
func confirmAction(ctx context.Context, in io.Reader, out io.Writer, dec approvalDecision, prompt, expected string) error {
	if dec.Approved {
		return nil
	}
	if !dec.InteractiveTTY {
		return errors.New("refusing to proceed without confirmation; rerun with --yes")
	}
	reply, err := readReply(ctx, in, out, prompt)
	if err != nil {
		return err
	}
	if !strings.EqualFold(reply, expected) {
		return errAborted
	}
	return nil
}

// readReply prints prompt and returns the trimmed line typed in reply. The
// read is abandoned when ctx is canceled.
func readReply(ctx context.Context, in io.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, strings.TrimSpace(prompt)+" ")

	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(in).ReadString('\n')
		done <- result{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		// The process stdin stays open for the shell.
		if rc, ok := in.(io.ReadCloser); ok && in != io.Reader(os.Stdin) {
			_ = rc.Close()
		}
		fmt.Fprintln(out)
		return "", ctx.Err()
	case res := <-done:
		if res.err != nil && !errors.Is(res.err, io.EOF) {
			return "", res.err
		}
		return strings.TrimSpace(res.line), nil
	}
}
