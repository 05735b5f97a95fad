// ABOUTME: Line-oriented interactive prompt: reads user input, asks the supervisor, prints the reply.
// ABOUTME: Understands help and exit/quit; blank lines are skipped.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/2389-research/buddy/tui"
)

// asker answers one input for a session. *workflow.Supervisor satisfies it.
type asker interface {
	Ask(ctx context.Context, sessionID, input string) string
}

// runREPL talks to the user until exit, end of input or ctx ends.
func runREPL(ctx context.Context, a asker, sessionID string, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "\n=== Welcome to Buddy AI Agent ===")
	fmt.Fprintln(out, "Type 'help' for available commands or 'exit' to quit")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "\nBuddy> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "help":
			fmt.Fprintln(out)
			fmt.Fprintln(out, tui.HelpText)
			continue
		}

		fmt.Fprintf(out, "Buddy: %s\n", a.Ask(ctx, sessionID, line))
	}
}
