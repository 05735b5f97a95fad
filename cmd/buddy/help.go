// ABOUTME: Help display for the buddy CLI with grouped flags, examples, and environment status.
// ABOUTME: Provides printHelp for usage output and envStatus for credential detection.
package main

import (
	"fmt"
	"io"
	"os"
)

// printHelp writes usage, grouped flags, examples and environment status to w.
func printHelp(w io.Writer, ver string) {
	fmt.Fprintf(w, "buddy %s: a conversational assistant with durable, retried runs\n", ver)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  buddy                         Interactive prompt")
	fmt.Fprintln(w, "  buddy -tui                    Full-screen terminal chat")
	fmt.Fprintln(w, "  buddy -server                 Start the HTTP API")
	fmt.Fprintln(w, "  buddy -mcp                    Serve the tools over MCP on stdio")
	fmt.Fprintln(w, "  buddy -export-runs <file>     Write recorded runs as YAML (- for stdout)")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <file>        YAML configuration file (default: $BUDDY_CONFIG)")
	fmt.Fprintln(w, "  -session <id>         Conversation session to use (default: a fresh one)")
	fmt.Fprintln(w, "  -data-dir <dir>       Persistent state directory (default: $XDG_DATA_HOME/buddy)")
	fmt.Fprintln(w, "  -addr <host:port>     HTTP listen address, overrides server.addr")
	fmt.Fprintln(w, "  -verbose              Debug logging")
	fmt.Fprintln(w, "  -version              Print version and exit")
	fmt.Fprintln(w, "  -help                 Show this help")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  buddy -session notes")
	fmt.Fprintln(w, "  buddy -server -addr 0.0.0.0:8080")
	fmt.Fprintln(w, "  BUDDY_STORE_DRIVER=sqlite buddy -export-runs runs.yaml")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Environment:")
	fmt.Fprintf(w, "  OPENAI_API_KEY        %s\n", envStatus("OPENAI_API_KEY"))
	fmt.Fprintf(w, "  OPENAI_BASE_URL       %s\n", envStatus("OPENAI_BASE_URL"))
	fmt.Fprintf(w, "  MODEL_ID              %s\n", envStatus("MODEL_ID"))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Without an API key buddy answers in demo mode.")
	fmt.Fprintln(w, "  Any setting can be overridden with BUDDY_<SECTION>_<KEY>, e.g. BUDDY_RETRY_MAX_ATTEMPTS.")
}

// envStatus returns "[set]" if the named environment variable is non-empty,
// or "[not set]" otherwise.
func envStatus(key string) string {
	if os.Getenv(key) != "" {
		return "[set]"
	}
	return "[not set]"
}
