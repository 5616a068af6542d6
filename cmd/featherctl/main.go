package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/feather-im/feather/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newClient(session.SocketPath(sessionName))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "sync":
		cmdSync(ctx, c, *jsonFlag)
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "presence":
		cmdPresence(ctx, c, *jsonFlag)
	case "chat":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: featherctl chat <user-a> <user-b>")
			os.Exit(1)
		}
		cmdChat(ctx, c, args[1], args[2], *jsonFlag)
	case "forward":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: featherctl forward <message-id> <target> [target...]")
			os.Exit(1)
		}
		cmdForward(ctx, c, args[1], args[2:], *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: featherctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  sync                          Trigger a sync cycle")
	fmt.Fprintln(os.Stderr, "  status                        Show daemon status")
	fmt.Fprintln(os.Stderr, "  presence                      List users currently online")
	fmt.Fprintln(os.Stderr, "  chat <user-a> <user-b>        Find or create a direct chat")
	fmt.Fprintln(os.Stderr, "  forward <msg-id> <target>...  Forward a message (target: chat id or user:<id>)")
}

// client speaks the daemon's admin API over its Unix socket.
type client struct {
	http *http.Client
}

func newClient(socketPath string) *client {
	return &client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *client) do(ctx context.Context, method, path string, body any) (map[string]any, error) {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://feather"+path, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot reach daemon (is featherd running?): %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 400 {
		if msg, ok := out["error"].(string); ok {
			return nil, fmt.Errorf("%s", msg)
		}
		return nil, fmt.Errorf("daemon returned %s", resp.Status)
	}
	return out, nil
}

func cmdSync(ctx context.Context, c *client, jsonOut bool) {
	out, err := c.do(ctx, http.MethodPost, "/sync", nil)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(out)
		return
	}
	fmt.Println("sync completed")
}

func cmdStatus(ctx context.Context, c *client, jsonOut bool) {
	out, err := c.do(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(out)
		return
	}
	fmt.Printf("State:   %v\n", out["state"])
	fmt.Printf("Cursor:  %v\n", out["cursor_ms"])
	if pending, ok := out["pending"].(map[string]any); ok {
		parts := make([]string, 0, len(pending))
		for table, n := range pending {
			parts = append(parts, fmt.Sprintf("%s=%v", table, n))
		}
		fmt.Printf("Pending: %s\n", strings.Join(parts, " "))
	}
	if last, ok := out["last_sync_at"].(string); ok && last != "" {
		fmt.Printf("Last:    %s\n", last)
	}
	if lastErr, ok := out["last_sync_error"].(string); ok && lastErr != "" {
		fmt.Printf("Error:   %s\n", lastErr)
	}
}

func cmdPresence(ctx context.Context, c *client, jsonOut bool) {
	out, err := c.do(ctx, http.MethodGet, "/presence", nil)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(out)
		return
	}
	online, _ := out["online"].([]any)
	if len(online) == 0 {
		fmt.Println("no users online")
		return
	}
	for _, id := range online {
		fmt.Printf("%v\n", id)
	}
}

func cmdChat(ctx context.Context, c *client, userA, userB string, jsonOut bool) {
	out, err := c.do(ctx, http.MethodPost, "/chats/direct", map[string]string{
		"user_a": userA,
		"user_b": userB,
	})
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(out)
		return
	}
	fmt.Printf("Chat:  %v\n", out["chat_identifier"])
	fmt.Printf("Group: %v\n", out["id"])
}

func cmdForward(ctx context.Context, c *client, messageID string, targets []string, jsonOut bool) {
	out, err := c.do(ctx, http.MethodPost, "/messages/forward", map[string]any{
		"message_id": messageID,
		"targets":    targets,
	})
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(out)
		return
	}
	forwarded, _ := out["forwarded"].([]any)
	fmt.Printf("forwarded to %d chat(s)\n", len(forwarded))
	for _, id := range forwarded {
		fmt.Printf("  %v\n", id)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
