package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/mcpkit/mcpkit/pkg/errors"
	"github.com/mcpkit/mcpkit/pkg/logger"
	"github.com/mcpkit/mcpkit/pkg/mcp"
	"github.com/mcpkit/mcpkit/pkg/sandbox"
)

var log = logger.New("daemon")

// ServeStdio reads one newline-delimited JSON-RPC request per line
// from r, dispatches it against host, and writes the response as one
// JSON line to w. It returns when r reaches EOF or ctx is cancelled,
// mirroring the teacher's pkg/ide.LSPServer message loop but with
// MCP's line-delimited framing in place of LSP's Content-Length
// headers.
func ServeStdio(ctx context.Context, host *sandbox.Host, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req mcp.Request
		if err := json.Unmarshal(line, &req); err != nil {
			log.WithError(err).Warn("discarding malformed JSON-RPC line")
			continue
		}

		resp := mcp.Dispatch(ctx, host, req)
		if err := encoder.Encode(resp); err != nil {
			return errors.Wrap(errors.ErrIO, "failed to write response", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(errors.ErrIO, "failed reading stdio transport input", err)
	}
	return nil
}

// ServeHTTP serves one JSON-RPC request per POST to path, dispatched
// against host. It blocks until ctx is cancelled.
func ServeHTTP(ctx context.Context, addr, path string, host *sandbox.Host) error {
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		var req mcp.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed JSON-RPC request", http.StatusBadRequest)
			return
		}
		resp := mcp.Dispatch(r.Context(), host, req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(errors.ErrIO, "http transport failed", err)
	}
	return nil
}
