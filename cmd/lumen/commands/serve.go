package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/lumen-ide/lumen/chat"
	"github.com/lumen-ide/lumen/config"
	"github.com/lumen-ide/lumen/errors"
	"github.com/lumen-ide/lumen/logger"
	"github.com/lumen-ide/lumen/server/wsevents"
)

// ServeCmd starts the extension host and its UI-facing HTTP/WebSocket
// server.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the extension host server",
	Long: `Load all installed extensions and serve the UI API.

Endpoints:
  GET  /ws                            WebSocket event stream
  GET  /api/extensions                List known extensions
  POST /api/extensions/{name}/enable  Enable and reload
  POST /api/extensions/{name}/disable Disable and unload
  POST /api/commands/{id}             Execute a registered command
  GET  /api/menus/file                File-menu entries in render order
  POST /api/chat                      Run a chat turn`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := BuildRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close(context.Background())

		if err := rt.Manager.LoadAll(ctx); err != nil {
			// a discovery failure leaves everything unloaded but the
			// server can still run; extensions load on the next rescan
			logger.Errorw("Initial extension load failed", logger.FieldError, err)
		}

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           rt.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		pterm.Success.Printfln("Lumen extension host listening on :%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "http server")
		}
		return nil
	},
}

func (r *Runtime) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", r.Hub)
	mux.HandleFunc("GET /api/extensions", r.handleListExtensions)
	mux.HandleFunc("POST /api/extensions/{name}/enable", r.handleEnable)
	mux.HandleFunc("POST /api/extensions/{name}/disable", r.handleDisable)
	mux.HandleFunc("POST /api/extensions/reload", r.handleReload)
	mux.HandleFunc("POST /api/commands/{id}", r.handleExecuteCommand)
	mux.HandleFunc("GET /api/menus/file", r.handleFileMenu)
	mux.HandleFunc("POST /api/chat", r.handleChat)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, errors.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (r *Runtime) handleListExtensions(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.Manager.LoadedExtensions())
}

func (r *Runtime) handleEnable(w http.ResponseWriter, req *http.Request) {
	if err := r.Manager.Enable(req.Context(), req.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

func (r *Runtime) handleDisable(w http.ResponseWriter, req *http.Request) {
	if err := r.Manager.Disable(req.Context(), req.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

func (r *Runtime) handleReload(w http.ResponseWriter, req *http.Request) {
	if err := r.Manager.LoadAll(req.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, r.Manager.LoadedExtensions())
}

func (r *Runtime) handleExecuteCommand(w http.ResponseWriter, req *http.Request) {
	var args json.RawMessage
	if err := json.NewDecoder(req.Body).Decode(&args); err != nil && !strings.Contains(err.Error(), "EOF") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	result, err := r.Commands.Execute(req.Context(), req.PathValue("id"), args)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (r *Runtime) handleFileMenu(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.Contrib.ListFileMenuEntries())
}

type chatTurnRequest struct {
	Participant string         `json:"participant,omitempty"`
	Prompt      string         `json:"prompt"`
	History     []chat.Message `json:"history,omitempty"`
	TabID       string         `json:"tabId,omitempty"`
}

func (r *Runtime) handleChat(w http.ResponseWriter, req *http.Request) {
	var turn chatTurnRequest
	if err := json.NewDecoder(req.Body).Decode(&turn); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if turn.Participant == "" {
		turn.Participant = "lumen"
	}

	participant, err := r.Chat.Get(turn.Participant)
	if err != nil {
		writeError(w, err)
		return
	}

	stream := newBroadcastStream(r, turn.Participant)
	_ = participant.Handler(req.Context(), chat.Request{
		Prompt:  turn.Prompt,
		History: turn.History,
		TabID:   turn.TabID,
	}, stream)

	markdown, toolCalls, streamErr := stream.result()
	if streamErr != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":     streamErr.Error(),
			"markdown":  markdown,
			"toolCalls": toolCalls,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"markdown":  markdown,
		"toolCalls": toolCalls,
	})
}

// broadcastStream mirrors a chat turn onto the WebSocket hub while
// aggregating the final answer for the HTTP response. Terminal events
// are latched; after done or error every further call is ignored.
type broadcastStream struct {
	rt          *Runtime
	participant string

	mu        sync.Mutex
	markdown  strings.Builder
	toolCalls []chat.ToolCall
	err       error
	finished  bool
}

func newBroadcastStream(rt *Runtime, participant string) *broadcastStream {
	return &broadcastStream{rt: rt, participant: participant}
}

func (s *broadcastStream) emit(kind string, payload any) {
	encoded, err := json.Marshal(map[string]any{
		"participant": s.participant,
		"kind":        kind,
		"data":        payload,
	})
	if err != nil {
		return
	}
	s.rt.Hub.Broadcast(wsevents.Event{Type: "chat", Topic: "chat:" + s.participant, Payload: encoded})
}

func (s *broadcastStream) Status(status string) {
	s.mu.Lock()
	finished := s.finished
	s.mu.Unlock()
	if finished {
		return
	}
	s.emit("status", status)
}

func (s *broadcastStream) Markdown(fragment string) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.markdown.WriteString(fragment)
	s.mu.Unlock()
	s.emit("markdown", fragment)
}

func (s *broadcastStream) ToolCall(call chat.ToolCall) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.toolCalls = append(s.toolCalls, call)
	s.mu.Unlock()
	s.emit("toolCall", call)
}

func (s *broadcastStream) Error(err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.err = err
	s.mu.Unlock()
	s.emit("error", err.Error())
}

func (s *broadcastStream) Done() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.mu.Unlock()
	s.emit("done", nil)
}

func (s *broadcastStream) result() (string, []chat.ToolCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markdown.String(), s.toolCalls, s.err
}
