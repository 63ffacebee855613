package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/bellabot/bella/internal/channel/web"
	"github.com/bellabot/bella/internal/domain"
	"github.com/bellabot/bella/internal/plugin"
	"github.com/bellabot/bella/internal/store"
	"github.com/bellabot/bella/internal/version"
	"github.com/gorilla/mux"
)

const maxRequestBody = 1 << 20

// routes builds the HTTP route table. Literal plugin paths are registered
// before /plugins/{id} so they are not taken for ids.
func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	p := r.PathPrefix("/plugins").Subrouter()
	p.HandleFunc("", s.handlePluginList).Methods("GET")
	p.HandleFunc("/catalog", s.handleCatalog).Methods("GET")
	p.HandleFunc("/catalog.llm", s.handleCatalogLLM).Methods("GET")
	p.HandleFunc("/test", s.handlePluginTest).Methods("POST")
	p.HandleFunc("/{id}", s.handlePluginInfo).Methods("GET")
	p.HandleFunc("/{id}/enable", s.handlePluginEnable).Methods("PUT")
	p.HandleFunc("/{id}/disable", s.handlePluginDisable).Methods("PUT")
	p.HandleFunc("/{id}/reload", s.handlePluginReload).Methods("POST")

	r.HandleFunc("/tools", s.handleToolList).Methods("GET")
	r.HandleFunc("/tools/{name}", s.handleToolCall).Methods("POST")

	r.HandleFunc("/chats", s.handleChats).Methods("GET")
	r.HandleFunc("/chat-history/{chatId}", s.handleChatHistory).Methods("GET")

	r.HandleFunc("/whatsapp/webhook", s.handleWhatsAppWebhook).Methods("GET", "POST")
	r.HandleFunc("/whatsapp/status", s.handleWhatsAppStatus).Methods("GET")

	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)
	return r
}

func (s *Server) health() HealthResponse {
	h := HealthResponse{
		Status:  "ok",
		Version: version.Version,
		Plugins: s.bot.Registry().Count(),
		Tools:   s.bot.Tools().Len(),
		Clients: s.clients.Count(),
	}
	if !s.startedAt.IsZero() {
		h.Uptime = time.Since(s.startedAt).Round(time.Second).String()
	}
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health())
}

// PluginSummary is one row of the plugin listing: the scanned index entry
// plus whether the plugin is loaded.
type PluginSummary struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Enabled bool        `json:"enabled"`
	Active  bool        `json:"active"`
	Path    string      `json:"path"`
	Kind    plugin.Kind `json:"type"`
}

// pluginSummaries merges the persisted index with the active state of
// registered plugins. A missing index lists nothing.
func (s *Server) pluginSummaries() ([]PluginSummary, error) {
	reg := s.bot.Registry()
	idx, err := reg.Indexed()
	if errors.Is(err, fs.ErrNotExist) {
		return []PluginSummary{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]PluginSummary, 0, len(idx.Plugins))
	for _, e := range idx.Plugins {
		sum := PluginSummary{
			ID:      e.ID,
			Name:    e.Name,
			Version: e.Version,
			Enabled: e.Enabled,
			Path:    e.Path,
			Kind:    e.Kind,
		}
		if rec, ok := reg.Get(e.ID); ok {
			sum.Active = rec.Active
			sum.Enabled = rec.Manifest.Enabled
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *Server) handlePluginList(w http.ResponseWriter, r *http.Request) {
	plugins, err := s.pluginSummaries()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list plugins: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  true,
		"plugins": plugins,
		"total":   len(plugins),
	})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             true,
		"catalog":            s.bot.Registry().Catalog(),
		"available_commands": nonNil(s.bot.AvailableCommands()),
		"available_tools":    nonNil(s.bot.AvailableTools()),
	})
}

func (s *Server) handleCatalogLLM(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bot.Registry().CompactCatalog())
}

type moduleState struct {
	Loaded   bool     `json:"loaded"`
	Commands []string `json:"commands"`
	Tools    []string `json:"tools"`
}

// PluginDetail is the record of one plugin as served by GET /plugins/{id}.
type PluginDetail struct {
	plugin.Record
	Module             moduleState `json:"module"`
	DependencyProblems []string    `json:"dependencyProblems,omitempty"`
}

func (s *Server) handlePluginInfo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	reg := s.bot.Registry()

	rec, ok := reg.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Plugin not found")
		return
	}

	detail := PluginDetail{
		Record:             rec,
		Module:             moduleState{Loaded: rec.Module != nil, Commands: []string{}, Tools: []string{}},
		DependencyProblems: reg.DependencyProblems(id),
	}
	if rec.Module != nil {
		detail.Module.Commands = nonNil(rec.Module.Commands())
		detail.Module.Tools = nonNil(rec.Module.ToolNames())
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "plugin": detail})
}

func (s *Server) handlePluginEnable(w http.ResponseWriter, r *http.Request) {
	s.changePlugin(w, r, "enable", "enabled", s.bot.EnablePlugin)
}

func (s *Server) handlePluginDisable(w http.ResponseWriter, r *http.Request) {
	s.changePlugin(w, r, "disable", "disabled", s.bot.DisablePlugin)
}

func (s *Server) handlePluginReload(w http.ResponseWriter, r *http.Request) {
	s.changePlugin(w, r, "reload", "reloaded", s.bot.ReloadPlugin)
}

func (s *Server) changePlugin(w http.ResponseWriter, r *http.Request, verb, done string, fn func(context.Context, string) error) {
	id := mux.Vars(r)["id"]
	err := fn(r.Context(), id)
	switch {
	case errors.Is(err, plugin.ErrPluginNotFound):
		writeError(w, http.StatusNotFound, "Plugin not found")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to %s plugin: %v", verb, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  true,
		"message": fmt.Sprintf("Plugin %s %s successfully", id, done),
	})
}

type pluginTestRequest struct {
	Text    string `json:"text"`
	Nama    string `json:"nama"`
	Session string `json:"session"`
}

func (s *Server) handlePluginTest(w http.ResponseWriter, r *http.Request) {
	var req pluginTestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusOK, map[string]any{"status": false, "message": "Text message required"})
		return
	}
	if req.Nama == "" {
		req.Nama = "TestUser"
	}
	if req.Session == "" {
		req.Session = "test"
	}

	msg := web.FormatMessage(web.Message{Content: req.Text, Nama: req.Nama, Session: req.Session})
	responses, err := s.process(r.Context(), msg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Plugin test failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             true,
		"message":            "Plugin processing completed",
		"responses":          nonNil(responses),
		"available_commands": nonNil(s.bot.AvailableCommands()),
	})
}

// process dispatches a web message through the router when there is one,
// delivering replies to sockets joined to the chat.
func (s *Server) process(ctx context.Context, msg domain.InboundMessage) ([]domain.Response, error) {
	var ch domain.Channel
	if s.web != nil {
		ch = s.web
	}
	if s.router != nil {
		return s.router.HandleInbound(ctx, msg, ch)
	}
	return s.bot.ProcessMessage(ctx, msg, ch)
}

func (s *Server) handleToolList(w http.ResponseWriter, r *http.Request) {
	tools := nonNil(s.bot.AvailableTools())
	writeJSON(w, http.StatusOK, map[string]any{
		"status": true,
		"tools":  tools,
		"total":  len(tools),
	})
}

type toolCallRequest struct {
	Input   map[string]any `json:"input"`
	Nama    string         `json:"nama"`
	Session string         `json:"session"`
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req toolCallRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Nama == "" {
		req.Nama = "ApiUser"
	}
	if req.Session == "" {
		req.Session = "api"
	}

	result, err := s.callTool(r.Context(), name, req.Input, req.Nama, req.Session)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Tool execution failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    true,
		"tool":      name,
		"result":    result,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// callTool runs a tool outside any chat, as sender nama in chat session.
func (s *Server) callTool(ctx context.Context, name string, input map[string]any, nama, session string) (any, error) {
	mc := s.bot.NewContext(domain.InboundMessage{
		Platform: "api",
		ChatID:   session,
		Sender:   domain.Sender{ID: nama, Name: nama},
	}, nil)
	return s.bot.CallTool(ctx, name, input, mc)
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "Chat history not available")
		return
	}
	chats, err := s.history.Chats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list chats: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "data": chats})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "Chat history not available")
		return
	}
	chatID := mux.Vars(r)["chatId"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	chat, err := s.history.Chat(r.Context(), chatID)
	if errors.Is(err, store.ErrChatNotFound) {
		writeError(w, http.StatusNotFound, "Chat tidak ditemukan")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read chat: "+err.Error())
		return
	}
	msgs, err := s.history.Messages(r.Context(), chatID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read chat: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "chat": chat, "data": msgs})
}

func (s *Server) handleWhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	if s.whatsapp == nil {
		writeError(w, http.StatusNotFound, "WhatsApp channel not configured")
		return
	}
	s.whatsapp.ServeHTTP(w, r)
}

func (s *Server) handleWhatsAppStatus(w http.ResponseWriter, r *http.Request) {
	if s.whatsapp == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": true, "enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     true,
		"enabled":    true,
		"connection": s.whatsapp.Status(),
		"phone":      s.whatsapp.PhoneNumber(),
	})
}

// decodeBody decodes a JSON request body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
