package gateway

import (
	"errors"

	"github.com/bellabot/bella/internal/channel/web"
	"github.com/bellabot/bella/internal/domain"
	"github.com/bellabot/bella/internal/store"
)

func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("chat.send", s.rpcChatSend)
	s.Handle("chat.join", s.rpcChatJoin)
	s.Handle("chat.history", s.rpcChatHistory)
	s.Handle("plugins.list", s.rpcPluginsList)
	s.Handle("tools.list", s.rpcToolsList)
	s.Handle("tools.call", s.rpcToolsCall)
	s.Handle("channels.status", s.rpcChannelsStatus)
}

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(s.health())
}

type chatSendParams struct {
	Text    string `json:"text"`
	Photo   string `json:"photo,omitempty"`
	Session string `json:"session,omitempty"`
}

// rpcChatSend hands a message to the web channel. Replies arrive as
// chat.reply events on every socket joined to the chat.
func (s *Server) rpcChatSend(rc *RequestContext) {
	if s.web == nil {
		rc.RespondError("unavailable", "web chat is disabled")
		return
	}
	var p chatSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Text == "" && p.Photo == "" {
		rc.RespondError("invalid_params", "text is required")
		return
	}
	if p.Session != "" {
		rc.Client.Join(p.Session)
	}

	msg := s.web.Receive(web.Message{
		Content: p.Text,
		Nama:    rc.Client.Name,
		Session: rc.Client.Session(),
		Photo:   p.Photo,
	})
	rc.Respond(map[string]any{"id": msg.ID, "chatId": msg.ChatID})
}

type chatJoinParams struct {
	Session string `json:"session"`
}

func (s *Server) rpcChatJoin(rc *RequestContext) {
	var p chatJoinParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Session == "" {
		rc.RespondError("invalid_params", "session is required")
		return
	}
	rc.Client.Join(p.Session)
	rc.Respond(map[string]any{"session": p.Session})
}

type chatHistoryParams struct {
	ChatID string `json:"chatId,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func (s *Server) rpcChatHistory(rc *RequestContext) {
	if s.history == nil {
		rc.RespondError("unavailable", "chat history not available")
		return
	}
	var p chatHistoryParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.ChatID == "" {
		p.ChatID = rc.Client.Session()
	}

	if _, err := s.history.Chat(rc.Ctx, p.ChatID); err != nil {
		if errors.Is(err, store.ErrChatNotFound) {
			rc.Respond(map[string]any{"chatId": p.ChatID, "messages": []store.ChatMessage{}})
			return
		}
		rc.RespondError("internal", err.Error())
		return
	}
	msgs, err := s.history.Messages(rc.Ctx, p.ChatID, p.Limit)
	if err != nil {
		rc.RespondError("internal", err.Error())
		return
	}
	rc.Respond(map[string]any{"chatId": p.ChatID, "messages": msgs})
}

func (s *Server) rpcPluginsList(rc *RequestContext) {
	plugins, err := s.pluginSummaries()
	if err != nil {
		rc.RespondError("internal", err.Error())
		return
	}
	rc.Respond(map[string]any{"plugins": plugins, "total": len(plugins)})
}

func (s *Server) rpcToolsList(rc *RequestContext) {
	tools := nonNil(s.bot.AvailableTools())
	rc.Respond(map[string]any{"tools": tools, "total": len(tools)})
}

type toolsCallParams struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

func (s *Server) rpcToolsCall(rc *RequestContext) {
	var p toolsCallParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Name == "" {
		rc.RespondError("invalid_params", "name is required")
		return
	}

	name := rc.Client.Name
	if name == "" {
		name = "Web User"
	}
	result, err := s.callTool(rc.Ctx, p.Name, p.Input, name, rc.Client.Session())
	if err != nil {
		rc.RespondError("tool_error", err.Error())
		return
	}
	rc.Respond(map[string]any{"tool": p.Name, "result": result})
}

func (s *Server) rpcChannelsStatus(rc *RequestContext) {
	statuses := []domain.ChannelStatus{}
	if s.channels != nil {
		statuses = nonNil(s.channels.Status())
	}
	rc.Respond(map[string]any{"channels": statuses})
}
