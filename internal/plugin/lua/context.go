package lua

import (
	"context"

	"github.com/bellabot/bella/internal/domain"
	lua "github.com/yuin/gopher-lua"
)

// contextTable exposes a message context to Lua.
func contextTable(L *lua.LState, ctx context.Context, mc *domain.MessageContext) *lua.LTable {
	t := L.NewTable()

	t.RawSetString("text", lua.LString(mc.Text))
	t.RawSetString("args", stringList(L, mc.Args))
	t.RawSetString("timestamp", lua.LNumber(mc.Timestamp.UnixMilli()))
	t.RawSetString("mentions", stringList(L, mc.Mentions))
	t.RawSetString("chat", chatTable(L, mc.Chat))
	t.RawSetString("attachments", attachmentsTable(L, mc.Attachments))
	if q := mc.Quoted; q != nil {
		qt := L.NewTable()
		qt.RawSetString("id", lua.LString(q.ID))
		qt.RawSetString("text", lua.LString(q.Text))
		qt.RawSetString("sender", lua.LString(q.SenderID))
		t.RawSetString("quotedMessage", qt)
	}

	t.RawSetString("reply", method(L, t, func(L *lua.LState, base int) int {
		text := L.ToStringMeta(L.Get(base)).String()
		typ := L.OptString(base+1, domain.ResponseText)
		mc.ReplyAs(ctx, text, typ)
		return 0
	}))

	t.RawSetString("sendMedia", method(L, t, func(L *lua.LState, base int) int {
		opts := L.CheckTable(base)
		mc.SendMedia(ctx, domain.Media{
			URL:      lua.LVAsString(opts.RawGetString("url")),
			Caption:  lua.LVAsString(opts.RawGetString("caption")),
			FileName: lua.LVAsString(opts.RawGetString("fileName")),
			MimeType: lua.LVAsString(opts.RawGetString("mimeType")),
		})
		return 0
	}))

	t.RawSetString("removeParticipant", method(L, t, func(L *lua.LState, base int) int {
		res, err := mc.RemoveParticipant(ctx, L.CheckString(base))
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		rt := L.NewTable()
		rt.RawSetString("success", lua.LBool(res.Success))
		if res.Error != "" {
			rt.RawSetString("error", lua.LString(res.Error))
		}
		L.Push(rt)
		return 1
	}))

	t.RawSetString("getRoster", method(L, t, func(L *lua.LState, _ int) int {
		members, err := mc.Roster(ctx)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		list := L.CreateTable(len(members), 0)
		for i, m := range members {
			mt := L.NewTable()
			mt.RawSetString("id", lua.LString(m.ID))
			mt.RawSetString("name", lua.LString(m.Name))
			mt.RawSetString("isAdmin", lua.LBool(m.IsAdmin))
			list.RawSetInt(i+1, mt)
		}
		L.Push(list)
		return 1
	}))

	return t
}

func chatTable(L *lua.LState, chat domain.ChatInfo) *lua.LTable {
	sender := L.NewTable()
	sender.RawSetString("id", lua.LString(chat.Sender.ID))
	sender.RawSetString("name", lua.LString(chat.Sender.Name))
	sender.RawSetString("isAdmin", lua.LBool(chat.Sender.IsAdmin))

	t := L.NewTable()
	t.RawSetString("platform", lua.LString(chat.Platform))
	t.RawSetString("chatId", lua.LString(chat.ChatID))
	t.RawSetString("channel", lua.LString(string(chat.Channel)))
	t.RawSetString("sender", sender)
	return t
}

func attachmentsTable(L *lua.LState, atts []domain.Attachment) *lua.LTable {
	list := L.CreateTable(len(atts), 0)
	for i, a := range atts {
		at := L.NewTable()
		at.RawSetString("url", lua.LString(a.URL))
		at.RawSetString("type", lua.LString(a.Type))
		at.RawSetString("mimeType", lua.LString(a.MimeType))
		at.RawSetString("fileName", lua.LString(a.FileName))
		at.RawSetString("size", lua.LNumber(a.Size))
		list.RawSetInt(i+1, at)
	}
	return list
}
