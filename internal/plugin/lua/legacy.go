package lua

import (
	"github.com/bellabot/bella/internal/plugin"
	lua "github.com/yuin/gopher-lua"
)

func legacyMessageTable(L *lua.LState, m plugin.LegacyMessage) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("chat", lua.LString(m.Chat))
	t.RawSetString("sender", lua.LString(m.Sender))
	t.RawSetString("text", lua.LString(m.Text))
	t.RawSetString("mentionedJid", stringList(L, m.MentionedJid))
	t.RawSetString("args", stringList(L, m.Args))
	if m.Quoted != nil {
		q := L.NewTable()
		q.RawSetString("id", lua.LString(m.Quoted.ID))
		q.RawSetString("text", lua.LString(m.Quoted.Text))
		q.RawSetString("sender", lua.LString(m.Quoted.SenderID))
		t.RawSetString("quoted", q)
	}
	return t
}

func legacyOptionsTable(L *lua.LState, opts plugin.LegacyOptions) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("conn", legacyConnTable(L, opts.Conn))
	t.RawSetString("text", lua.LString(opts.Text))
	t.RawSetString("usedPrefix", lua.LString(opts.UsedPrefix))
	t.RawSetString("command", lua.LString(opts.Command))
	t.RawSetString("args", stringList(L, opts.Args))
	t.RawSetString("isOwner", lua.LBool(opts.IsOwner))
	t.RawSetString("isAdmin", lua.LBool(opts.IsAdmin))
	t.RawSetString("isPrems", lua.LBool(opts.IsPrems))
	return t
}

func legacyConnTable(L *lua.LState, conn *plugin.LegacyConn) *lua.LTable {
	t := L.NewTable()

	user := L.NewTable()
	user.RawSetString("jid", lua.LString(conn.UserJID))
	t.RawSetString("user", user)

	t.RawSetString("reply", method(L, t, func(L *lua.LState, base int) int {
		conn.Reply(L.OptString(base, ""), L.ToStringMeta(L.Get(base+1)).String())
		return 0
	}))

	t.RawSetString("sendFile", method(L, t, func(L *lua.LState, base int) int {
		conn.SendFile(
			L.OptString(base, ""),
			L.OptString(base+1, ""),
			L.OptString(base+2, ""),
			L.OptString(base+3, ""),
		)
		return 0
	}))

	t.RawSetString("groupParticipantsUpdate", method(L, t, func(L *lua.LState, base int) int {
		var participants []string
		if list, ok := L.Get(base + 1).(*lua.LTable); ok {
			n := list.Len()
			for i := 1; i <= n; i++ {
				participants = append(participants, lua.LVAsString(list.RawGetInt(i)))
			}
		}
		if err := conn.GroupParticipantsUpdate(L.OptString(base, ""), participants, L.OptString(base+2, "")); err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}))

	return t
}
