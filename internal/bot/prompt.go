package bot

import (
	"fmt"
	"strings"
	"time"
)

// PromptConfig controls fallback prompt generation.
type PromptConfig struct {
	BotName  string
	Creator  string
	UserName string
	Persona  string // replaces the built-in persona line when set
	Platform string
	ChatType string
	Tools    []ToolInfo
	Now      time.Time
}

// BuildSystemPrompt constructs the system prompt for the fallback call.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	if cfg.Persona != "" {
		b.WriteString(cfg.Persona)
	} else {
		fmt.Fprintf(&b, "Kamu adalah %s AI buatan %s. Kamu sedang mengobrol dengan %q. ", cfg.BotName, cfg.Creator, cfg.UserName)
		b.WriteString("Jawablah semua pertanyaan user dengan santai, singkat, dan jangan terlalu formal.")
	}
	b.WriteString("\n\n")

	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	fmt.Fprintf(&b, "Tanggal: %s\n", now.Format("2006-01-02"))
	if cfg.Platform != "" {
		fmt.Fprintf(&b, "Platform: %s\n", cfg.Platform)
	}
	if cfg.ChatType != "" {
		fmt.Fprintf(&b, "Jenis chat: %s\n", cfg.ChatType)
	}

	b.WriteString("\nTOOLS:\n")
	for _, t := range cfg.Tools {
		fmt.Fprintf(&b, "%s: %s\n", t.Name, t.Description)
	}

	b.WriteString("\nInstruksi: Gunakan tools di atas untuk membantu menjawab pertanyaan user jika diperlukan.\n")
	b.WriteString("Jika pertanyaan user bisa dijawab tanpa tools, jawab secara langsung.\n")
	b.WriteString("Jika user meminta aksi seperti 'kick' atau 'ping', sarankan penggunaan tool yang relevan.\n")

	return b.String()
}

// UserPrompt wraps the raw message text for the fallback call.
func UserPrompt(text string) string {
	return "Pesan User: " + text
}
