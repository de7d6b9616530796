package cli

import (
	"fmt"
	"regexp"
	"strings"

	"agri-assist-go/internal/engine"
	"agri-assist-go/internal/model"

	"github.com/charmbracelet/lipgloss"
)

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	linkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")).
			Underline(true)

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

// 巴基斯坦手机号，例如 +92 300 1234567
var phonePattern = regexp.MustCompile(`\+92\s?\d{3}\s?\d{7}`)

const maxSidebarTitleRunes = 30

// LinkPhones 在手机号后附上 WhatsApp 链接。
func LinkPhones(text string) string {
	return phonePattern.ReplaceAllStringFunc(text, func(phone string) string {
		digits := strings.TrimPrefix(strings.Join(strings.Fields(phone), ""), "+")
		return phone + " " + linkStyle.Render("https://wa.me/"+digits)
	})
}

// SidebarTitle 截断过长的对话标题。
func SidebarTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= maxSidebarTitleRunes {
		return title
	}
	return string(runes[:maxSidebarTitleRunes]) + "..."
}

// RenderMessage 渲染单条消息。
func RenderMessage(m model.Message) string {
	var b strings.Builder
	if m.Role == model.RoleUser {
		b.WriteString(userStyle.Render("You"))
	} else {
		b.WriteString(assistantStyle.Render("Assistant"))
	}
	if m.ID.IsTemp() {
		b.WriteString(" " + pendingStyle.Render("(sending...)"))
	}
	if m.ImageCount > 0 {
		b.WriteString(" " + infoStyle.Render(fmt.Sprintf("[%d image(s)]", m.ImageCount)))
	}
	if m.Role != model.RoleUser && !m.ID.IsTemp() {
		b.WriteString(" " + idStyle.Render("#"+m.ID.String()))
	}
	b.WriteString("\n")
	b.WriteString(LinkPhones(m.Content))
	return b.String()
}

// RenderTranscript 渲染当前对话的全部消息。
func RenderTranscript(st engine.State) string {
	if st.ConversationLoading {
		return pendingStyle.Render("Loading conversation...")
	}
	if len(st.Messages) == 0 {
		return infoStyle.Render("No messages yet. Ask about your crops, soil or weather.")
	}
	parts := make([]string, len(st.Messages))
	for i, m := range st.Messages {
		parts[i] = RenderMessage(m)
	}
	return strings.Join(parts, "\n\n")
}

// RenderSidebar 渲染对话列表，当前对话高亮显示。
func RenderSidebar(st engine.State) string {
	if len(st.Conversations) == 0 {
		return infoStyle.Render("No conversations yet.")
	}
	var b strings.Builder
	for i, c := range st.Conversations {
		if i > 0 {
			b.WriteString("\n")
		}
		line := fmt.Sprintf("%s  %s", idStyle.Render(fmt.Sprintf("%-8s", c.ID)), SidebarTitle(c.Title))
		if c.ID == st.CurrentConversation {
			line = activeStyle.Render("> ") + line
		} else {
			line = "  " + line
		}
		b.WriteString(line)
	}
	return b.String()
}

// RenderError 渲染错误信息。
func RenderError(err error) string {
	return errorStyle.Render("Error: " + err.Error())
}
