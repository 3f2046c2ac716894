package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"stompchat/internal/engine"
)

// pre styled colors, all from lipgloss
var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	menuBoxStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(1, 2).MarginTop(1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	typingStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("178")).Italic(true)
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	listSelectedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	listItemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

func (model *TUIModel) View() string {
	switch model.mode {
	case modeLogin, modePassword:
		return model.renderLoginView()
	case modeRooms:
		return model.renderRoomsView()
	case modeNewRoom:
		return model.renderNewRoomView()
	case modeBrowse:
		return model.renderBrowseView()
	default:
		return model.renderChatView()
	}
}

func (model *TUIModel) renderLoginView() string {
	title := appTitleStyle.Render("StompChat")
	subtitle := subtitleStyle.Render("Sign in to start chatting")

	viewSections := []string{
		lipgloss.JoinVertical(lipgloss.Left, title, subtitle),
	}

	if model.loading {
		viewSections = append(viewSections, connectingStyle.Render("Signing in…"))
	}
	if notices := model.renderNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}
	viewSections = append(viewSections, inputBoxStyle.Render(model.textInput.View()))
	viewSections = append(viewSections, menuHintStyle.Render("Enter to continue • Esc to go back"))

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderRoomsView() string {
	title := appTitleStyle.Render(fmt.Sprintf("Welcome, %s", model.nickname))
	subtitle := subtitleStyle.Render(fmt.Sprintf("Rooms: %d", len(model.rooms)))

	viewSections := []string{title, subtitle, model.renderStatusLine()}

	if model.loading {
		viewSections = append(viewSections, connectingStyle.Render("Loading rooms…"))
	}
	if notices := model.renderNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}

	var roomLines []string
	if len(model.rooms) == 0 {
		roomLines = append(roomLines, menuHintStyle.Render("No rooms yet. Press R to refresh."))
	} else {
		for idx, room := range model.rooms {
			label := room.Name
			if label == "" {
				label = room.ID
			}
			line := fmt.Sprintf("%s (%d)", label, room.UserCount)
			if room.LastMessage != "" {
				line += "  " + truncate(room.LastMessage, 32)
			}
			if idx == model.selectedRoom {
				roomLines = append(roomLines, listSelectedStyle.Render("➤ "+line))
			} else {
				roomLines = append(roomLines, listItemStyle.Render("  "+line))
			}
		}
	}
	viewSections = append(viewSections, menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, roomLines...)))
	viewSections = append(viewSections, menuHintStyle.Render("↑/↓ select • Enter open • N new room • R refresh • Q quit"))

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderNewRoomView() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		appTitleStyle.Render("Create a room"),
		menuHintStyle.Render("Enter a room name and press Enter. Esc cancels."),
		inputBoxStyle.Render(model.textInput.View()),
	)
}

func (model *TUIModel) renderChatView() string {
	roomLabel := model.currentRoom.Name
	if roomLabel == "" {
		roomLabel = model.currentRoom.ID
	}
	headerSegments := []string{
		"StompChat",
		fmt.Sprintf("Room %s", roomLabel),
		fmt.Sprintf("User %s", model.nickname),
	}
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	var messageLines []string
	for _, msg := range model.messages {
		messageLines = append(messageLines, model.renderChatMessage(msg))
	}
	if len(messageLines) == 0 {
		messageLines = append(messageLines, systemMessageStyle.Render("No messages yet. Say hi and start the conversation."))
	}

	sections := []string{header, model.renderStatusLine()}
	if model.loading {
		sections = append(sections, connectingStyle.Render("Loading history…"))
	}
	if notices := model.renderNotices(); notices != "" {
		sections = append(sections, notices)
	}
	sections = append(sections, messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, messageLines...)))
	if model.typingUser != "" {
		sections = append(sections, typingStyle.Render(model.typingUser+" is typing…"))
	}
	sections = append(sections, inputBoxStyle.Render(model.textInput.View()))
	sections = append(sections, menuHintStyle.Render("Esc back to rooms • /file upload • /quit exit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderBrowseView() string {
	header := appTitleStyle.Render("Pick a file to upload")
	pathLine := subtitleStyle.Render(model.browsePath)

	var lines []string
	if len(model.browseItems) == 0 {
		lines = append(lines, menuHintStyle.Render("Empty directory."))
	} else {
		for idx, item := range model.browseItems {
			label := item.Name
			if item.IsDir {
				label += "/"
			} else {
				label += "  " + formatFileSize(item.Size)
			}
			if idx == model.selectedFile {
				lines = append(lines, listSelectedStyle.Render("➤ "+label))
			} else {
				lines = append(lines, listItemStyle.Render("  "+label))
			}
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		pathLine,
		menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)),
		menuHintStyle.Render("↑/↓ select • Enter open/upload • Esc cancel"),
	)
}

func (model *TUIModel) renderStatusLine() string {
	if model.engine == nil {
		return connectingStyle.Render("Not connected")
	}
	stats := model.engine.Metrics()
	switch model.engine.Status() {
	case engine.StatusConnected:
		line := "Connected"
		if stats.QueuedSends > 0 {
			line += fmt.Sprintf(" • %d queued", stats.QueuedSends)
		}
		return connectedStyle.Render(line)
	case engine.StatusReconnecting:
		line := "Reconnecting…"
		if stats.Reconnects > 0 {
			line += fmt.Sprintf(" (%d reconnects)", stats.Reconnects)
		}
		return errorStyle.Render(line)
	case engine.StatusConnecting:
		return connectingStyle.Render("Connecting…")
	default:
		return errorStyle.Render("Disconnected")
	}
}

func (model *TUIModel) renderNotices() string {
	if len(model.notices) == 0 {
		return ""
	}
	styled := make([]string, len(model.notices))
	for i, notice := range model.notices {
		styled[i] = systemMessageStyle.Render(notice)
	}
	return noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, styled...))
}

// renderChatMessage renders a single log line. It stamps the timestamp, picks
// a color for the sender, and indents multi-line messages so they stay legible.
func (model *TUIModel) renderChatMessage(msg engine.Message) string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", msg.CreatedAt.Local().Format("15:04:05")))

	switch msg.Kind {
	case engine.KindJoin, engine.KindLeave, engine.KindInvite, engine.KindRename, engine.KindSystem:
		body := systemMessageStyle.Render(systemText(msg))
		return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", body)
	}

	var nameStyle lipgloss.Style
	if msg.SenderName == model.nickname {
		nameStyle = activeUserStyle
	} else {
		nameStyle = usernameStyle.Copy().Foreground(colorForUser(msg.SenderName))
	}

	name := nameStyle.Render(msg.SenderName)
	body := msg.Body
	if msg.Kind == engine.KindFile {
		body = "📎 " + body
	}
	bodyText := messageBodyStyle.Render(strings.ReplaceAll(body, "\n", "\n   "))

	return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", name, ": ", bodyText)
}

func systemText(msg engine.Message) string {
	switch msg.Kind {
	case engine.KindJoin:
		return msg.SenderName + " joined the room"
	case engine.KindLeave:
		return msg.SenderName + " left the room"
	case engine.KindInvite:
		return msg.SenderName + " was invited"
	case engine.KindRename:
		return "room renamed"
	default:
		if msg.Body != "" {
			return msg.Body
		}
		return "system event"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

// color for users
func colorForUser(name string) lipgloss.Color {
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
