package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"stompchat/internal/engine"
)

type (
	loginDoneMsg struct {
		nickname string
		loginID  string
		err      error
	}
	roomsLoadedMsg struct {
		rooms []engine.RoomSummary
		err   error
	}
	roomOpenedMsg struct {
		roomID string
		err    error
	}
	roomCreatedMsg struct {
		room *engine.RoomSummary
		err  error
	}
	deltaMsg       engine.Delta
	deltaClosedMsg struct{}
	engineDownMsg  struct{ err error }
	browseMsg      struct {
		path  string
		items []FileItem
		err   error
	}
	uploadDoneMsg struct {
		url string
		err error
	}
	statusTickMsg struct{}
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		// Ctrl+C always bails out, whatever the mode.
		if typedMessage.Type == tea.KeyCtrlC {
			if model.engine != nil {
				model.engine.Disconnect()
			}
			return model, tea.Quit
		}
		switch model.mode {
		case modeLogin:
			return model.updateLogin(typedMessage)
		case modePassword:
			return model.updatePassword(typedMessage)
		case modeRooms:
			return model.updateRooms(typedMessage)
		case modeNewRoom:
			return model.updateNewRoom(typedMessage)
		case modeChat:
			return model.updateChat(typedMessage)
		case modeBrowse:
			return model.updateBrowse(typedMessage)
		}

	case loginDoneMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.notice("Login failed: " + typedMessage.err.Error())
			model.mode = modeLogin
			return model, model.resetInput("login> ", "Enter your login id…")
		}
		model.nickname = typedMessage.nickname
		model.loginID = typedMessage.loginID
		model.password = ""

		eng, err := model.newEngine(model.nickname)
		if err != nil {
			model.fatal = err
			return model, tea.Quit
		}
		model.engine = eng
		model.engine.Connect()
		model.mode = modeRooms
		model.loading = true
		model.textInput.Blur()
		return model, tea.Batch(
			model.loadRoomsCmd(),
			model.waitDeltaCmd(),
			model.statusTickCmd(),
		)

	case roomsLoadedMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.notice("Could not load rooms: " + typedMessage.err.Error())
			return model, nil
		}
		model.rooms = typedMessage.rooms
		if model.selectedRoom >= len(model.rooms) {
			model.selectedRoom = 0
		}
		return model, nil

	case roomCreatedMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.notice("Could not create room: " + typedMessage.err.Error())
			return model, nil
		}
		model.loading = true
		return model, model.loadRoomsCmd()

	case roomOpenedMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.notice("History load failed: " + typedMessage.err.Error())
		}
		model.refreshConversation(typedMessage.roomID)
		return model, nil

	case deltaMsg:
		model.applyDelta(engine.Delta(typedMessage))
		return model, model.waitDeltaCmd()

	case deltaClosedMsg:
		return model, nil

	case engineDownMsg:
		model.notice("Connection problem: " + typedMessage.err.Error())
		return model, nil

	case browseMsg:
		if typedMessage.err != nil {
			model.notice("Cannot read directory: " + typedMessage.err.Error())
			model.mode = modeChat
			return model, nil
		}
		model.browsePath = typedMessage.path
		model.browseItems = typedMessage.items
		model.selectedFile = 0
		return model, nil

	case uploadDoneMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.notice("Upload failed: " + typedMessage.err.Error())
			return model, nil
		}
		return model, model.sendFileCmd(typedMessage.url)

	case statusTickMsg:
		if model.engine != nil && model.currentRoom.ID != "" {
			user, ok := model.engine.TypingUser(model.currentRoom.ID)
			if !ok {
				user = ""
			}
			model.typingUser = user
		}
		return model, model.statusTickCmd()
	}
	return model, nil
}

func (model *TUIModel) updateLogin(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEnter:
		trimmed := strings.TrimSpace(model.textInput.Value())
		if trimmed == "" {
			model.notice("Login id cannot be empty.")
			return model, nil
		}
		model.loginID = trimmed
		model.mode = modePassword
		cmd := model.resetInput("password> ", "Enter your password…")
		model.textInput.EchoMode = textinput.EchoPassword
		return model, cmd
	case tea.KeyEsc:
		return model, tea.Quit
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updatePassword(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEnter:
		model.password = model.textInput.Value()
		model.textInput.EchoMode = textinput.EchoNormal
		model.loading = true
		model.textInput.SetValue("")
		return model, model.loginCmd(model.loginID, model.password)
	case tea.KeyEsc:
		model.mode = modeLogin
		model.textInput.EchoMode = textinput.EchoNormal
		return model, model.resetInput("login> ", "Enter your login id…")
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateRooms(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "up", "k":
		if model.selectedRoom > 0 {
			model.selectedRoom--
		}
	case "down", "j":
		if model.selectedRoom < len(model.rooms)-1 {
			model.selectedRoom++
		}
	case "r":
		model.loading = true
		return model, model.loadRoomsCmd()
	case "n":
		model.mode = modeNewRoom
		return model, model.resetInput("room> ", "New room name…")
	case "q":
		if model.engine != nil {
			model.engine.Disconnect()
		}
		return model, tea.Quit
	case "enter":
		if len(model.rooms) == 0 {
			return model, nil
		}
		room := model.rooms[model.selectedRoom]
		model.currentRoom = room
		model.messages = model.messages[:0]
		model.typingUser = ""
		model.mode = modeChat
		model.loading = true
		cmd := model.resetInput("> ", "Type a message…")
		return model, tea.Batch(cmd, model.openRoomCmd(room.ID))
	}
	return model, nil
}

func (model *TUIModel) updateNewRoom(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEnter:
		name := strings.TrimSpace(model.textInput.Value())
		if name == "" {
			model.notice("Room name cannot be empty.")
			return model, nil
		}
		model.loading = true
		model.mode = modeRooms
		model.textInput.Blur()
		return model, model.createRoomCmd(name)
	case tea.KeyEsc:
		model.mode = modeRooms
		model.textInput.Blur()
		return model, nil
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateChat(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		model.engine.CloseRoom(model.currentRoom.ID)
		model.currentRoom = engine.RoomSummary{}
		model.mode = modeRooms
		model.textInput.Blur()
		model.loading = true
		return model, model.loadRoomsCmd()
	case tea.KeyEnter:
		trimmed := strings.TrimSpace(model.textInput.Value())
		if trimmed == "" {
			return model, nil
		}
		if strings.HasPrefix(trimmed, "/") {
			return model.runSlashCommand(trimmed)
		}
		model.textInput.SetValue("")
		return model, model.sendTextCmd(trimmed)
	}

	var cmd tea.Cmd
	before := model.textInput.Value()
	model.textInput, cmd = model.textInput.Update(key)
	if model.textInput.Value() != before && model.engine != nil {
		model.engine.NotifyTyping(model.currentRoom.ID)
	}
	return model, cmd
}

func (model *TUIModel) runSlashCommand(input string) (tea.Model, tea.Cmd) {
	model.textInput.SetValue("")
	switch strings.ToLower(strings.Fields(input)[0]) {
	case "/quit", "/exit":
		if model.engine != nil {
			model.engine.Disconnect()
		}
		return model, tea.Quit
	case "/leave":
		model.engine.CloseRoom(model.currentRoom.ID)
		model.currentRoom = engine.RoomSummary{}
		model.mode = modeRooms
		model.textInput.Blur()
		model.loading = true
		return model, model.loadRoomsCmd()
	case "/file", "/upload":
		model.mode = modeBrowse
		return model, model.browseCmd(getDefaultBrowsePath())
	default:
		model.notice(fmt.Sprintf("Unknown command %q", input))
		return model, nil
	}
}

func (model *TUIModel) updateBrowse(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "up", "k":
		if model.selectedFile > 0 {
			model.selectedFile--
		}
	case "down", "j":
		if model.selectedFile < len(model.browseItems)-1 {
			model.selectedFile++
		}
	case "esc":
		model.mode = modeChat
		return model, model.textInput.Focus()
	case "enter":
		if len(model.browseItems) == 0 {
			return model, nil
		}
		item := model.browseItems[model.selectedFile]
		if item.IsDir {
			return model, model.browseCmd(item.Path)
		}
		model.mode = modeChat
		model.loading = true
		return model, tea.Batch(model.textInput.Focus(), model.uploadCmd(item.Path))
	}
	return model, nil
}

// applyDelta folds one engine state change into the rendered view.
func (model *TUIModel) applyDelta(delta engine.Delta) {
	switch delta.Kind {
	case engine.DeltaHistory, engine.DeltaMessage, engine.DeltaRemove:
		if delta.RoomID == model.currentRoom.ID {
			model.refreshConversation(delta.RoomID)
		}
	case engine.DeltaRename:
		if delta.RoomID == model.currentRoom.ID {
			model.currentRoom.Name = delta.Name
		}
		for i := range model.rooms {
			if model.rooms[i].ID == delta.RoomID {
				model.rooms[i].Name = delta.Name
			}
		}
	case engine.DeltaRoomAdded:
		for _, room := range model.rooms {
			if room.ID == delta.RoomID {
				return
			}
		}
		if delta.Room != nil {
			model.rooms = append(model.rooms, *delta.Room)
		}
	case engine.DeltaRoomRemoved:
		for i := range model.rooms {
			if model.rooms[i].ID == delta.RoomID {
				model.rooms = append(model.rooms[:i], model.rooms[i+1:]...)
				break
			}
		}
		if model.selectedRoom >= len(model.rooms) && model.selectedRoom > 0 {
			model.selectedRoom--
		}
		if delta.RoomID == model.currentRoom.ID && model.mode == modeChat {
			model.notice("This room was closed.")
			model.currentRoom = engine.RoomSummary{}
			model.mode = modeRooms
		}
	case engine.DeltaTyping:
		if delta.RoomID == model.currentRoom.ID {
			if delta.Typing {
				model.typingUser = delta.Name
			} else {
				model.typingUser = ""
			}
		}
	}
}

func (model *TUIModel) refreshConversation(roomID string) {
	if model.engine == nil {
		return
	}
	conv, ok := model.engine.Snapshot(roomID)
	if !ok {
		model.messages = model.messages[:0]
		return
	}
	model.messages = conv.Messages
	if conv.Name != "" {
		model.currentRoom.Name = conv.Name
	}
}
