package internal

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const requestTimeout = 10 * time.Second

func (model *TUIModel) loginCmd(loginID, password string) tea.Cmd {
	apiClient := model.api
	setToken := model.setToken
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		result, err := apiClient.Login(ctx, loginID, password)
		if err != nil {
			return loginDoneMsg{err: err}
		}
		setToken(result.Token)
		nickname := result.Nickname
		if nickname == "" {
			nickname = loginID
		}
		return loginDoneMsg{nickname: nickname, loginID: result.LoginID}
	}
}

func (model *TUIModel) loadRoomsCmd() tea.Cmd {
	apiClient := model.api
	loginID := model.loginID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		rooms, err := apiClient.Rooms(ctx, loginID)
		return roomsLoadedMsg{rooms: rooms, err: err}
	}
}

func (model *TUIModel) createRoomCmd(name string) tea.Cmd {
	apiClient := model.api
	nickname := model.nickname
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		room, err := apiClient.CreateRoom(ctx, name, []string{nickname})
		return roomCreatedMsg{room: room, err: err}
	}
}

func (model *TUIModel) openRoomCmd(roomID string) tea.Cmd {
	eng := model.engine
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		err := eng.OpenRoom(ctx, roomID)
		return roomOpenedMsg{roomID: roomID, err: err}
	}
}

// waitDeltaCmd reads one state change and reschedules itself from Update, so
// the engine's delta stream drives the render loop one message at a time.
func (model *TUIModel) waitDeltaCmd() tea.Cmd {
	eng := model.engine
	return func() tea.Msg {
		delta, ok := <-eng.Deltas()
		if !ok {
			return deltaClosedMsg{}
		}
		return deltaMsg(delta)
	}
}

func (model *TUIModel) sendTextCmd(body string) tea.Cmd {
	eng := model.engine
	roomID := model.currentRoom.ID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if _, err := eng.SendText(ctx, roomID, body); err != nil {
			return engineDownMsg{err: err}
		}
		return nil
	}
}

func (model *TUIModel) sendFileCmd(fileURL string) tea.Cmd {
	eng := model.engine
	roomID := model.currentRoom.ID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if _, err := eng.SendFile(ctx, roomID, fileURL); err != nil {
			return engineDownMsg{err: err}
		}
		return nil
	}
}

func (model *TUIModel) uploadCmd(path string) tea.Cmd {
	apiClient := model.api
	roomID := model.currentRoom.ID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		url, err := apiClient.UploadFile(ctx, roomID, path)
		return uploadDoneMsg{url: url, err: err}
	}
}

func (model *TUIModel) browseCmd(path string) tea.Cmd {
	return func() tea.Msg {
		items, err := browseDirectory(path)
		return browseMsg{path: path, items: items, err: err}
	}
}

func (model *TUIModel) statusTickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg {
		return statusTickMsg{}
	})
}

// RunClient launches the Bubble Tea TUI.
func RunClient(backend Backend, factory EngineFactory, setToken func(string), defaultLogin string) error {
	program := tea.NewProgram(NewTUIModel(backend, factory, setToken, defaultLogin))
	finalModel, err := program.Run()
	if err != nil {
		return err
	}
	if m, ok := finalModel.(*TUIModel); ok && m.fatal != nil {
		return m.fatal
	}
	return nil
}
