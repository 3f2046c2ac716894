package internal

import (
	"context"
	"os"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"stompchat/internal/api"
	"stompchat/internal/engine"
)

// Backend is the REST surface the TUI needs. internal/app supplies an
// implementation that layers the local cache over the api client.
type Backend interface {
	Login(ctx context.Context, loginID, password string) (*api.LoginResult, error)
	Rooms(ctx context.Context, loginID string) ([]engine.RoomSummary, error)
	CreateRoom(ctx context.Context, name string, participants []string) (*engine.RoomSummary, error)
	UploadFile(ctx context.Context, roomID, localPath string) (string, error)
}

// tui model struct for all the components and modes
type TUIModel struct {
	textInput textinput.Model
	mode      appMode

	api       Backend
	newEngine EngineFactory
	engine    *engine.Engine
	setToken  func(string)

	loginID  string
	password string
	nickname string

	rooms        []engine.RoomSummary
	selectedRoom int
	currentRoom  engine.RoomSummary
	messages     []engine.Message
	typingUser   string

	browseItems  []FileItem
	browsePath   string
	selectedFile int

	loading bool
	notices []string
	fatal   error
}

// EngineFactory builds the sync engine once the nickname is known after
// login.
type EngineFactory func(nickname string) (*engine.Engine, error)

type appMode int

const (
	modeLogin appMode = iota
	modePassword
	modeRooms
	modeNewRoom
	modeChat
	modeBrowse
)

func NewTUIModel(backend Backend, factory EngineFactory, setToken func(string), defaultLogin string) *TUIModel {
	input := textinput.New()
	input.CharLimit = 0
	input.Prompt = "login> "
	input.Placeholder = "Enter your login id…"
	input.SetValue(defaultLogin)
	input.Focus()

	if defaultLogin == "" {
		input.SetValue(defaultLoginID())
	}

	return &TUIModel{
		textInput: input,
		mode:      modeLogin,
		api:       backend,
		newEngine: factory,
		setToken:  setToken,
		messages:  make([]engine.Message, 0, 64),
	}
}

func defaultLoginID() string {
	if user := os.Getenv("STOMPCHAT_LOGIN"); user != "" {
		return user
	}
	return os.Getenv("USER")
}

func (model *TUIModel) Init() tea.Cmd {
	return textinput.Blink
}

func (model *TUIModel) notice(text string) {
	model.notices = append(model.notices, text)
	if len(model.notices) > 5 {
		model.notices = model.notices[len(model.notices)-5:]
	}
}

func (model *TUIModel) resetInput(prompt, placeholder string) tea.Cmd {
	model.textInput.SetValue("")
	model.textInput.Prompt = prompt
	model.textInput.Placeholder = placeholder
	return model.textInput.Focus()
}
