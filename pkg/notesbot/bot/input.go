package bot

import (
	"strings"

	"github.com/jholhewres/notesbot/pkg/notesbot/channels"
)

// InputKind classifies an incoming update for the state machine.
type InputKind int

const (
	// InputEmpty is blank text or content the bot cannot read (media
	// without caption, stickers).
	InputEmpty InputKind = iota

	// InputText is free text.
	InputText

	// InputCommand is a slash command or a button press.
	InputCommand

	// InputCancel is /cancel or the cancel button.
	InputCancel
)

// Command names understood by the engine.
const (
	CmdStart  = "start"
	CmdHelp   = "help"
	CmdNew    = "new"
	CmdSearch = "search"
	CmdNotes  = "notes"
	CmdLink   = "link"
	CmdDelete = "delete"
	CmdRetag  = "retag"
	CmdCancel = "cancel"
)

// Button callback data, shared by every channel that renders buttons.
const (
	ButtonAddNote      = "add_note"
	ButtonSearchByTag  = "search_by_tag"
	ButtonShowMyNotes  = "show_my_notes"
	ButtonLinkAccounts = "link_accounts"
	ButtonCancel       = "cancel"
)

var knownCommands = map[string]bool{
	CmdStart: true, CmdHelp: true, CmdNew: true, CmdSearch: true, CmdNotes: true,
	CmdLink: true, CmdDelete: true, CmdRetag: true, CmdCancel: true,
}

var buttonCommands = map[string]string{
	ButtonAddNote:      CmdNew,
	ButtonSearchByTag:  CmdSearch,
	ButtonShowMyNotes:  CmdNotes,
	ButtonLinkAccounts: CmdLink,
	ButtonCancel:       CmdCancel,
}

// Input is a classified update.
type Input struct {
	Kind InputKind

	// Command is the lower-case command name for InputCommand. Unknown
	// commands keep their name so the engine can report them.
	Command string

	// Args is the text after the command, trimmed.
	Args string

	// Text is the trimmed message text. It is also set for typed commands,
	// so a text-expecting state can take "/etc notes" as a title.
	Text string
}

// AsText returns the typed text of free text or an unknown slash command.
// Button presses and known commands are never text.
func (in Input) AsText() (string, bool) {
	switch {
	case in.Kind == InputText:
		return in.Text, true
	case in.Kind == InputCommand && in.Text != "" && !knownCommands[in.Command]:
		return in.Text, true
	default:
		return "", false
	}
}

// Classify turns a channel message into an Input.
func Classify(msg *channels.IncomingMessage) Input {
	switch msg.Type {
	case channels.MessageCallback:
		data := strings.TrimSpace(msg.CallbackData)
		if data == "" {
			return Input{Kind: InputEmpty}
		}
		cmd, ok := buttonCommands[data]
		if !ok {
			cmd = data
		}
		return commandInput(cmd, "")

	case channels.MessageText:
		text := strings.TrimSpace(msg.Content)
		if text == "" {
			return Input{Kind: InputEmpty}
		}
		if cmd, args, ok := parseCommand(text); ok {
			in := commandInput(cmd, args)
			in.Text = text
			return in
		}
		return Input{Kind: InputText, Text: text}

	default:
		return Input{Kind: InputEmpty}
	}
}

func commandInput(cmd, args string) Input {
	if cmd == CmdCancel {
		return Input{Kind: InputCancel, Command: CmdCancel}
	}
	return Input{Kind: InputCommand, Command: cmd, Args: args}
}

// parseCommand splits "/retag@NotesBot 5 a,b" into ("retag", "5 a,b").
func parseCommand(text string) (cmd, args string, ok bool) {
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}
