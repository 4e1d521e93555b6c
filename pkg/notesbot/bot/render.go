package bot

import (
	"fmt"
	"strings"

	"github.com/jholhewres/notesbot/pkg/notesbot/channels"
	"github.com/jholhewres/notesbot/pkg/notesbot/notesapi"
)

// Reply texts.
const (
	textLinkRequired   = "Hi! Before using the bot, please link your account by sending the email you registered with."
	textAskEmail       = "Enter your email:"
	textInvalidEmail   = "That does not look like a valid email address. Please try again."
	textLinked         = "Your account is linked and you are signed in!"
	textLinkFailed     = "Could not link your account. Make sure you are registered, then send your email again."
	textAskTitle       = "Please enter the title of the note:"
	textAskContent     = "Now enter the content of the note:"
	textAskTags        = "Finally, enter the tags (separated by commas):"
	textInvalidTags    = "Invalid tags detected. Tags must be letters and digits only, separated by commas. Please provide tags again."
	textNoteSaved      = "Your note has been successfully added!"
	textNoteFailed     = "Error saving note. Please try again."
	textAskTag         = "Please enter the tag you want to search for:"
	textNoNotesWithTag = "No notes found with this tag."
	textSearchFailed   = "Could not search your notes right now. Please try again later."
	textNoNotes        = "You have no notes."
	textListFailed     = "Failed to retrieve your notes."
	textCancelled      = "Cancelled."
	textTryAgain       = "Something went wrong, please try again."
	textChooseAction   = "Please choose an action from the menu or send /help."
	textDeleteUsage    = "Usage: /delete <note id>"
	textRetagUsage     = "Usage: /retag <note id> <tag1, tag2>"
)

func mainMenu() [][]channels.Button {
	return [][]channels.Button{
		{
			{Text: "Add note", Data: ButtonAddNote},
			{Text: "Search by tag", Data: ButtonSearchByTag},
		},
		{
			{Text: "Show my notes", Data: ButtonShowMyNotes},
		},
	}
}

func linkButton() [][]channels.Button {
	return [][]channels.Button{{{Text: "Link accounts", Data: ButtonLinkAccounts}}}
}

func cancelButton() [][]channels.Button {
	return [][]channels.Button{{{Text: "Cancel", Data: ButtonCancel}}}
}

func reply(text string) *channels.OutgoingMessage {
	return &channels.OutgoingMessage{Content: text}
}

func replyWith(text string, buttons [][]channels.Button) *channels.OutgoingMessage {
	return &channels.OutgoingMessage{Content: text, Buttons: buttons}
}

func tryAgainReply() *channels.OutgoingMessage { return reply(textTryAgain) }

func greeting(name string) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hi, %s! I keep your notes. Pick an action below.\n\n%s", name, helpText)
}

const helpText = `/new - add a note
/search - find notes by tag
/notes - show your notes
/delete <id> - delete a note
/retag <id> <tags> - replace the tags of a note
/link - link another account
/cancel - abort the current step`

// expectation describes what a text-collecting state is waiting for.
func expectation(s State) string {
	switch s {
	case StateAwaitingEmail:
		return "Please send your email address, or /cancel."
	case StateComposingTitle:
		return "Please send the title of the note as text, or /cancel."
	case StateComposingContent:
		return "Please send the content of the note as text, or /cancel."
	case StateComposingTags:
		return "Please send the tags separated by commas, or /cancel."
	case StateAwaitingTagQuery:
		return "Please send the tag to search for, or /cancel."
	default:
		return textChooseAction
	}
}

func formatNotes(header string, notes []notesapi.Note) string {
	var sb strings.Builder
	sb.WriteString(header)
	for _, n := range notes {
		sb.WriteString("\n\n")
		fmt.Fprintf(&sb, "#%d %s\n%s", n.ID, n.Title, n.Content)
		if len(n.Tags) > 0 {
			fmt.Fprintf(&sb, "\nTags: %s", strings.Join(n.Tags, ", "))
		}
	}
	return sb.String()
}
