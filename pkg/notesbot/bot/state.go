package bot

// State is the conversation state of a session.
type State int

const (
	// StateIdle is the initial and terminal state.
	StateIdle State = iota

	// StateAwaitingEmail waits for the email used to link the chat identity.
	StateAwaitingEmail

	// StateComposingTitle waits for the title of a new note.
	StateComposingTitle

	// StateComposingContent waits for the body of a new note.
	StateComposingContent

	// StateComposingTags waits for the comma-separated tags of a new note.
	StateComposingTags

	// StateAwaitingTagQuery waits for the tag to search for.
	StateAwaitingTagQuery
)

var stateNames = [...]string{
	StateIdle:             "IDLE",
	StateAwaitingEmail:    "AWAITING_EMAIL",
	StateComposingTitle:   "COMPOSING_TITLE",
	StateComposingContent: "COMPOSING_CONTENT",
	StateComposingTags:    "COMPOSING_TAGS",
	StateAwaitingTagQuery: "AWAITING_TAG_QUERY",
}

// String returns the upper-case state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}
