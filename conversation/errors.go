package conversation

import "errors"

var (
	// ErrNotFound is returned when a conversation id is unknown.
	// Mutating operations must not silently create a conversation.
	ErrNotFound = errors.New("conversation not found")

	// ErrExists is returned when creating a conversation whose id is taken.
	ErrExists = errors.New("conversation already exists")

	// ErrConversationNotActive is returned when a mutation requires an
	// active conversation.
	ErrConversationNotActive = errors.New("conversation is not active")

	// ErrNoExchanges is returned when completing a conversation that
	// has no exchanges.
	ErrNoExchanges = errors.New("conversation has no exchanges")

	// ErrArchiveActive is returned when archiving an active
	// conversation; it must be completed first.
	ErrArchiveActive = errors.New("cannot archive an active conversation")

	// ErrAlreadyArchived is returned on a second archive attempt.
	ErrAlreadyArchived = errors.New("conversation is already archived")

	// ErrExchangeNotFound is returned when an exchange id is unknown
	// within the conversation.
	ErrExchangeNotFound = errors.New("exchange not found")

	// ErrExchangeExists is returned when appending a duplicate exchange id.
	ErrExchangeExists = errors.New("exchange already exists")

	// ErrExchangeTerminal is returned when writing to an exchange that
	// already reached completed or failed.
	ErrExchangeTerminal = errors.New("exchange already reached a terminal status")

	// ErrExchangeMissingID is returned when appending an exchange
	// without an id.
	ErrExchangeMissingID = errors.New("exchange id is required")

	// ErrMissingTranslatedAudio is returned when completing an exchange
	// without translated audio.
	ErrMissingTranslatedAudio = errors.New("completed exchange requires translated audio")
)
