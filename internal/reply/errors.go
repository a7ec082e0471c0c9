package reply

import "errors"

// Invocation failures. Absorbed conditions (unaddressed email, partial
// research, dropped forward targets) never produce an error.
var (
	// ErrProvider wraps inbox provider transport failures: thread
	// fetch, forward dispatch, or reply delivery.
	ErrProvider = errors.New("inbox provider failure")

	// ErrModel wraps a failed language model call in the generation loop.
	ErrModel = errors.New("language model call failed")

	// ErrRoundCapExceeded means the model kept requesting tools for
	// MaxRounds rounds without giving a final answer.
	ErrRoundCapExceeded = errors.New("generation round cap exceeded")

	// ErrMalformedOutput means the model's final answer could not be
	// decoded into {"responseHtml": ...}.
	ErrMalformedOutput = errors.New("malformed model output")
)
