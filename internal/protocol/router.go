package protocol

import (
	"github.com/rs/zerolog"
)

// Router dispatches decoded messages by type. The host and both peer views
// share this table; owner names the context that runs it.
type Router struct {
	owner    string
	handlers map[MessageType]func(Message)
	logger   zerolog.Logger
}

func NewRouter(owner string, logger zerolog.Logger) *Router {
	return &Router{
		owner:    owner,
		handlers: make(map[MessageType]func(Message)),
		logger:   logger,
	}
}

// Handle registers fn for messages of type t, replacing any earlier handler.
func (r *Router) Handle(t MessageType, fn func(Message)) {
	r.handlers[t] = fn
}

// Dispatch runs the handler for msg. Messages without a handler are ignored.
func (r *Router) Dispatch(msg Message) {
	fn, ok := r.handlers[msg.Type()]
	if !ok {
		r.logger.Debug().
			Str("owner", r.owner).
			Str("type", string(msg.Type())).
			Msg("No handler for message, ignoring")
		return
	}
	fn(msg)
}
