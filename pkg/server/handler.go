package server

// Handler receives the events of every connection in a Registry.
//
// Callbacks run on the goroutine that observed the event, never with a
// connection lock held, so they may call back into the Registry. Panics are
// recovered and logged. OnDisconnected is called exactly once per connection
// that saw OnConnected.
type Handler interface {
	OnConnected(r *Registry, token string)
	OnMessage(r *Registry, token string, msg any)
	OnDisconnected(r *Registry, token string)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Connected    func(r *Registry, token string)
	Message      func(r *Registry, token string, msg any)
	Disconnected func(r *Registry, token string)
}

func (h HandlerFuncs) OnConnected(r *Registry, token string) {
	if h.Connected != nil {
		h.Connected(r, token)
	}
}

func (h HandlerFuncs) OnMessage(r *Registry, token string, msg any) {
	if h.Message != nil {
		h.Message(r, token, msg)
	}
}

func (h HandlerFuncs) OnDisconnected(r *Registry, token string) {
	if h.Disconnected != nil {
		h.Disconnected(r, token)
	}
}

// Echo returns a Handler that posts every message back to its sender.
func Echo() Handler {
	return HandlerFuncs{
		Message: func(r *Registry, token string, msg any) {
			r.Post(token, msg)
		},
	}
}

// Broadcast returns a Handler that posts every message to every open
// connection, the sender included.
func Broadcast() Handler {
	return HandlerFuncs{
		Message: func(r *Registry, _ string, msg any) {
			r.ForEach(func(info ConnectionInfo) bool {
				if !info.Closing {
					r.Post(info.Token, msg)
				}
				return true
			})
		},
	}
}
