package store

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Handler receives the requested URI and the resolved local path once a
// resource is available.
type Handler func(uri, path string)

// Subscription identifies one registered handler.
type Subscription struct {
	// Token is unique per Subscribe call.
	Token uuid.UUID

	// Key is the cache key the handler is registered under.
	Key string

	// URI is the URI the subscriber asked for.
	URI string
}

type registration struct {
	token   uuid.UUID
	uri     string
	handler Handler
}

// registry groups handlers by cache key in registration order. It is not
// safe for concurrent use; the Store guards it with its mutex.
type registry struct {
	byKey  map[string][]registration
	tokens map[uuid.UUID]string
}

func newRegistry() *registry {
	return &registry{
		byKey:  make(map[string][]registration),
		tokens: make(map[uuid.UUID]string),
	}
}

func (r *registry) add(key, uri string, handler Handler) registration {
	reg := registration{
		token:   uuid.New(),
		uri:     uri,
		handler: handler,
	}
	r.byKey[key] = append(r.byKey[key], reg)
	r.tokens[reg.token] = key
	return reg
}

// remove deletes the registration with token.
func (r *registry) remove(token uuid.UUID) bool {
	key, ok := r.tokens[token]
	if !ok {
		return false
	}
	delete(r.tokens, token)

	regs := r.byKey[key]
	for i, reg := range regs {
		if reg.token == token {
			r.set(key, append(regs[:i:i], regs[i+1:]...))
			return true
		}
	}
	return false
}

// removeURI deletes every registration for key that was made with uri.
func (r *registry) removeURI(key, uri string) int {
	regs := r.byKey[key]
	kept := make([]registration, 0, len(regs))
	removed := 0
	for _, reg := range regs {
		if reg.uri == uri {
			delete(r.tokens, reg.token)
			removed++
			continue
		}
		kept = append(kept, reg)
	}
	r.set(key, kept)
	return removed
}

// snapshot returns a copy of the registrations for key.
func (r *registry) snapshot(key string) []registration {
	regs := r.byKey[key]
	if len(regs) == 0 {
		return nil
	}
	out := make([]registration, len(regs))
	copy(out, regs)
	return out
}

func (r *registry) len() int {
	return len(r.tokens)
}

func (r *registry) set(key string, regs []registration) {
	if len(regs) == 0 {
		delete(r.byKey, key)
		return
	}
	r.byKey[key] = regs
}

// notify invokes each handler with its own URI and path. A panicking
// handler is logged and does not prevent the remaining calls.
func notify(logger zerolog.Logger, regs []registration, path string) {
	for _, reg := range regs {
		invoke(logger, reg, path)
	}
}

func invoke(logger zerolog.Logger, reg registration, path string) {
	defer func() {
		if r := recover(); r != nil {
			handlerPanicsTotal.Inc()
			logger.Error().
				Interface("panic", r).
				Str("uri", reg.uri).
				Str("token", reg.token.String()).
				Msg("Subscription handler panicked")
		}
	}()
	notificationsTotal.Inc()
	reg.handler(reg.uri, path)
}
