package csrfclient

import (
	"net/http"
	"sync"
)

// Sink receives every token accepted by a TokenState.
// ApplyToken is called while the state lock is held, so implementations
// must not call back into the TokenState.
type Sink interface {
	ApplyToken(token string)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(token string)

// ApplyToken calls f(token).
func (f SinkFunc) ApplyToken(token string) { f(token) }

// TokenState holds the current anti-forgery token and the places it has to
// be mirrored to: the default outgoing header plus any attached sinks
// (page meta tag, hidden form fields).
//
// Only refreshes write to it. Concurrent refreshes are last-write-wins.
type TokenState struct {
	mu         sync.RWMutex
	token      string
	headerName string
	defaults   http.Header
	sinks      []Sink
}

// NewTokenState creates a state seeded with an initial token (which may be
// empty) and propagates it to the given sinks.
func NewTokenState(initial string, sinks ...Sink) *TokenState {
	s := &TokenState{
		headerName: HeaderName,
		defaults:   make(http.Header),
	}
	for _, sink := range sinks {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
	if initial != "" {
		s.Set(initial)
	}
	return s
}

// Token returns the current token.
func (s *TokenState) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// HeaderDefault returns the value currently stored as the default token header.
func (s *TokenState) HeaderDefault() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults.Get(s.headerName)
}

// DefaultHeaders returns a copy of the headers applied to every outgoing request.
func (s *TokenState) DefaultHeaders() http.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults.Clone()
}

// Attach registers a sink (for example a form rendered after startup).
// The sink immediately receives the current token when one is known.
func (s *TokenState) Attach(sink Sink) {
	if sink == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
	if s.token != "" {
		sink.ApplyToken(s.token)
	}
}

// Set stores token and pushes it to the header default and every sink.
// Empty tokens are ignored.
func (s *TokenState) Set(token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.defaults.Set(s.headerName, token)
	for _, sink := range s.sinks {
		sink.ApplyToken(token)
	}
}

// applyDefaults copies the default headers onto h. When overwrite is false
// headers the caller set explicitly are kept.
func (s *TokenState) applyDefaults(h http.Header, overwrite bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.defaults {
		if !overwrite && h.Get(k) != "" {
			continue
		}
		h[k] = append([]string(nil), v...)
	}
}
