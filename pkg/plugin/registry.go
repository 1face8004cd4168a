// Package plugin provides name-based registration of speech providers, so
// deployments select STT and TTS implementations by configuration.
package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fluentive/voiceturn/pkg/ai/stt"
	"github.com/fluentive/voiceturn/pkg/ai/tts"
)

// Registry maps provider names to factories.
type Registry struct {
	mu  sync.RWMutex
	stt map[string]func() (stt.STT, error)
	tts map[string]func() (tts.TTS, error)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stt: make(map[string]func() (stt.STT, error)),
		tts: make(map[string]func() (tts.TTS, error)),
	}
}

var global = NewRegistry()

// Global returns the process-wide registry.
func Global() *Registry { return global }

// RegisterSTT registers a transcription provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func() (stt.STT, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a synthesis provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func() (tts.TTS, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateSTT instantiates the named transcription provider.
func (r *Registry) CreateSTT(name string) (stt.STT, error) {
	r.mu.RLock()
	factory, ok := r.stt[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("STT provider %q not registered (have %v)", name, r.ListSTT())
	}
	return factory()
}

// CreateTTS instantiates the named synthesis provider.
func (r *Registry) CreateTTS(name string) (tts.TTS, error) {
	r.mu.RLock()
	factory, ok := r.tts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("TTS provider %q not registered (have %v)", name, r.ListTTS())
	}
	return factory()
}

// ListSTT returns the registered transcription provider names, sorted.
func (r *Registry) ListSTT() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stt))
	for name := range r.stt {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListTTS returns the registered synthesis provider names, sorted.
func (r *Registry) ListTTS() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tts))
	for name := range r.tts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
