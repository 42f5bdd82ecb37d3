// Package playback owns the single audible audio output for a session.
// Only one track may play at a time anywhere in the session, so
// starting playback always stops whatever was playing first.
package playback

import (
	"errors"
	"sync"
)

// ErrNothingPlaying is returned when stopping an idle player.
var ErrNothingPlaying = errors.New("nothing is playing")

// Track is a playable audio source controlled by the player.
type Track interface {
	// Start begins audible playback.
	Start() error
	// Stop silences the track. Stop on a finished track is a no-op.
	Stop() error
}

// Player is the exclusive "currently playing audio" handle.
type Player struct {
	mu         sync.Mutex
	current    Track
	currentKey string
}

// NewPlayer creates an idle player.
func NewPlayer() *Player {
	return &Player{}
}

// Play stops any currently playing track, then starts the given one.
// The key identifies the track (for example "<exchangeID>/translated")
// so callers can query what is audible.
func (p *Player) Play(key string, track Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		if err := p.current.Stop(); err != nil {
			return err
		}
		p.current = nil
		p.currentKey = ""
	}

	if err := track.Start(); err != nil {
		return err
	}
	p.current = track
	p.currentKey = key
	return nil
}

// Stop silences the current track, if any.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return ErrNothingPlaying
	}

	err := p.current.Stop()
	p.current = nil
	p.currentKey = ""
	return err
}

// Current reports the key of the playing track.
func (p *Player) Current() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentKey, p.current != nil
}
