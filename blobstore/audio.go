package blobstore

import (
	"context"
	"fmt"

	"github.com/nimaibhat/medimoji-sub000/audioref"
)

// Audio is resolved, playable audio. Durable audio carries a stable
// URL; ephemeral audio carries the cached bytes directly.
type Audio struct {
	URL  string
	Data []byte
}

// AudioStore reconciles ephemeral session audio with durable storage.
// Uploads are best-effort from the caller's point of view: a failed
// upload leaves the exchange on its ephemeral references and playback
// later reports expiry gracefully instead of failing the conversation.
type AudioStore struct {
	durable Store
	cache   *SessionCache
}

// NewAudioStore wires the durable store and session cache together.
func NewAudioStore(durable Store, cache *SessionCache) *AudioStore {
	return &AudioStore{durable: durable, cache: cache}
}

// Cache exposes the session cache for components that stage recordings.
func (a *AudioStore) Cache() *SessionCache {
	return a.cache
}

// UploadExchange persists both sides of an exchange durably and returns
// the durable references. References that are already durable are kept
// as-is. An ephemeral reference whose cache entry is gone fails the
// upload with ErrExpired.
func (a *AudioStore) UploadExchange(ctx context.Context, conversationID, exchangeID string, original, translated audioref.Ref, sourceLanguage, targetLanguage string) (audioref.Ref, audioref.Ref, error) {
	if sourceLanguage == "" {
		sourceLanguage = "auto"
	}

	prefix := fmt.Sprintf("conversations/%s/exchanges/%s", conversationID, exchangeID)

	durableOriginal, err := a.uploadOne(ctx, original, fmt.Sprintf("%s/original_%s.mp3", prefix, sourceLanguage))
	if err != nil {
		return audioref.Ref{}, audioref.Ref{}, fmt.Errorf("upload original audio: %w", err)
	}

	durableTranslated, err := a.uploadOne(ctx, translated, fmt.Sprintf("%s/translated_%s.mp3", prefix, targetLanguage))
	if err != nil {
		return audioref.Ref{}, audioref.Ref{}, fmt.Errorf("upload translated audio: %w", err)
	}

	return durableOriginal, durableTranslated, nil
}

func (a *AudioStore) uploadOne(ctx context.Context, ref audioref.Ref, key string) (audioref.Ref, error) {
	if ref.IsDurable() {
		return ref, nil
	}
	if ref.IsZero() {
		return audioref.Ref{}, ErrNotFound
	}

	data, ok := a.cache.Get(ref)
	if !ok {
		return audioref.Ref{}, ErrExpired
	}

	url, err := a.durable.Put(ctx, key, data)
	if err != nil {
		return audioref.Ref{}, err
	}
	return audioref.Durable(url), nil
}

// Open resolves a reference to playable audio. Durable references
// resolve to their stable URL; ephemeral references resolve to the
// cached bytes, or ErrExpired once the session that recorded them is
// gone.
func (a *AudioStore) Open(_ context.Context, ref audioref.Ref) (Audio, error) {
	switch {
	case ref.IsZero():
		return Audio{}, ErrNotFound
	case ref.IsDurable():
		return Audio{URL: ref.Value}, nil
	default:
		data, ok := a.cache.Get(ref)
		if !ok {
			return Audio{}, ErrExpired
		}
		return Audio{Data: data}, nil
	}
}
