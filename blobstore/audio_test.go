package blobstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nimaibhat/medimoji-sub000/audioref"
)

func TestUploadExchangePersistsBothSides(t *testing.T) {
	cache := NewSessionCache()
	store := NewMemoryStore()
	audio := NewAudioStore(store, cache)

	original := cache.Add([]byte("original-take"))
	translated := cache.Add([]byte("dubbed-take"))

	ctx := context.Background()
	durableOriginal, durableTranslated, err := audio.UploadExchange(ctx, "conv-1", "ex-1", original, translated, "en", "es")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !durableOriginal.IsDurable() || !durableTranslated.IsDurable() {
		t.Fatalf("expected durable refs, got %v and %v", durableOriginal, durableTranslated)
	}
	if !strings.Contains(durableOriginal.Value, "conversations/conv-1/exchanges/ex-1/original_en.mp3") {
		t.Fatalf("unexpected original url: %s", durableOriginal.Value)
	}
	if !strings.Contains(durableTranslated.Value, "translated_es.mp3") {
		t.Fatalf("unexpected translated url: %s", durableTranslated.Value)
	}

	stored, err := store.Open(ctx, durableTranslated.Value)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stored) != "dubbed-take" {
		t.Fatalf("unexpected stored audio: %q", stored)
	}
}

func TestUploadExchangeKeepsDurableRefs(t *testing.T) {
	cache := NewSessionCache()
	store := NewMemoryStore()
	audio := NewAudioStore(store, cache)

	original := audioref.Durable("mem://already/original.mp3")
	translated := cache.Add([]byte("dubbed"))

	durableOriginal, _, err := audio.UploadExchange(context.Background(), "c", "x", original, translated, "en", "es")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if durableOriginal != original {
		t.Fatalf("durable ref must pass through unchanged, got %v", durableOriginal)
	}
	if store.Len() != 1 {
		t.Fatalf("expected a single new upload, got %d", store.Len())
	}
}

func TestUploadExchangeExpiredEphemeral(t *testing.T) {
	cache := NewSessionCache()
	audio := NewAudioStore(NewMemoryStore(), cache)

	original := cache.Add([]byte("original"))
	translated := cache.Add([]byte("dubbed"))
	cache.Remove(translated)

	_, _, err := audio.UploadExchange(context.Background(), "c", "x", original, translated, "en", "es")
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestUploadExchangeDefaultsSourceLanguage(t *testing.T) {
	cache := NewSessionCache()
	store := NewMemoryStore()
	audio := NewAudioStore(store, cache)

	original := cache.Add([]byte("original"))
	translated := cache.Add([]byte("dubbed"))

	durableOriginal, _, err := audio.UploadExchange(context.Background(), "c", "x", original, translated, "", "es")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(durableOriginal.Value, "original_auto.mp3") {
		t.Fatalf("expected auto-detected source key, got %s", durableOriginal.Value)
	}
}

func TestOpenResolvesByKind(t *testing.T) {
	cache := NewSessionCache()
	audio := NewAudioStore(NewMemoryStore(), cache)
	ctx := context.Background()

	ephemeral := cache.Add([]byte("local"))
	resolved, err := audio.Open(ctx, ephemeral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resolved.Data) != "local" || resolved.URL != "" {
		t.Fatalf("unexpected resolution: %#v", resolved)
	}

	durable := audioref.Durable("mem://some/blob.mp3")
	resolved, err = audio.Open(ctx, durable)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.URL != "mem://some/blob.mp3" || resolved.Data != nil {
		t.Fatalf("unexpected resolution: %#v", resolved)
	}

	cache.Remove(ephemeral)
	if _, err := audio.Open(ctx, ephemeral); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	if _, err := audio.Open(ctx, audioref.Ref{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for zero ref, got %v", err)
	}
}

func TestFSStoreRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	url, err := store.Put(ctx, "conversations/c1/exchanges/x1/original_en.mp3", []byte("take"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Fatalf("expected file url, got %s", url)
	}

	data, err := store.Open(ctx, url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "take" {
		t.Fatalf("unexpected data: %q", data)
	}

	if _, err := store.Open(ctx, strings.Replace(url, "x1", "missing", 1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFSStoreNeutralizesTraversalKeys(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	url, err := store.Put(context.Background(), "../../outside.mp3", []byte("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(url, root) {
		t.Fatalf("blob escaped the store root: %s", url)
	}
}
