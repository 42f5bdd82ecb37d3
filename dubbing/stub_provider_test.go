package dubbing

import (
	"context"
	"errors"
	"testing"
)

func TestStubProviderLifecycle(t *testing.T) {
	cfg := DefaultStubProviderConfig()
	cfg.PollsUntilDubbed = 2
	provider := NewStubProvider(cfg)

	ctx := context.Background()
	job, err := provider.Submit(ctx, SubmitRequest{
		Audio:          []byte("take"),
		SourceLanguage: "en",
		TargetLanguage: "es",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != JobPending {
		t.Fatalf("expected pending, got %s", job.Status)
	}
	if job.TargetLanguage != "es" {
		t.Fatalf("unexpected target language: %s", job.TargetLanguage)
	}

	for i := 0; i < 2; i++ {
		job, err = provider.JobStatus(ctx, job.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if job.Status != JobProcessing {
			t.Fatalf("poll %d: expected processing, got %s", i+1, job.Status)
		}
	}

	job, err = provider.JobStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != JobDubbed {
		t.Fatalf("expected dubbed, got %s", job.Status)
	}

	audio, err := provider.FetchAudio(ctx, job.ID, "es")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != string(cfg.Audio) {
		t.Fatalf("unexpected audio: %q", audio)
	}
}

func TestStubProviderFailure(t *testing.T) {
	cfg := DefaultStubProviderConfig()
	cfg.FailWith = "voice_not_supported"
	provider := NewStubProvider(cfg)

	ctx := context.Background()
	job, err := provider.Submit(ctx, SubmitRequest{Audio: []byte("take"), TargetLanguage: "es"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	job, err = provider.JobStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != JobFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Error != "voice_not_supported" {
		t.Fatalf("expected provider error message, got %q", job.Error)
	}

	if _, err := provider.FetchAudio(ctx, job.ID, "es"); err == nil {
		t.Fatal("expected fetch of a failed job to error")
	}
}

func TestStubProviderValidatesSubmission(t *testing.T) {
	provider := NewStubProvider(nil)
	ctx := context.Background()

	if _, err := provider.Submit(ctx, SubmitRequest{TargetLanguage: "es"}); !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}
	if _, err := provider.Submit(ctx, SubmitRequest{Audio: []byte("take")}); !errors.Is(err, ErrMissingTargetLanguage) {
		t.Fatalf("expected ErrMissingTargetLanguage, got %v", err)
	}
}

func TestStubProviderTerminalStateIsStable(t *testing.T) {
	cfg := DefaultStubProviderConfig()
	cfg.PollsUntilDubbed = 0
	provider := NewStubProvider(cfg)

	ctx := context.Background()
	job, err := provider.Submit(ctx, SubmitRequest{Audio: []byte("take"), TargetLanguage: "fr"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	job, err = provider.JobStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != JobDubbed {
		t.Fatalf("expected dubbed on first poll, got %s", job.Status)
	}

	again, err := provider.JobStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Status != JobDubbed {
		t.Fatalf("terminal job changed status to %s", again.Status)
	}
	if provider.PollCount(job.ID) != 1 {
		t.Fatalf("terminal polls must not advance the counter, got %d", provider.PollCount(job.ID))
	}
}
