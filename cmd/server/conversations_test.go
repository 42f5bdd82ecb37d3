package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nimaibhat/medimoji-sub000/conversation"
	"github.com/nimaibhat/medimoji-sub000/di"
	"github.com/nimaibhat/medimoji-sub000/dubbing"
	"github.com/nimaibhat/medimoji-sub000/pipeline"
)

func newTestServer(t *testing.T) (*http.ServeMux, *di.Container) {
	t.Helper()

	container := di.NewContainer(
		di.WithProvider(dubbing.NewStubProvider(&dubbing.StubProviderConfig{
			PollsUntilDubbed: 1,
			Audio:            []byte("dubbed audio"),
			SupportedLanguages: []dubbing.Language{
				{Code: "es", Name: "Spanish"},
				{Code: "vi", Name: "Vietnamese"},
			},
		})),
		di.WithPipelineConfig(&pipeline.Config{
			PollInterval:    time.Millisecond,
			MaxPollAttempts: 50,
		}),
	)
	t.Cleanup(container.Pipeline.Close)

	return newMux(container.Pipeline, zap.NewNop().Sugar()), container
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeConversation(t *testing.T, rec *httptest.ResponseRecorder) conversation.Conversation {
	t.Helper()

	var c conversation.Conversation
	if err := json.NewDecoder(rec.Body).Decode(&c); err != nil {
		t.Fatalf("failed to decode conversation: %v", err)
	}
	return c
}

func createTestConversation(t *testing.T, mux *http.ServeMux) conversation.Conversation {
	t.Helper()

	rec := doJSON(t, mux, http.MethodPost, "/conversations",
		`{"ownerId":"clin-1","patient":{"name":"A. Patient","visitReason":"checkup"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decodeConversation(t, rec)
}

func submitTestRecording(t *testing.T, mux *http.ServeMux, conversationID, sourceLanguage, targetLanguage string, audio []byte) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if len(audio) > 0 {
		part, err := form.CreateFormFile("audio", "recording.mp3")
		if err != nil {
			t.Fatalf("failed to build form: %v", err)
		}
		if _, err := part.Write(audio); err != nil {
			t.Fatalf("failed to build form: %v", err)
		}
	}
	if sourceLanguage != "" {
		_ = form.WriteField("sourceLanguage", sourceLanguage)
	}
	_ = form.WriteField("targetLanguage", targetLanguage)
	if err := form.Close(); err != nil {
		t.Fatalf("failed to build form: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/conversations/"+conversationID+"/recordings", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func waitForExchangeTerminal(t *testing.T, mux *http.ServeMux, conversationID, exchangeID string) conversation.Exchange {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, mux, http.MethodGet, "/conversations/"+conversationID, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		c := decodeConversation(t, rec)
		for _, ex := range c.Exchanges {
			if ex.ID == exchangeID && ex.Status.Terminal() {
				return ex
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("exchange never reached a terminal state")
	return conversation.Exchange{}
}

func TestCreateConversationHandler(t *testing.T) {
	mux, _ := newTestServer(t)

	c := createTestConversation(t, mux)
	if c.Status != conversation.StatusActive {
		t.Fatalf("expected active conversation, got %s", c.Status)
	}
	if c.Patient.Name != "A. Patient" {
		t.Fatalf("unexpected patient: %#v", c.Patient)
	}
}

func TestCreateConversationHandlerValidation(t *testing.T) {
	mux, _ := newTestServer(t)

	cases := map[string]string{
		"malformed json":  `{"ownerId":`,
		"missing ownerId": `{"patient":{"name":"A"}}`,
		"unknown field":   `{"ownerId":"clin-1","bogus":true}`,
	}
	for name, body := range cases {
		if rec := doJSON(t, mux, http.MethodPost, "/conversations", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, rec.Code)
		}
	}
}

func TestSubmitRecordingHandler(t *testing.T) {
	mux, _ := newTestServer(t)
	c := createTestConversation(t, mux)

	rec := submitTestRecording(t, mux, c.ID, "en", "es", []byte("raw recording"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var payload map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	exchangeID := payload["exchangeId"]
	if exchangeID == "" {
		t.Fatal("expected an exchange id")
	}

	ex := waitForExchangeTerminal(t, mux, c.ID, exchangeID)
	if ex.Status != conversation.ExchangeCompleted {
		t.Fatalf("expected completed exchange, got %s (%s)", ex.Status, ex.ErrorMessage)
	}
	if !ex.TranslatedAudio.IsDurable() {
		t.Fatalf("expected durable translated audio, got %v", ex.TranslatedAudio)
	}
}

func TestSubmitRecordingHandlerRawBody(t *testing.T) {
	mux, _ := newTestServer(t)
	c := createTestConversation(t, mux)

	req := httptest.NewRequest(http.MethodPost,
		"/conversations/"+c.ID+"/recordings?sourceLanguage=en&targetLanguage=es",
		bytes.NewReader([]byte("raw recording")))
	req.Header.Set("Content-Type", "audio/mpeg")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var payload map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	ex := waitForExchangeTerminal(t, mux, c.ID, payload["exchangeId"])
	if ex.Status != conversation.ExchangeCompleted {
		t.Fatalf("expected completed exchange, got %s", ex.Status)
	}
}

func TestSubmitRecordingHandlerValidation(t *testing.T) {
	mux, _ := newTestServer(t)
	c := createTestConversation(t, mux)

	if rec := submitTestRecording(t, mux, c.ID, "", "spanish", []byte("x")); rec.Code != http.StatusBadRequest {
		t.Errorf("bad target language: expected 400, got %d", rec.Code)
	}
	if rec := submitTestRecording(t, mux, c.ID, "english", "es", []byte("x")); rec.Code != http.StatusBadRequest {
		t.Errorf("bad source language: expected 400, got %d", rec.Code)
	}
	if rec := submitTestRecording(t, mux, c.ID, "", "es", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing audio: expected 400, got %d", rec.Code)
	}
	if rec := submitTestRecording(t, mux, "missing", "", "es", []byte("x")); rec.Code != http.StatusNotFound {
		t.Errorf("unknown conversation: expected 404, got %d", rec.Code)
	}
}

func TestExchangeAudioHandler(t *testing.T) {
	mux, _ := newTestServer(t)
	c := createTestConversation(t, mux)

	rec := submitTestRecording(t, mux, c.ID, "en", "es", []byte("raw recording"))
	var payload map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	exchangeID := payload["exchangeId"]
	waitForExchangeTerminal(t, mux, c.ID, exchangeID)

	base := fmt.Sprintf("/conversations/%s/exchanges/%s/audio", c.ID, exchangeID)

	for _, track := range []string{"", "?track=original", "?track=translated"} {
		rec := doJSON(t, mux, http.MethodGet, base+track, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("track %q: expected 200, got %d: %s", track, rec.Code, rec.Body.String())
		}
		var audio map[string]string
		if err := json.NewDecoder(rec.Body).Decode(&audio); err != nil {
			t.Fatalf("track %q: failed to decode response: %v", track, err)
		}
		if audio["url"] == "" {
			t.Fatalf("track %q: expected a durable url", track)
		}
	}

	if rec := doJSON(t, mux, http.MethodGet, base+"?track=bogus", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad track: expected 400, got %d", rec.Code)
	}
	if rec := doJSON(t, mux, http.MethodGet, "/conversations/"+c.ID+"/exchanges/missing/audio", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown exchange: expected 404, got %d", rec.Code)
	}
}

func TestConversationLifecycleHandlers(t *testing.T) {
	mux, _ := newTestServer(t)
	c := createTestConversation(t, mux)

	if rec := doJSON(t, mux, http.MethodPost, "/conversations/"+c.ID+"/complete", ""); rec.Code != http.StatusConflict {
		t.Fatalf("complete without exchanges: expected 409, got %d", rec.Code)
	}
	if rec := doJSON(t, mux, http.MethodPost, "/conversations/"+c.ID+"/archive", ""); rec.Code != http.StatusConflict {
		t.Fatalf("archive active: expected 409, got %d", rec.Code)
	}

	rec := submitTestRecording(t, mux, c.ID, "en", "es", []byte("raw recording"))
	var payload map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	waitForExchangeTerminal(t, mux, c.ID, payload["exchangeId"])

	rec = doJSON(t, mux, http.MethodPost, "/conversations/"+c.ID+"/complete", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeConversation(t, rec); got.Status != conversation.StatusCompleted {
		t.Fatalf("expected completed conversation, got %s", got.Status)
	}

	rec = doJSON(t, mux, http.MethodPost, "/conversations/"+c.ID+"/archive", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("archive: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeConversation(t, rec); got.Status != conversation.StatusArchived {
		t.Fatalf("expected archived conversation, got %s", got.Status)
	}

	if rec := doJSON(t, mux, http.MethodPost, "/conversations/"+c.ID+"/archive", ""); rec.Code != http.StatusConflict {
		t.Fatalf("second archive: expected 409, got %d", rec.Code)
	}

	if rec := doJSON(t, mux, http.MethodDelete, "/conversations/"+c.ID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	if rec := doJSON(t, mux, http.MethodGet, "/conversations/"+c.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", rec.Code)
	}
}

func TestListConversationsHandler(t *testing.T) {
	mux, container := newTestServer(t)
	c := createTestConversation(t, mux)

	if rec := doJSON(t, mux, http.MethodGet, "/conversations", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing owner: expected 400, got %d", rec.Code)
	}

	rec := doJSON(t, mux, http.MethodGet, "/conversations?owner=clin-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list []conversation.Conversation
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != c.ID {
		t.Fatalf("unexpected list: %#v", list)
	}

	rec = submitTestRecording(t, mux, c.ID, "en", "es", []byte("raw recording"))
	var payload map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	waitForExchangeTerminal(t, mux, c.ID, payload["exchangeId"])

	if err := container.Pipeline.CompleteConversation(context.Background(), c.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := container.Pipeline.ArchiveConversation(context.Background(), c.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec = doJSON(t, mux, http.MethodGet, "/conversations?owner=clin-1", "")
	list = nil
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("archived conversations must be hidden by default: %#v", list)
	}

	rec = doJSON(t, mux, http.MethodGet, "/conversations?owner=clin-1&includeArchived=true", "")
	list = nil
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("includeArchived must surface archived conversations: %#v", list)
	}
}

func TestListLanguagesHandler(t *testing.T) {
	mux, _ := newTestServer(t)

	rec := doJSON(t, mux, http.MethodGet, "/languages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var langs []dubbing.Language
	if err := json.NewDecoder(rec.Body).Decode(&langs); err != nil {
		t.Fatalf("failed to decode languages: %v", err)
	}
	if len(langs) != 2 || langs[0].Code != "es" {
		t.Fatalf("unexpected languages: %#v", langs)
	}
}

func TestHealthHandler(t *testing.T) {
	mux, _ := newTestServer(t)

	rec := doJSON(t, mux, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}
