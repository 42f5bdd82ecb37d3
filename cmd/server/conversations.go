package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/nimaibhat/medimoji-sub000/blobstore"
	"github.com/nimaibhat/medimoji-sub000/conversation"
	"github.com/nimaibhat/medimoji-sub000/dubbing"
	"github.com/nimaibhat/medimoji-sub000/pipeline"
)

// maxRecordingBytes caps an uploaded recording at 25 MiB.
const maxRecordingBytes = 25 << 20

var languagePattern = regexp.MustCompile(`^[a-z]{2}$`)

type conversationInput struct {
	OwnerID string        `json:"ownerId"`
	Patient *patientInput `json:"patient"`
}

type patientInput struct {
	Name        string `json:"name"`
	ExternalID  string `json:"externalId"`
	VisitReason string `json:"visitReason"`
}

func createConversationHandler(p *pipeline.Pipeline, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer closeBody(r, logger)

		var input conversationInput
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&input); err != nil {
			writeError(w, logger, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
			return
		}
		if input.OwnerID == "" {
			writeError(w, logger, http.StatusBadRequest, errors.New("ownerId is required"))
			return
		}

		var patient conversation.PatientInfo
		if input.Patient != nil {
			patient = conversation.PatientInfo{
				Name:        input.Patient.Name,
				ExternalID:  input.Patient.ExternalID,
				VisitReason: input.Patient.VisitReason,
			}
		}

		c, err := p.StartNewConversation(r.Context(), input.OwnerID, patient)
		if err != nil {
			writeError(w, logger, statusForError(err), err)
			return
		}
		writeJSON(w, logger, http.StatusCreated, c)
	}
}

func listConversationsHandler(p *pipeline.Pipeline, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.URL.Query().Get("owner")
		if owner == "" {
			writeError(w, logger, http.StatusBadRequest, errors.New("owner query parameter is required"))
			return
		}
		includeArchived := r.URL.Query().Get("includeArchived") == "true"

		list, err := p.ListConversations(r.Context(), owner, includeArchived)
		if err != nil {
			writeError(w, logger, statusForError(err), err)
			return
		}
		writeJSON(w, logger, http.StatusOK, list)
	}
}

func getConversationHandler(p *pipeline.Pipeline, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := p.GetConversation(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, logger, statusForError(err), err)
			return
		}
		writeJSON(w, logger, http.StatusOK, c)
	}
}

func deleteConversationHandler(p *pipeline.Pipeline, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := p.DeleteConversation(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, logger, statusForError(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// submitRecordingHandler accepts a finished recording and answers
// before dubbing finishes. Multipart form uploads carry the audio as
// the "audio" file with language form fields; any other content type is
// treated as a raw audio body with languages in query parameters. The
// response carries the exchange id; clients reload the conversation to
// observe progress.
func submitRecordingHandler(p *pipeline.Pipeline, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer closeBody(r, logger)

		r.Body = http.MaxBytesReader(w, r.Body, maxRecordingBytes)

		audio, sourceLanguage, targetLanguage, err := readRecording(r)
		if err != nil {
			writeError(w, logger, http.StatusBadRequest, err)
			return
		}
		if !languagePattern.MatchString(targetLanguage) {
			writeError(w, logger, http.StatusBadRequest, errors.New("targetLanguage must be a two-letter lowercase code"))
			return
		}
		if sourceLanguage != "" && !languagePattern.MatchString(sourceLanguage) {
			writeError(w, logger, http.StatusBadRequest, errors.New("sourceLanguage must be a two-letter lowercase code"))
			return
		}

		exchangeID, err := p.SubmitRecording(r.Context(), r.PathValue("id"), audio, sourceLanguage, targetLanguage)
		if err != nil {
			writeError(w, logger, statusForError(err), err)
			return
		}
		writeJSON(w, logger, http.StatusAccepted, map[string]string{"exchangeId": exchangeID})
	}
}

func readRecording(r *http.Request) (audio []byte, sourceLanguage, targetLanguage string, err error) {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		audio, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, "", "", fmt.Errorf("failed to read audio: %w", err)
		}
		if len(audio) == 0 {
			return nil, "", "", errors.New("audio body is required")
		}
		return audio, r.URL.Query().Get("sourceLanguage"), r.URL.Query().Get("targetLanguage"), nil
	}

	if err := r.ParseMultipartForm(maxRecordingBytes); err != nil {
		return nil, "", "", fmt.Errorf("invalid multipart payload: %w", err)
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		return nil, "", "", errors.New("audio file is required")
	}
	defer func() { _ = file.Close() }()

	audio, err = io.ReadAll(file)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to read audio: %w", err)
	}
	return audio, r.FormValue("sourceLanguage"), r.FormValue("targetLanguage"), nil
}

func completeConversationHandler(p *pipeline.Pipeline, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := p.CompleteConversation(r.Context(), id); err != nil {
			writeError(w, logger, statusForError(err), err)
			return
		}

		c, err := p.GetConversation(r.Context(), id)
		if err != nil {
			writeError(w, logger, statusForError(err), err)
			return
		}
		writeJSON(w, logger, http.StatusOK, c)
	}
}

func archiveConversationHandler(p *pipeline.Pipeline, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := p.ArchiveConversation(r.Context(), id); err != nil {
			writeError(w, logger, statusForError(err), err)
			return
		}

		c, err := p.GetConversation(r.Context(), id)
		if err != nil {
			writeError(w, logger, statusForError(err), err)
			return
		}
		writeJSON(w, logger, http.StatusOK, c)
	}
}

// exchangeAudioHandler serves one exchange track. Ephemeral audio is
// streamed from the session cache; durable audio answers with its URL.
func exchangeAudioHandler(p *pipeline.Pipeline, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		track := pipeline.TrackTranslated
		switch r.URL.Query().Get("track") {
		case "", string(pipeline.TrackTranslated):
		case string(pipeline.TrackOriginal):
			track = pipeline.TrackOriginal
		default:
			writeError(w, logger, http.StatusBadRequest, errors.New("track must be original or translated"))
			return
		}

		audio, err := p.OpenExchangeAudio(r.Context(), r.PathValue("id"), r.PathValue("exchangeID"), track)
		if err != nil {
			writeError(w, logger, statusForError(err), err)
			return
		}

		if len(audio.Data) > 0 {
			w.Header().Set("Content-Type", "audio/mpeg")
			if _, err := w.Write(audio.Data); err != nil {
				logger.Errorw("failed to write audio response", "error", err)
			}
			return
		}
		writeJSON(w, logger, http.StatusOK, map[string]string{"url": audio.URL})
	}
}

func listLanguagesHandler(p *pipeline.Pipeline, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		langs, err := p.Languages(r.Context())
		if err != nil {
			writeError(w, logger, statusForError(err), err)
			return
		}
		writeJSON(w, logger, http.StatusOK, langs)
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, conversation.ErrNotFound),
		errors.Is(err, conversation.ErrExchangeNotFound),
		errors.Is(err, blobstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, conversation.ErrConversationNotActive),
		errors.Is(err, conversation.ErrNoExchanges),
		errors.Is(err, conversation.ErrArchiveActive),
		errors.Is(err, conversation.ErrAlreadyArchived),
		errors.Is(err, conversation.ErrExchangeTerminal):
		return http.StatusConflict
	case errors.Is(err, blobstore.ErrExpired):
		return http.StatusGone
	case errors.Is(err, dubbing.ErrEmptyAudio),
		errors.Is(err, dubbing.ErrMissingTargetLanguage):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrPipelineClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func closeBody(r *http.Request, logger *zap.SugaredLogger) {
	if err := r.Body.Close(); err != nil {
		logger.Errorw("failed to close request body", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, logger *zap.SugaredLogger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Errorw("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *zap.SugaredLogger, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	payload := map[string]string{"error": err.Error()}
	if encodeErr := json.NewEncoder(w).Encode(payload); encodeErr != nil {
		logger.Errorw("failed to encode error response", "error", encodeErr)
	}
}
