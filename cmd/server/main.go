package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nimaibhat/medimoji-sub000/blobstore"
	"github.com/nimaibhat/medimoji-sub000/conversation"
	"github.com/nimaibhat/medimoji-sub000/di"
	"github.com/nimaibhat/medimoji-sub000/dubbing"
	"github.com/nimaibhat/medimoji-sub000/pipeline"
	"github.com/nimaibhat/medimoji-sub000/postgres"
	"github.com/nimaibhat/medimoji-sub000/status"
)

// defaultListenAddr is the default address used when APP_SERVER_ADDR is not provided.
const defaultListenAddr = ":8080"

func main() {
	// Missing .env is fine; containers inject real environment.
	_ = godotenv.Load()

	zlogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zlogger.Sync() }()
	logger := zlogger.Sugar()

	ctx := context.Background()

	store, closeStore, err := buildStore(ctx, logger)
	if err != nil {
		logger.Fatalw("failed to build conversation store", "error", err)
	}
	defer closeStore()

	audio, err := buildAudioStore()
	if err != nil {
		logger.Fatalw("failed to build audio store", "error", err)
	}

	container := di.NewContainer(
		di.WithProvider(buildProvider(logger)),
		di.WithStore(store),
		di.WithAudio(audio),
		di.WithPublisher(status.NewLogPublisher(logger)),
		di.WithLogger(logger),
	)
	defer container.Pipeline.Close()

	addr := getListenAddr()
	server := &http.Server{
		Addr:              addr,
		Handler:           loggingMiddleware(newMux(container.Pipeline, logger), logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Infow("server listening", "addr", addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("server failed", "error", err)
		}
	}()

	<-shutdown
	logger.Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("graceful shutdown failed", "error", err)
		if closeErr := server.Close(); closeErr != nil {
			logger.Errorw("forced close failed", "error", closeErr)
		}
	}
}

func newMux(p *pipeline.Pipeline, logger *zap.SugaredLogger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("GET /languages", listLanguagesHandler(p, logger))
	mux.HandleFunc("POST /conversations", createConversationHandler(p, logger))
	mux.HandleFunc("GET /conversations", listConversationsHandler(p, logger))
	mux.HandleFunc("GET /conversations/{id}", getConversationHandler(p, logger))
	mux.HandleFunc("DELETE /conversations/{id}", deleteConversationHandler(p, logger))
	mux.HandleFunc("POST /conversations/{id}/recordings", submitRecordingHandler(p, logger))
	mux.HandleFunc("POST /conversations/{id}/complete", completeConversationHandler(p, logger))
	mux.HandleFunc("POST /conversations/{id}/archive", archiveConversationHandler(p, logger))
	mux.HandleFunc("GET /conversations/{id}/exchanges/{exchangeID}/audio", exchangeAudioHandler(p, logger))
	return mux
}

// buildProvider returns the real dubbing client when DUBBING_API_URL is
// set, otherwise the stub so the server runs without an upstream.
func buildProvider(logger *zap.SugaredLogger) dubbing.Provider {
	baseURL := os.Getenv("DUBBING_API_URL")
	if baseURL == "" {
		logger.Infow("DUBBING_API_URL not set, using stub dubbing provider")
		return dubbing.NewStubProvider(nil)
	}
	return dubbing.NewHTTPProvider(baseURL, os.Getenv("DUBBING_API_KEY"))
}

// buildStore returns a Postgres-backed store when DATABASE_URL is set,
// otherwise the in-memory store.
func buildStore(ctx context.Context, logger *zap.SugaredLogger) (pipeline.ConversationStore, func(), error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		logger.Infow("DATABASE_URL not set, using in-memory conversation store")
		return conversation.NewMemoryStore(), func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, postgres.Config{
		URL:      url,
		MaxConns: int32(getEnvInt("DATABASE_MAX_CONNS", 10)),
		MinConns: int32(getEnvInt("DATABASE_MIN_CONNS", 2)),
	})
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return postgres.NewConversationStore(pool), pool.Close, nil
}

// buildAudioStore keeps durable audio under AUDIO_DIR when set,
// otherwise in memory.
func buildAudioStore() (*blobstore.AudioStore, error) {
	var durable blobstore.Store = blobstore.NewMemoryStore()
	if dir := os.Getenv("AUDIO_DIR"); dir != "" {
		fs, err := blobstore.NewFSStore(dir)
		if err != nil {
			return nil, err
		}
		durable = fs
	}
	return blobstore.NewAudioStore(durable, blobstore.NewSessionCache()), nil
}

func getListenAddr() string {
	if addr := os.Getenv("APP_SERVER_ADDR"); addr != "" {
		return addr
	}
	return defaultListenAddr
}

func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func loggingMiddleware(next http.Handler, logger *zap.SugaredLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		logger.Infow("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lrw.statusCode,
			"duration", time.Since(start),
		)
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(statusCode int) {
	lrw.statusCode = statusCode
	lrw.ResponseWriter.WriteHeader(statusCode)
}
