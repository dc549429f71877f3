package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/meetscribe/meetscribe/internal/analyze"
	"github.com/meetscribe/meetscribe/internal/audio"
	"github.com/meetscribe/meetscribe/internal/config"
	"github.com/meetscribe/meetscribe/internal/gdrive"
	"github.com/meetscribe/meetscribe/internal/llm"
	"github.com/meetscribe/meetscribe/internal/server"
	"github.com/meetscribe/meetscribe/internal/session"
	"github.com/meetscribe/meetscribe/internal/storage"
	"github.com/meetscribe/meetscribe/internal/transcribe"
)

func main() {
	log.Println("meetscribe: starting")

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: loading .env failed: %v", err)
	}

	configPath := os.Getenv(config.EnvPrefix + "CONFIG")
	if configPath == "" {
		configPath = "meetscribe.yaml"
	}
	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	backend, fileTranscriber := buildBackends(ctx, &cfg)
	hub := server.NewHub()

	manager := session.NewManager(session.Options{
		Store:             store,
		Backend:           backend,
		Hub:               hub,
		AudioDir:          cfg.AudioDir,
		WindowBytes:       audio.WindowBytes(cfg.WindowSeconds),
		WorkerPoll:        cfg.ParsedWorkerPoll(),
		ResumeHorizon:     cfg.ParsedResumeHorizon(),
		CleanupInterval:   cfg.ParsedCleanupInterval(),
		BroadcastInterval: cfg.ParsedBroadcastInterval(),
		MaxAudioBytes:     cfg.MaxSessionAudioBytes(),
	})
	manager.Start()

	analyzer := buildAnalyzer(&cfg, fileTranscriber)
	if analyzer == nil {
		log.Println("warning: analysis disabled — no Gemini transcriber or LLM key configured")
	}

	startDriveBackup(ctx, &cfg)

	handler := server.Handler(server.Options{
		Manager:     manager,
		Hub:         hub,
		Analyzer:    analyzer,
		AdminSecret: cfg.AdminSecret,
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	go func() {
		log.Printf("listening on http://%s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("meetscribe: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	manager.Close()
	log.Println("meetscribe: stopped")
}

// buildBackends constructs the live-window backend and, when Gemini is
// available, the whole-file transcriber used for batch analysis.
func buildBackends(ctx context.Context, cfg *config.Config) (transcribe.Backend, analyze.FileTranscriber) {
	var gemini *transcribe.Gemini
	if cfg.GeminiAPIKey != "" {
		g, err := transcribe.NewGemini(ctx, cfg.GeminiAPIKey, cfg.TranscribeModel)
		if err != nil {
			log.Printf("warning: gemini init failed: %v", err)
		} else {
			gemini = g
		}
	}

	var backend transcribe.Backend
	switch cfg.TranscribeBackend {
	case "deepgram":
		if cfg.DeepgramAPIKey != "" {
			backend = transcribe.NewDeepgram(cfg.DeepgramAPIKey, cfg.DeepgramModel)
		}
	default:
		if gemini != nil {
			backend = gemini
		}
	}
	if backend == nil {
		log.Println("warning: no transcription backend configured — live sessions will drop audio")
		backend = noopBackend{}
	}

	if gemini == nil {
		return backend, nil
	}
	return backend, gemini.WithPrompt(analyze.BatchPrompt)
}

func buildAnalyzer(cfg *config.Config, transcriber analyze.FileTranscriber) *analyze.Analyzer {
	if transcriber == nil {
		return nil
	}

	factory := func(provider, model string) (llm.Client, error) {
		var apiKey string
		switch provider {
		case "openai":
			apiKey = cfg.OpenAIAPIKey
		case "anthropic":
			apiKey = cfg.AnthropicAPIKey
		case "gemini":
			apiKey = cfg.GeminiAPIKey
		}
		return llm.NewClient(provider, apiKey, model)
	}

	var fallback analyze.FileTranscriber
	if cfg.TranscribeFallbackModel != "" && cfg.GeminiAPIKey != "" {
		g, err := transcribe.NewGemini(context.Background(), cfg.GeminiAPIKey, cfg.TranscribeFallbackModel)
		if err != nil {
			log.Printf("warning: fallback transcriber init failed: %v", err)
		} else {
			fallback = g.WithPrompt(analyze.BatchPrompt)
		}
	}

	return analyze.New(analyze.Options{
		Transcriber: transcriber,
		Fallback:    fallback,
		Factory:     factory,
		Model:       cfg.AnalysisModel,
		ChatModel:   cfg.ChatModel,
	})
}

// startDriveBackup launches the hourly Drive backup loop when a folder id is
// configured.
func startDriveBackup(ctx context.Context, cfg *config.Config) {
	if cfg.GDriveFolderID == "" {
		return
	}

	syncer, err := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
	if err != nil {
		log.Printf("warning: drive backup disabled: %v", err)
		return
	}

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if err := syncer.BackupDatabase(cfg.DBPath, cfg.AudioDir); err != nil {
				log.Printf("warning: drive backup failed: %v", err)
			}
		}
	}()
	log.Println("drive backup enabled")
}

// noopBackend stands in when no transcription key is configured so the rest
// of the API remains usable.
type noopBackend struct{}

func (noopBackend) Transcribe(context.Context, []byte) (string, error) {
	return "", nil
}
