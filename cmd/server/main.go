package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/voicegrow/speaker-orchestrator/internal/collaborators"
	"github.com/voicegrow/speaker-orchestrator/internal/config"
	"github.com/voicegrow/speaker-orchestrator/internal/coordinator"
	"github.com/voicegrow/speaker-orchestrator/internal/endpoint"
	"github.com/voicegrow/speaker-orchestrator/internal/handlers"
	"github.com/voicegrow/speaker-orchestrator/internal/logging"
	"github.com/voicegrow/speaker-orchestrator/internal/pipeline"
	"github.com/voicegrow/speaker-orchestrator/internal/session"
	"github.com/voicegrow/speaker-orchestrator/internal/transport"
	"github.com/voicegrow/speaker-orchestrator/pkg/orchestrator"
	llmProvider "github.com/voicegrow/speaker-orchestrator/pkg/providers/llm"
	sttProvider "github.com/voicegrow/speaker-orchestrator/pkg/providers/stt"
	ttsProvider "github.com/voicegrow/speaker-orchestrator/pkg/providers/tts"
)

// main wires the orchestrator of spec §2: a gin HTTP server exposing the
// device websocket endpoint (§6.1), a cached-TTS file route, and a health
// probe. Provider selection follows the same env-var switchboard as the
// teacher's cmd/agent, generalized from one fixed STT/LLM pair to every
// collaborator this module needs.
func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel)

	stt := selectSTT(log)
	llm := selectLLM(log)
	lokutorKey := os.Getenv("LOKUTOR_API_KEY")
	if lokutorKey == "" {
		log.Error("LOKUTOR_API_KEY must be set")
		os.Exit(1)
	}
	tts := ttsProvider.NewLokutorTTS(lokutorKey)

	lang := os.Getenv("ORCHESTRATOR_LANGUAGE")
	if lang == "" {
		lang = string(orchestrator.LanguageZh)
	}

	asrAdapter := collaborators.NewASRAdapter(stt, orchestrator.Language(lang))
	ttsAdapter := collaborators.NewTTSAdapter(tts, orchestrator.VoiceF1, publicBaseURL(cfg))
	llmAdapter := collaborators.NewLLMAdapter(llm, "你是一个智能音箱助手，用简短的口语化句子回答。")

	queue := newPlayQueueStore(log)
	catalog := collaborators.NewMemoryContentCatalog(nil)
	englishCatalog := collaborators.NewMemoryEnglishCatalog(nil)
	sessions := collaborators.NewMemorySessionStore()
	nlu := collaborators.NewRuleNLU()

	registry := handlers.NewRegistry()
	registry.Register(handlers.NewStoryHandler(catalog, queue),
		collaborators.IntentPlayStory, collaborators.IntentPlayStoryCategory, collaborators.IntentPlayStoryByName)
	registry.Register(handlers.NewMusicHandler(catalog, queue),
		collaborators.IntentPlayMusic, collaborators.IntentPlayMusicCategory,
		collaborators.IntentPlayMusicByName, collaborators.IntentPlayMusicByArtist)
	registry.Register(handlers.NewControlHandler(queue, catalog),
		collaborators.IntentControlPause, collaborators.IntentControlResume, collaborators.IntentControlStop,
		collaborators.IntentControlNext, collaborators.IntentControlPrevious,
		collaborators.IntentControlVolumeUp, collaborators.IntentControlVolumeDown)
	registry.Register(handlers.NewEnglishHandler(englishCatalog),
		collaborators.IntentEnglishLearn, collaborators.IntentEnglishWord, collaborators.IntentEnglishFollow)
	registry.Register(handlers.NewChatHandler(llmAdapter, sessions), collaborators.IntentChat, collaborators.IntentUnknown)
	registry.Register(handlers.NewDeleteHandler(catalog), collaborators.IntentDeleteContent)
	registry.Register(handlers.NewSystemHandler(), collaborators.IntentSystemTime, collaborators.IntentSystemWeather)

	p := &pipeline.Pipeline{
		ASR:          asrAdapter,
		NLU:          nlu,
		TTS:          ttsAdapter,
		Queue:        queue,
		Registry:     registry,
		Log:          log,
		ReplyTimeout: cfg.ReplyTimeout,
		Language:     lang,
	}
	coord := coordinator.New(p, queue, catalog, log, cfg)
	manager := transport.NewManager(log)

	frameHandlers := transport.FrameHandlers{
		OnEvent:    coord.OnEvent,
		OnResponse: coord.OnResponse,
		OnStream:   coord.OnStream,
		// A binary frame that fails the Stream JSON decode still carries
		// audio (§6.1, scenario S9: "a frame that fails JSON parse is
		// appended as its raw bytes") — route it through the same
		// endpointer path OnStream uses for a decoded frame.
		OnRawPCM: coord.OnRawPCM,
	}

	endpointParams := endpoint.Params{
		SilenceThreshold: cfg.Audio.SilenceThreshold,
		MaxDuration:      cfg.Audio.MaxDuration,
		MinDuration:      cfg.Audio.MinDuration,
		EnergyThreshold:  cfg.Audio.EnergyThreshold,
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/tts/:id", func(c *gin.Context) {
		audio, ok := ttsAdapter.Lookup(c.Param("id"))
		if !ok {
			c.Status(http.StatusNotFound)
			return
		}
		c.Data(http.StatusOK, "audio/mpeg", audio)
	})

	router.GET("/ws", func(c *gin.Context) {
		conn, err := websocket.Accept(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("websocket accept failed: %v", err)
			return
		}
		deviceID := c.Query("device_id")
		var sess *session.Session
		if deviceID != "" {
			sess = manager.AcceptWithID(deviceID, conn, endpointParams)
		} else {
			sess = manager.Accept(conn, endpointParams)
		}
		log.Info("device %s connected", sess.DeviceID)
		manager.Serve(c.Request.Context(), conn, sess, frameHandlers)
		log.Info("device %s disconnected", sess.DeviceID)
	})

	srv := &http.Server{
		Addr:    cfg.ServerHost + ":" + strconv.Itoa(cfg.ServerPort),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error: %v", err)
			os.Exit(1)
		}
	}()
	log.Info("listening on %s", srv.Addr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ReplyTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// selectSTT mirrors the teacher's cmd/agent STT switchboard, keyed off
// STT_PROVIDER (default groq).
func selectSTT(log logging.Logger) orchestrator.STTProvider {
	name := os.Getenv("STT_PROVIDER")
	if name == "" {
		name = "groq"
	}
	switch name {
	case "openai":
		key := requireEnv(log, "OPENAI_API_KEY", "openai STT")
		return sttProvider.NewOpenAISTT(key, "whisper-1")
	case "deepgram":
		key := requireEnv(log, "DEEPGRAM_API_KEY", "deepgram STT")
		return sttProvider.NewDeepgramSTT(key)
	case "assemblyai":
		key := requireEnv(log, "ASSEMBLYAI_API_KEY", "assemblyai STT")
		return sttProvider.NewAssemblyAISTT(key)
	case "groq":
		fallthrough
	default:
		key := requireEnv(log, "GROQ_API_KEY", "groq STT")
		model := os.Getenv("GROQ_STT_MODEL")
		if model == "" {
			model = "whisper-large-v3-turbo"
		}
		return sttProvider.NewGroqSTT(key, model)
	}
}

// selectLLM mirrors the teacher's cmd/agent LLM switchboard, keyed off
// LLM_PROVIDER (default groq). Only used by the chat handler's fallback
// conversation intent.
func selectLLM(log logging.Logger) orchestrator.LLMProvider {
	name := os.Getenv("LLM_PROVIDER")
	if name == "" {
		name = "groq"
	}
	switch name {
	case "openai":
		key := requireEnv(log, "OPENAI_API_KEY", "openai LLM")
		return llmProvider.NewOpenAILLM(key, "gpt-4o")
	case "anthropic":
		key := requireEnv(log, "ANTHROPIC_API_KEY", "anthropic LLM")
		return llmProvider.NewAnthropicLLM(key, "claude-3-5-sonnet-20241022")
	case "google":
		key := requireEnv(log, "GOOGLE_API_KEY", "google LLM")
		return llmProvider.NewGoogleLLM(key, "gemini-1.5-flash")
	case "groq":
		fallthrough
	default:
		key := requireEnv(log, "GROQ_API_KEY", "groq LLM")
		return llmProvider.NewGroqLLM(key, "llama-3.3-70b-versatile")
	}
}

func requireEnv(log logging.Logger, name, usage string) string {
	v := os.Getenv(name)
	if v == "" {
		log.Error("%s must be set for %s", name, usage)
		os.Exit(1)
	}
	return v
}

// newPlayQueueStore backs the queue with Redis when REDIS_ADDR is set,
// falling back to the in-memory store for a single-instance deployment with
// no Redis available (e.g. the devicesim demo).
func newPlayQueueStore(log logging.Logger) collaborators.PlayQueueStore {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		log.Info("REDIS_ADDR not set, using in-memory play queue store")
		return collaborators.NewMemoryPlayQueueStore()
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
	return collaborators.NewRedisPlayQueueStore(client)
}

func publicBaseURL(cfg config.Config) string {
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		return v
	}
	return "http://" + cfg.ServerHost + ":" + strconv.Itoa(cfg.ServerPort)
}
