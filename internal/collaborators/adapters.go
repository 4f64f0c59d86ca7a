package collaborators

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/voicegrow/speaker-orchestrator/pkg/orchestrator"
)

// ASRAdapter narrows an orchestrator.STTProvider (pkg/providers/stt) down to
// the ASR interface: a single fixed language, no provider-name plumbing.
type ASRAdapter struct {
	provider orchestrator.STTProvider
	lang     orchestrator.Language
}

func NewASRAdapter(provider orchestrator.STTProvider, lang orchestrator.Language) *ASRAdapter {
	return &ASRAdapter{provider: provider, lang: lang}
}

// Transcribe ignores sampleRate for every provider: each provider encodes
// audio at the rate it was configured with at construction (e.g.
// stt.GroqSTT.SetSampleRate), not the rate passed here.
func (a *ASRAdapter) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	return a.provider.Transcribe(ctx, pcm, a.lang)
}

// LLMAdapter narrows an orchestrator.LLMProvider down to the chat-only LLM
// interface used by the chat handler.
type LLMAdapter struct {
	provider     orchestrator.LLMProvider
	systemPrompt string
}

func NewLLMAdapter(provider orchestrator.LLMProvider, systemPrompt string) *LLMAdapter {
	return &LLMAdapter{provider: provider, systemPrompt: systemPrompt}
}

func (a *LLMAdapter) Chat(ctx context.Context, text string, history []ChatMessage) (string, error) {
	messages := make([]orchestrator.Message, 0, len(history)+2)
	if a.systemPrompt != "" {
		messages = append(messages, orchestrator.Message{Role: "system", Content: a.systemPrompt})
	}
	for _, m := range history {
		messages = append(messages, orchestrator.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, orchestrator.Message{Role: "user", Content: text})
	return a.provider.Complete(ctx, messages)
}

// TTSAdapter narrows an orchestrator.TTSProvider down to the URL-producing
// TTS interface: it synthesizes bytes via the wrapped provider, memoizes
// them in process memory keyed by a content hash, and hands back a URL
// that an HTTP handler (see cmd/server) can later resolve with Lookup.
// Identical (text, language) input always resolves to the same URL, which
// is the contract §6.2 names explicitly.
type TTSAdapter struct {
	provider orchestrator.TTSProvider
	voice    orchestrator.Voice
	baseURL  string

	mu    sync.Mutex
	cache map[string][]byte
}

func NewTTSAdapter(provider orchestrator.TTSProvider, voice orchestrator.Voice, baseURL string) *TTSAdapter {
	return &TTSAdapter{
		provider: provider,
		voice:    voice,
		baseURL:  baseURL,
		cache:    make(map[string][]byte),
	}
}

func contentHash(text, language string) string {
	sum := sha256.Sum256([]byte(language + "\x00" + text))
	return hex.EncodeToString(sum[:])[:24]
}

func (a *TTSAdapter) SynthesizeToURL(ctx context.Context, text string, language string) (string, error) {
	id := contentHash(text, language)

	a.mu.Lock()
	_, cached := a.cache[id]
	a.mu.Unlock()
	if cached {
		return a.url(id), nil
	}

	audio, err := a.provider.Synthesize(ctx, text, a.voice, orchestrator.Language(language))
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.cache[id] = audio
	a.mu.Unlock()

	return a.url(id), nil
}

func (a *TTSAdapter) url(id string) string {
	return fmt.Sprintf("%s/tts/%s", a.baseURL, id)
}

// Lookup resolves a previously synthesized clip by its id (the final path
// segment of the URL SynthesizeToURL returned). Used by the /tts/:id route.
func (a *TTSAdapter) Lookup(id string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.cache[id]
	return b, ok
}
