// Package orchestrator holds the small vocabulary shared by the speech
// provider adapters in pkg/providers: the provider interfaces themselves
// plus the Language/Voice/Message value types their signatures are built
// from. The conversation-state and VAD pieces this package used to carry
// have been superseded by internal/session and internal/endpoint, which
// model the device-session and voice-activity concerns for this system
// directly rather than through a generic conversation abstraction. The
// adapters do no logging of their own; they return wrapped errors, and
// internal/pipeline logs those through internal/logging.Logger.
package orchestrator

import "context"

type STTProvider interface {
	Transcribe(ctx context.Context, audio []byte, lang Language) (string, error)
	Name() string
}

type LLMProvider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Name() string
}

type TTSProvider interface {
	Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error)
	StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error
	Name() string
}

type Voice string

const (
	VoiceF1 Voice = "F1"
	VoiceF2 Voice = "F2"
	VoiceF3 Voice = "F3"
	VoiceF4 Voice = "F4"
	VoiceF5 Voice = "F5"
	VoiceM1 Voice = "M1"
	VoiceM2 Voice = "M2"
	VoiceM3 Voice = "M3"
	VoiceM4 Voice = "M4"
	VoiceM5 Voice = "M5"
)

type Language string

const (
	LanguageEn Language = "en"
	LanguageEs Language = "es"
	LanguageFr Language = "fr"
	LanguageDe Language = "de"
	LanguageIt Language = "it"
	LanguagePt Language = "pt"
	LanguageJa Language = "ja"
	LanguageZh Language = "zh"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
