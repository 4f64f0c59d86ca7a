// Package collaborators defines the narrow external-collaborator interfaces
// of spec §6.2 (ASR, TTS, LLM, NLU, content catalog, play-queue store,
// session store). The core depends only on these interfaces; every
// business-logic concern behind them (catalog search, ASR/TTS vendor
// selection, auth) is explicitly out of scope (spec §1 non-goals).
package collaborators

import "context"

// ASR transcribes PCM audio. Empty text is a valid outcome ("not caught").
type ASR interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}

// TTS synthesizes text to a playable URL. Identical input must return the
// same URL — the cache contract is enforced by the collaborator, not here.
type TTS interface {
	SynthesizeToURL(ctx context.Context, text string, language string) (string, error)
}

// LLM is used only by the chat handler.
type LLM interface {
	Chat(ctx context.Context, text string, history []ChatMessage) (string, error)
}

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	Role    string
	Content string
}

// Intent is the closed vocabulary recognized by NLU (supplemented from
// original_source/server/app/core/nlu.py's Intent enum).
type Intent string

const (
	IntentPlayStory           Intent = "play_story"
	IntentPlayStoryCategory   Intent = "play_story_category"
	IntentPlayStoryByName     Intent = "play_story_by_name"
	IntentPlayMusic           Intent = "play_music"
	IntentPlayMusicCategory   Intent = "play_music_category"
	IntentPlayMusicByName     Intent = "play_music_by_name"
	IntentPlayMusicByArtist   Intent = "play_music_by_artist"
	IntentControlPause        Intent = "control_pause"
	IntentControlResume       Intent = "control_resume"
	IntentControlStop         Intent = "control_stop"
	IntentControlNext         Intent = "control_next"
	IntentControlPrevious     Intent = "control_previous"
	IntentControlVolumeUp     Intent = "control_volume_up"
	IntentControlVolumeDown   Intent = "control_volume_down"
	IntentEnglishLearn        Intent = "english_learn"
	IntentEnglishWord         Intent = "english_word"
	IntentEnglishFollow       Intent = "english_follow"
	IntentChat                Intent = "chat"
	IntentDeleteContent       Intent = "delete_content"
	IntentSystemTime          Intent = "system_time"
	IntentSystemWeather       Intent = "system_weather"
	IntentUnknown             Intent = "unknown"
)

// NLUResult is the output of NLU.Recognize.
type NLUResult struct {
	Intent     Intent
	Slots      map[string]string
	Confidence float64
	RawText    string
}

// NLU is the pure function text -> (intent, slots) the core calls.
type NLU interface {
	Recognize(ctx context.Context, text string) (NLUResult, error)
}

// ContentType partitions the catalog (spec §6.2's content-catalog
// operations are parameterized by type: story vs. music).
type ContentType string

const (
	ContentTypeStory ContentType = "story"
	ContentTypeMusic ContentType = "music"
)

// ContentItem is the minimal shape a handler needs out of the catalog.
type ContentItem struct {
	ID      string
	Title   string
	Artist  string
	PlayURL string
}

// ContentCatalog is the narrow interface to the (out-of-scope) content
// catalog; the in-memory implementation in memory.go is illustrative only.
type ContentCatalog interface {
	GetRandom(ctx context.Context, t ContentType, category string) (*ContentItem, error)
	GetContentByName(ctx context.Context, t ContentType, name string) (*ContentItem, error)
	GetContentByID(ctx context.Context, id string) (*ContentItem, error)
	SearchByArtist(ctx context.Context, artist string, t ContentType, limit int) ([]ContentItem, error)
	SearchByArtistAndTitle(ctx context.Context, artist, title string) (*ContentItem, error)
	GetContentList(ctx context.Context, t ContentType, category string, limit int, shuffle bool) ([]ContentItem, error)
	SmartSearch(ctx context.Context, keyword string, limit int) ([]ContentItem, error)
	IncrementPlayCount(ctx context.Context, id string) error
	DeleteContent(ctx context.Context, id string, hard bool) (bool, error)
}

// WordInfo is the minimal shape the english handler needs.
type WordInfo struct {
	Word        string
	Translation string
	Phonetic    string
	AudioURL    string
}

// EnglishCatalog is a narrow addition to ContentCatalog for the english
// handler's word lookups (kept separate since it has its own shape).
type EnglishCatalog interface {
	GetRandomWord(ctx context.Context, level string) (*WordInfo, error)
	GetWord(ctx context.Context, word string) (*WordInfo, error)
}

// PlayMode governs PlayQueueStore.GetNext/GetPrevious auto-advance
// semantics (spec §6.2, scenario S6).
type PlayMode string

const (
	ModeSequential   PlayMode = "sequential"
	ModeSingleLoop   PlayMode = "single_loop"
	ModePlaylistLoop PlayMode = "playlist_loop"
	ModeShuffle      PlayMode = "shuffle"
)

// PlayQueueStore is keyed by deviceId (spec §6.2). In Sequential mode,
// GetNext without wrap returns ("", false) at the end; PlaylistLoop (or
// wrap=true for user-initiated nav) wraps; SingleLoop returns the current
// id; Shuffle returns a random index.
type PlayQueueStore interface {
	SetMode(ctx context.Context, deviceID string, mode PlayMode) error
	GetMode(ctx context.Context, deviceID string) (PlayMode, error)
	SetQueue(ctx context.Context, deviceID string, ids []string, startIndex int) error
	AddToQueue(ctx context.Context, deviceID string, ids []string) error
	GetNext(ctx context.Context, deviceID string, wrap bool) (id string, ok bool, err error)
	GetPrevious(ctx context.Context, deviceID string, wrap bool) (id string, ok bool, err error)
	ClearQueue(ctx context.Context, deviceID string) error
	GetQueue(ctx context.Context, deviceID string) ([]string, error)
}

// SessionStore is the conversation-context store used by the chat handler;
// the core is agnostic to its backend.
type SessionStore interface {
	GetConversationContext(ctx context.Context, deviceID string, limit int) ([]ChatMessage, error)
	AddToConversation(ctx context.Context, deviceID, role, content string) error
	ClearConversation(ctx context.Context, deviceID string) error
}
