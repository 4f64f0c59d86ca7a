// Package protocol implements the device <-> server wire format: JSON
// Event/Request/Response envelopes and binary Stream frames.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PlayingState mirrors the device's reported media-player state.
type PlayingState string

const (
	PlayingStatePlaying PlayingState = "Playing"
	PlayingStatePaused  PlayingState = "Paused"
	PlayingStateIdle    PlayingState = "Idle"
)

// playingStateFromString is case-insensitive and defaults to Idle for an
// unrecognized value, matching the device firmware's own tolerance.
func playingStateFromString(v string) PlayingState {
	switch strings.ToLower(v) {
	case "playing":
		return PlayingStatePlaying
	case "paused":
		return PlayingStatePaused
	default:
		return PlayingStateIdle
	}
}

// Event is a device-to-server notification.
//
// Recognized Event values: kws (wake word), playing (media state change),
// instruction (streaming cloud-ASR partial).
type Event struct {
	ID    string
	Event string
	Data  json.RawMessage
}

func (e *Event) IsWakeWord() bool     { return e.Event == "kws" }
func (e *Event) IsPlayingEvent() bool { return e.Event == "playing" }
func (e *Event) IsInstruction() bool  { return e.Event == "instruction" }

// GetPlayingState extracts the reported media state from a "playing" event.
func (e *Event) GetPlayingState() (PlayingState, bool) {
	if e.Event != "playing" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return "", false
	}
	return playingStateFromString(s), true
}

// newLineHeader is the header of the double-encoded ASR payload embedded in
// an instruction event's "NewLine" field.
type newLineHeader struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

type newLineResult struct {
	Text   string `json:"text"`
	IsStop bool   `json:"is_stop"`
}

type newLinePayload struct {
	IsFinal bool            `json:"is_final"`
	Results []newLineResult `json:"results"`
}

type newLineMessage struct {
	Header  newLineHeader  `json:"header"`
	Payload newLinePayload `json:"payload"`
}

// instructionData is the shape of an instruction event's Data field in the
// open-xiaoai wrapped form; "NewLine" carries an escaped-JSON string, and
// a bare "NewFile" string marker carries no transcript.
type instructionData struct {
	NewLine string `json:"NewLine"`
}

// decodeInstruction re-parses the double-encoded ASR payload and also
// tolerates the flat (unwrapped) payload/results shape some firmware
// variants emit directly.
func (e *Event) decodeInstruction() (*newLineMessage, bool) {
	if e.Event != "instruction" {
		return nil, false
	}

	var marker string
	if err := json.Unmarshal(e.Data, &marker); err == nil {
		// "NewFile" marks the start of a new ASR segment; no transcript.
		return nil, false
	}

	var wrapped instructionData
	if err := json.Unmarshal(e.Data, &wrapped); err == nil && wrapped.NewLine != "" {
		var inner newLineMessage
		if err := json.Unmarshal([]byte(wrapped.NewLine), &inner); err == nil {
			return &inner, true
		}
		return nil, false
	}

	var flat newLineMessage
	if err := json.Unmarshal(e.Data, &flat); err == nil && len(flat.Payload.Results) > 0 {
		return &flat, true
	}

	return nil, false
}

// GetInstructionText returns the extracted transcript and whether the round
// is final (is_final OR the result's is_stop, per the device firmware).
func (e *Event) GetInstructionText() (text string, isFinal bool, ok bool) {
	msg, found := e.decodeInstruction()
	if !found || len(msg.Payload.Results) == 0 {
		return "", false, false
	}
	result := msg.Payload.Results[0]
	return result.Text, msg.Payload.IsFinal || result.IsStop, true
}

// cloudPlaybackHeaders is the extensible set of (namespace, name) pairs that
// mark a cloud-originated playback attempt the interception gate must catch.
// Left as a map, not an if-chain, so new headers can be added (spec §9 open
// question: the set is deliberately not closed).
var cloudPlaybackHeaders = map[newLineHeader]bool{
	{Namespace: "AudioPlayer", Name: "Play"}:         true,
	{Namespace: "SpeechSynthesizer", Name: "Speak"}:  true,
}

// IsCloudPlaybackCommand reports whether this instruction event is the
// device's built-in cloud assistant attempting to seize playback.
func (e *Event) IsCloudPlaybackCommand() bool {
	msg, found := e.decodeInstruction()
	if !found {
		return false
	}
	return cloudPlaybackHeaders[msg.Header]
}

// Stream is a device-to-server binary audio frame.
type Stream struct {
	ID   string
	Tag  string
	Data []byte
}

func (s *Stream) IsAudioStream() bool { return s.Tag == "record" }

// streamWire is the JSON shape a Stream frame actually has on the wire: the
// Rust client serializes a Vec<u8> as a JSON array of small integers.
type streamWire struct {
	ID    string `json:"id"`
	Tag   string `json:"tag"`
	Bytes []byte `json:"bytes"`
	Data  any    `json:"data"`
}

// ParseBinaryMessage decodes a binary WebSocket frame into a Stream. If the
// frame is not valid JSON, the caller must fall back to treating the whole
// frame as raw PCM — this function only ever returns a Stream on success.
func ParseBinaryMessage(data []byte) (*Stream, bool) {
	var wire streamWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, false
	}
	if wire.Tag == "" {
		return nil, false
	}
	id := wire.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Stream{ID: id, Tag: wire.Tag, Data: wire.Bytes}, true
}

// Request is a server-to-device command.
type Request struct {
	ID      string
	Command string
	Payload any
}

type requestWire struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Payload any    `json:"payload,omitempty"`
}

// Marshal serializes the request in the open-xiaoai wrapped envelope.
func (r *Request) Marshal() ([]byte, error) {
	return json.Marshal(map[string]requestWire{
		"Request": {ID: r.ID, Command: r.Command, Payload: r.Payload},
	})
}

func newRequest(command string, payload any) *Request {
	return &Request{ID: uuid.NewString(), Command: command, Payload: payload}
}

// The following factories are the exact shell payloads the device firmware
// recognizes (spec §6.1). Changing any of these strings breaks device
// compatibility.

func PlayURL(url string) *Request {
	return newRequest("run_shell", fmt.Sprintf(`ubus call mediaplayer player_play_url '{"url":"%s","type": 1}'`, url))
}

// escapeSingleQuotes applies the shell single-quote escape ('\'') used when
// embedding arbitrary text inside a single-quoted shell argument.
func escapeSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

func PlayText(text string) *Request {
	return newRequest("run_shell", fmt.Sprintf(`/usr/sbin/tts_play.sh '%s'`, escapeSingleQuotes(text)))
}

func Play() *Request  { return newRequest("run_shell", "mphelper play") }
func Pause() *Request { return newRequest("run_shell", "mphelper pause") }

func WakeUp(silent bool) *Request {
	var script string
	if silent {
		script = `ubus call pnshelper event_notify '{"src":1,"event":0}'`
	} else {
		script = `ubus call pnshelper event_notify '{"src":3, "event":7}' && ` +
			`sleep 0.1 && ` +
			`ubus call pnshelper event_notify '{"src":3, "event":8}'`
	}
	return newRequest("run_shell", script)
}

func AbortXiaoai() *Request {
	return newRequest("run_shell", "/etc/init.d/mico_aivs_lab restart >/dev/null 2>&1")
}

func SetVolume(level int) *Request {
	if level < 0 {
		level = 0
	} else if level > 100 {
		level = 100
	}
	return newRequest("run_shell", fmt.Sprintf(`ubus call player_command volume_ctrl '{"action":"set","value":%d}'`, level))
}

func VolumeUp(step int) *Request {
	return newRequest("run_shell", fmt.Sprintf(`ubus call player_command volume_ctrl '{"action":"up","value":%d}'`, step))
}

func VolumeDown(step int) *Request {
	return newRequest("run_shell", fmt.Sprintf(`ubus call player_command volume_ctrl '{"action":"down","value":%d}'`, step))
}

// StartRecordingPayload is the payload of a start_recording request.
type StartRecordingPayload struct {
	PCM           string `json:"pcm"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bits_per_sample"`
	PeriodSize    int    `json:"period_size"`
	BufferSize    int    `json:"buffer_size"`
}

// StartRecording requests the device start streaming PCM from its shared
// capture device. pcm="noop" shares the capture device with the cloud ASR
// path, which is why AbortXiaoai must accompany it.
func StartRecording(sampleRate int) *Request {
	return newRequest("start_recording", StartRecordingPayload{
		PCM:           "noop",
		SampleRate:    sampleRate,
		Channels:      1,
		BitsPerSample: 16,
		PeriodSize:    360,
		BufferSize:    1440,
	})
}

func StopRecording() *Request { return newRequest("stop_recording", nil) }

// Response is a device-to-server command acknowledgment.
type Response struct {
	ID   string
	Code int
	Msg  string
	Data json.RawMessage
}

func (r *Response) IsSuccess() bool { return r.Code == 0 }
func (r *Response) IsFailure() bool { return r.Code == -1 }

type eventWire struct {
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type responseWire struct {
	ID   string          `json:"id"`
	Code *int            `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// ParseTextMessage decodes a JSON text frame into either an Event or a
// Response. It accepts both the wrapped open-xiaoai envelope and the legacy
// flat form. Returns (nil, nil, false) for unparseable or unrecognized
// input, which the caller must log and drop.
func ParseTextMessage(data []byte) (*Event, *Response, bool) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, nil, false
	}

	if raw, ok := envelope["Event"]; ok {
		if ev, ok := decodeEvent(raw); ok {
			return ev, nil, true
		}
		return nil, nil, false
	}
	if raw, ok := envelope["Response"]; ok {
		if resp, ok := decodeResponse(raw); ok {
			return nil, resp, true
		}
		return nil, nil, false
	}

	// Legacy flat form.
	if _, ok := envelope["event"]; ok {
		if ev, ok := decodeEvent(data); ok {
			return ev, nil, true
		}
		return nil, nil, false
	}
	if _, ok := envelope["code"]; ok {
		if resp, ok := decodeResponse(data); ok {
			return nil, resp, true
		}
		return nil, nil, false
	}
	if _, ok := envelope["id"]; ok {
		if resp, ok := decodeResponse(data); ok {
			return nil, resp, true
		}
	}

	return nil, nil, false
}

func decodeEvent(raw json.RawMessage) (*Event, bool) {
	var wire eventWire
	if err := json.Unmarshal(raw, &wire); err != nil || wire.Event == "" {
		return nil, false
	}
	id := wire.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Event{ID: id, Event: wire.Event, Data: wire.Data}, true
}

func decodeResponse(raw json.RawMessage) (*Response, bool) {
	var wire responseWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, false
	}
	code := -1
	if wire.Code != nil {
		code = *wire.Code
	}
	return &Response{ID: wire.ID, Code: code, Msg: wire.Msg, Data: wire.Data}, true
}
