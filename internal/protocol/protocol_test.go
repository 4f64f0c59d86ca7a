package protocol

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestParseTextMessage_WakeWord(t *testing.T) {
	ev, resp, ok := ParseTextMessage([]byte(`{"Event":{"id":"e1","event":"kws","data":"小爱同学"}}`))
	if !ok || resp != nil {
		t.Fatalf("expected a wake event, got ev=%v resp=%v ok=%v", ev, resp, ok)
	}
	if !ev.IsWakeWord() {
		t.Errorf("expected IsWakeWord() true")
	}
	if ev.ID != "e1" {
		t.Errorf("expected id e1, got %q", ev.ID)
	}
}

func TestParseTextMessage_FlatEvent(t *testing.T) {
	ev, _, ok := ParseTextMessage([]byte(`{"id":"e2","event":"playing","data":"Playing"}`))
	if !ok {
		t.Fatal("expected flat event to parse")
	}
	state, got := ev.GetPlayingState()
	if !got || state != PlayingStatePlaying {
		t.Errorf("expected Playing, got %v (%v)", state, got)
	}
}

func TestParseTextMessage_Unparseable(t *testing.T) {
	_, _, ok := ParseTextMessage([]byte(`not json`))
	if ok {
		t.Error("expected unparseable frame to be rejected")
	}
}

func TestGetInstructionText_NewLine(t *testing.T) {
	inner := `{"header":{"namespace":"SpeechRecognizer","name":"RecognizeResult"},"payload":{"is_final":false,"results":[{"text":"播放音乐","is_stop":false}]}}`
	escaped, _ := json.Marshal(inner)
	data := []byte(`{"NewLine":` + string(escaped) + `}`)

	ev := &Event{Event: "instruction", Data: data}
	text, isFinal, ok := ev.GetInstructionText()
	if !ok {
		t.Fatal("expected instruction payload to parse")
	}
	if text != "播放音乐" {
		t.Errorf("expected text 播放音乐, got %q", text)
	}
	if isFinal {
		t.Errorf("expected non-final")
	}
}

func TestGetInstructionText_FinalViaIsStop(t *testing.T) {
	inner := `{"header":{"namespace":"SpeechRecognizer","name":"RecognizeResult"},"payload":{"is_final":false,"results":[{"text":"上一首","is_stop":true}]}}`
	escaped, _ := json.Marshal(inner)
	data := []byte(`{"NewLine":` + string(escaped) + `}`)

	ev := &Event{Event: "instruction", Data: data}
	_, isFinal, ok := ev.GetInstructionText()
	if !ok || !isFinal {
		t.Errorf("expected is_stop to imply final, got ok=%v final=%v", ok, isFinal)
	}
}

func TestGetInstructionText_NewFileMarker(t *testing.T) {
	data, _ := json.Marshal("NewFile")
	ev := &Event{Event: "instruction", Data: data}
	_, _, ok := ev.GetInstructionText()
	if ok {
		t.Error("expected NewFile marker to carry no transcript")
	}
}

func TestIsCloudPlaybackCommand(t *testing.T) {
	inner := `{"header":{"namespace":"AudioPlayer","name":"Play"},"payload":{"results":[]}}`
	escaped, _ := json.Marshal(inner)
	data := []byte(`{"NewLine":` + string(escaped) + `}`)

	ev := &Event{Event: "instruction", Data: data}
	if !ev.IsCloudPlaybackCommand() {
		t.Error("expected AudioPlayer/Play to be recognized as a cloud playback command")
	}
}

func TestParseBinaryMessage(t *testing.T) {
	// S9: literal bytes array payload.
	frame := []byte(`{"id":"s1","tag":"record","bytes":[0,1,2,3,4,5],"data":null}`)
	stream, ok := ParseBinaryMessage(frame)
	if !ok {
		t.Fatal("expected stream to parse")
	}
	if stream.ID != "s1" || stream.Tag != "record" {
		t.Errorf("unexpected stream: %+v", stream)
	}
	if !bytes.Equal(stream.Data, []byte{0, 1, 2, 3, 4, 5}) {
		t.Errorf("unexpected data: %v", stream.Data)
	}
}

func TestParseBinaryMessage_FallbackOnInvalidJSON(t *testing.T) {
	_, ok := ParseBinaryMessage([]byte{0xff, 0x00, 0x01})
	if ok {
		t.Error("expected invalid JSON to report not-ok so caller falls back to raw PCM")
	}
}

func TestRequestShellPayloads(t *testing.T) {
	cases := []struct {
		name string
		req  *Request
		want string
	}{
		{"abort", AbortXiaoai(), "/etc/init.d/mico_aivs_lab restart >/dev/null 2>&1"},
		{"pause", Pause(), "mphelper pause"},
		{"play", Play(), "mphelper play"},
		{"play_url", PlayURL("http://x/a.mp3"), `ubus call mediaplayer player_play_url '{"url":"http://x/a.mp3","type": 1}'`},
		{"volume_up", VolumeUp(10), `ubus call player_command volume_ctrl '{"action":"up","value":10}'`},
	}
	for _, c := range cases {
		got, ok := c.req.Payload.(string)
		if !ok || got != c.want {
			t.Errorf("%s: expected payload %q, got %v", c.name, c.want, c.req.Payload)
		}
	}
}

func TestPlayTextEscapesSingleQuotes(t *testing.T) {
	req := PlayText("it's me")
	payload, _ := req.Payload.(string)
	want := `/usr/sbin/tts_play.sh 'it'\''s me'`
	if payload != want {
		t.Errorf("expected %q, got %q", want, payload)
	}
}

func TestStartRecordingDefaults(t *testing.T) {
	req := StartRecording(16000)
	payload, ok := req.Payload.(StartRecordingPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", req.Payload)
	}
	if payload.PCM != "noop" || payload.SampleRate != 16000 || payload.Channels != 1 ||
		payload.BitsPerSample != 16 || payload.PeriodSize != 360 || payload.BufferSize != 1440 {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestRequestMarshalRoundTrip(t *testing.T) {
	req := StartRecording(16000)
	raw, err := req.Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded struct {
		Request struct {
			ID      string                 `json:"id"`
			Command string                 `json:"command"`
			Payload StartRecordingPayload  `json:"payload"`
		} `json:"Request"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Request.Command != "start_recording" || decoded.Request.Payload.SampleRate != 16000 {
		t.Errorf("round trip mismatch: %+v", decoded.Request)
	}
}
