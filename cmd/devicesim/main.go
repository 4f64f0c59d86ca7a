// Command devicesim re-homes the teacher's cmd/agent duplex-audio loop onto
// the device side of this module's wire protocol (§6.1): it dials the
// orchestrator's websocket endpoint, captures real microphone audio via
// malgo the same way cmd/agent did, and speaks start_recording/
// stop_recording/run_shell the way the firmware does, instead of driving a
// local orchestrator.Stream. A wake word is simulated by pressing Enter on
// stdin, since no real KWS model is wired into this simulator.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/gen2brain/malgo"
	"github.com/google/uuid"
)

const (
	sampleRate = 16000
	channels   = 1
)

// deviceEvent is the device-to-server envelope devicesim speaks; mirrors
// protocol.Event's wire shape from the opposite direction.
type deviceEvent struct {
	Event struct {
		ID    string `json:"id"`
		Event string `json:"event"`
		Data  any    `json:"data"`
	} `json:"Event"`
}

func newKWSEvent() deviceEvent {
	var e deviceEvent
	e.Event.ID = uuid.NewString()
	e.Event.Event = "kws"
	return e
}

func newPlayingEvent(state string) deviceEvent {
	var e deviceEvent
	e.Event.ID = uuid.NewString()
	e.Event.Event = "playing"
	e.Event.Data = state
	return e
}

// deviceResponse is the device-to-server ack envelope.
type deviceResponse struct {
	Response struct {
		ID   string `json:"id"`
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"Response"`
}

func ackFor(requestID string) deviceResponse {
	var r deviceResponse
	r.Response.ID = requestID
	r.Response.Code = 0
	r.Response.Msg = "ok"
	return r
}

// inboundRequest is the server-to-device envelope devicesim decodes; mirrors
// protocol.Request's wire shape, payload left raw since its shape depends
// on Command.
type inboundRequest struct {
	Request struct {
		ID      string          `json:"id"`
		Command string          `json:"command"`
		Payload json.RawMessage `json:"payload"`
	} `json:"Request"`
}

// streamFrame is the binary audio frame devicesim sends while recording.
// Bytes is a []byte field, which encoding/json marshals as a base64 string
// rather than the integer array the firmware sends; the []byte field of
// protocol.ParseBinaryMessage's streamWire decodes either form.
type streamFrame struct {
	ID    string `json:"id"`
	Tag   string `json:"tag"`
	Bytes []byte `json:"bytes"`
}

var playURLPattern = regexp.MustCompile(`"url":"([^"]+)"`)

func main() {
	serverURL := os.Getenv("DEVICESIM_SERVER_URL")
	if serverURL == "" {
		serverURL = "ws://localhost:4399/ws"
	}
	deviceID := os.Getenv("DEVICESIM_DEVICE_ID")
	if deviceID == "" {
		deviceID = "devicesim-" + uuid.NewString()[:8]
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, _, err := websocket.Dial(ctx, serverURL+"?device_id="+deviceID, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", serverURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	fmt.Printf("devicesim connected as %s to %s\n", deviceID, serverURL)
	fmt.Println("Press Enter to simulate a wake word. Ctrl+C to exit.")

	var recording atomic.Bool
	var writeMu sync.Mutex

	writeJSON := func(v any) {
		data, err := json.Marshal(v)
		if err != nil {
			log.Printf("marshal failed: %v", err)
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			log.Printf("write failed: %v", err)
		}
	}

	writeBinary := func(data []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
			log.Printf("write failed: %v", err)
		}
	}

	// Mic capture / playback via malgo, the same device setup as cmd/agent's
	// duplex loop, but gated on `recording` instead of feeding a local VAD.
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatalf("malgo init: %v", err)
	}
	defer mctx.Uninit()

	var playbackMu sync.Mutex
	var playbackBytes []byte

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil && recording.Load() {
			chunk := streamFrame{ID: uuid.NewString(), Tag: "record", Bytes: pInput}
			data, err := json.Marshal(chunk)
			if err == nil {
				writeBinary(data)
			}
		}
		if pOutput != nil {
			playbackMu.Lock()
			n := copy(pOutput, playbackBytes)
			playbackBytes = playbackBytes[n:]
			for i := n; i < len(pOutput); i++ {
				pOutput[i] = 0
			}
			playbackMu.Unlock()
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = channels
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = channels
	deviceConfig.SampleRate = sampleRate

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		log.Fatalf("malgo device init: %v", err)
	}
	defer device.Uninit()
	if err := device.Start(); err != nil {
		log.Fatalf("malgo device start: %v", err)
	}

	// Stdin trigger: each Enter press is one kws Event, same shape as a real
	// wake-word detector firing.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			fmt.Println("-> kws")
			writeJSON(newKWSEvent())
		}
	}()

	// Inbound-frame loop: the device's half of the wire protocol of §6.1.
	go func() {
		for {
			msgType, data, err := conn.Read(ctx)
			if err != nil {
				fmt.Printf("connection closed: %v\n", err)
				cancel()
				return
			}
			if msgType != websocket.MessageText {
				continue
			}
			handleInbound(data, &recording, &playbackMu, &playbackBytes, writeJSON)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	fmt.Println("\nshutting down devicesim")
}

// handleInbound decodes one server Request and executes its shell-command
// payload the way the firmware would, acking every request with code 0 —
// devicesim has no failure modes of its own to report.
func handleInbound(data []byte, recording *atomic.Bool, playbackMu *sync.Mutex, playbackBytes *[]byte, writeJSON func(v any)) {
	var req inboundRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Request.Command == "" {
		return
	}

	switch req.Request.Command {
	case "start_recording":
		recording.Store(true)
		fmt.Println("<- start_recording")
	case "stop_recording":
		recording.Store(false)
		fmt.Println("<- stop_recording")
	case "run_shell":
		var shell string
		_ = json.Unmarshal(req.Request.Payload, &shell)
		runShell(shell, playbackMu, playbackBytes, writeJSON)
	}

	writeJSON(ackFor(req.Request.ID))
}

// runShell interprets the handful of shell one-liners protocol.go's Request
// factories produce (§6.1) — this simulator doesn't execute a real shell,
// it just performs the equivalent device-side effect. A play_url command is
// the one case with an observable playing-state transition, so it reports
// Playing immediately and Idle once the queued clip has fully drained —
// exercising the same playing events a real device reports.
func runShell(shell string, playbackMu *sync.Mutex, playbackBytes *[]byte, writeJSON func(v any)) {
	switch {
	case strings.Contains(shell, "mico_aivs_lab restart"):
		fmt.Println("<- abort_xiaoai")
	case strings.Contains(shell, "mediaplayer player_play_url"):
		if m := playURLPattern.FindStringSubmatch(shell); len(m) == 2 {
			fmt.Printf("<- play_url %s\n", m[1])
			go fetchAndQueue(m[1], playbackMu, playbackBytes, writeJSON)
		}
	case strings.Contains(shell, "tts_play.sh"):
		fmt.Println("<- tts_play (spoken clip)")
	case strings.Contains(shell, "mphelper play"):
		fmt.Println("<- play")
	case strings.Contains(shell, "mphelper pause"):
		fmt.Println("<- pause")
	case strings.Contains(shell, "pnshelper event_notify"):
		fmt.Println("<- wake_up")
	case strings.Contains(shell, "volume_ctrl"):
		fmt.Println("<- volume_ctrl")
	default:
		fmt.Printf("<- run_shell %q\n", shell)
	}
}

// fetchAndQueue downloads a play_url target (e.g. the orchestrator's own
// /tts/:id route) and appends it to the playback buffer. Vendor-specific
// audio container decoding is out of scope for this simulator — the bytes
// are queued raw, container header included; no MP3 or WAV decoding is
// done.
func fetchAndQueue(url string, playbackMu *sync.Mutex, playbackBytes *[]byte, writeJSON func(v any)) {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Printf("play_url fetch failed: %v\n", err)
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("play_url read failed: %v\n", err)
		return
	}

	writeJSON(newPlayingEvent("Playing"))
	playbackMu.Lock()
	*playbackBytes = append(*playbackBytes, body...)
	playbackMu.Unlock()

	go waitForDrain(playbackMu, playbackBytes, writeJSON)
}

// waitForDrain polls the playback buffer and reports Idle once the
// simulated device has finished "playing" the queued clip.
func waitForDrain(playbackMu *sync.Mutex, playbackBytes *[]byte, writeJSON func(v any)) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		playbackMu.Lock()
		empty := len(*playbackBytes) == 0
		playbackMu.Unlock()
		if empty {
			writeJSON(newPlayingEvent("Idle"))
			return
		}
	}
}
