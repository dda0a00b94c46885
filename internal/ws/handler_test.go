package ws

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"net"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"ewradio/internal/assets"
	"ewradio/internal/config"
	"ewradio/internal/engine"
	"ewradio/internal/output"
	"ewradio/internal/protocol"
	"ewradio/internal/tuning"
)

var fm = tuning.Config{CenterFrequency: 100.8e6, Bandwidth: 200e3, MinLevel: -100, MaxLevel: 0}

// station has no asset, so it plays silence without a load.
func station(id string, freq float64) tuning.Signal {
	return tuning.Signal{
		ID:          id,
		Frequency:   freq,
		Bandwidth:   200e3,
		LevelWindow: tuning.LevelWindow{Min: -80, Max: -20},
		Active:      true,
	}
}

func TestConnectReceivesState(t *testing.T) {
	_, baseURL := startTestServer(t)

	conn := connectClient(t, baseURL)
	defer conn.Close()
}

func TestUpdateStateBroadcastsToAllClients(t *testing.T) {
	_, baseURL := startTestServer(t)

	alice := connectClient(t, baseURL)
	defer alice.Close()
	bob := connectClient(t, baseURL)
	defer bob.Close()

	tc := fm
	writeMsg(t, alice, protocol.Message{
		Type:    protocol.TypeUpdateState,
		Tuning:  &tc,
		Signals: []tuning.Signal{station("bbc", 100.8e6), station("far", 90e6)},
	})
	for _, conn := range []*websocket.Conn{alice, bob} {
		msg := readUntil(t, conn, func(m protocol.Message) bool {
			return m.Type == protocol.TypeState && m.State != nil && m.State.Signals == 2
		})
		if !slices.Equal(msg.State.Audible, []string{"bbc"}) {
			t.Fatalf("audible: %v", msg.State.Audible)
		}
	}
}

func TestTuningAndCatalogMessages(t *testing.T) {
	_, baseURL := startTestServer(t)

	conn := connectClient(t, baseURL)
	defer conn.Close()

	writeMsg(t, conn, protocol.Message{Type: protocol.TypeCatalog, Signals: []tuning.Signal{station("a", 90e6)}})
	readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypeError && strings.Contains(m.Error, "bandwidth")
	})

	tc := fm
	writeMsg(t, conn, protocol.Message{Type: protocol.TypeTuning, Tuning: &tc})
	readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypeState && m.State != nil && m.State.Tuning != nil
	})

	writeMsg(t, conn, protocol.Message{Type: protocol.TypeCatalog, Signals: []tuning.Signal{station("a", 90e6), station("b", 100.8e6)}})
	msg := readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypeState && m.State != nil && m.State.Signals == 2
	})
	if !slices.Equal(msg.State.Audible, []string{"b"}) {
		t.Fatalf("audible: %v", msg.State.Audible)
	}

	tc.CenterFrequency = 90e6
	writeMsg(t, conn, protocol.Message{Type: protocol.TypeTuning, Tuning: &tc})
	msg = readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypeState && m.State != nil && m.State.Tuning != nil && m.State.Tuning.CenterFrequency == 90e6
	})
	if !slices.Equal(msg.State.Audible, []string{"a"}) {
		t.Fatalf("audible after retune: %v", msg.State.Audible)
	}
}

func TestInvalidConfigurationReturnsErrorAndKeepsState(t *testing.T) {
	radio, baseURL := startTestServer(t)

	conn := connectClient(t, baseURL)
	defer conn.Close()

	tc := fm
	writeMsg(t, conn, protocol.Message{Type: protocol.TypeUpdateState, Tuning: &tc, Signals: []tuning.Signal{station("a", 100.8e6)}})
	readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypeState && m.State != nil && m.State.Signals == 1
	})

	bad := fm
	bad.Bandwidth = -1
	writeMsg(t, conn, protocol.Message{Type: protocol.TypeUpdateState, Tuning: &bad})
	readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypeError && strings.Contains(m.Error, "invalid configuration")
	})

	writeMsg(t, conn, protocol.Message{Type: protocol.TypeUpdateState})
	readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypeError && m.Error == "tuning is required"
	})

	got, catalog, ok := radio.State()
	if !ok || got != fm || len(catalog) != 1 {
		t.Fatalf("state changed after rejected update: %+v %v", got, catalog)
	}
}

func TestVolumeMuteStopAndPing(t *testing.T) {
	radio, baseURL := startTestServer(t)

	conn := connectClient(t, baseURL)
	defer conn.Close()

	vol := 0.25
	writeMsg(t, conn, protocol.Message{Type: protocol.TypeVolume, Volume: &vol})
	readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypeState && m.State != nil && m.State.Volume == 0.25
	})

	tooLoud := 3.0
	writeMsg(t, conn, protocol.Message{Type: protocol.TypeVolume, Volume: &tooLoud})
	readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypeError && strings.Contains(m.Error, "volume")
	})

	writeMsg(t, conn, protocol.Message{Type: protocol.TypeMute})
	readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypeState && m.State != nil && m.State.Muted
	})
	writeMsg(t, conn, protocol.Message{Type: protocol.TypeUnmute})
	readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypeState && m.State != nil && !m.State.Muted
	})

	tc := fm
	writeMsg(t, conn, protocol.Message{Type: protocol.TypeUpdateState, Tuning: &tc, Signals: []tuning.Signal{station("a", 100.8e6)}})
	readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypeState && m.State != nil && len(m.State.Nodes) == 1
	})
	writeMsg(t, conn, protocol.Message{Type: protocol.TypeStop})
	readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypeState && m.State != nil && len(m.State.Nodes) == 0 && m.State.Tuning == nil
	})
	if radio.NodeCount() != 0 {
		t.Fatalf("nodes after stop: %d", radio.NodeCount())
	}

	writeMsg(t, conn, protocol.Message{Type: protocol.TypePing, TS: 42})
	readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypePong && m.TS == 42
	})

	writeMsg(t, conn, protocol.Message{Type: "bogus"})
	readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypeError && m.Error == "unsupported message type"
	})
}

func TestAssetFailureBroadcastsWarning(t *testing.T) {
	_, baseURL := startTestServer(t)

	conn := connectClient(t, baseURL)
	defer conn.Close()

	tc := fm
	s := station("numbers", 100.8e6)
	s.AssetPath = "missing.wav"
	writeMsg(t, conn, protocol.Message{Type: protocol.TypeUpdateState, Tuning: &tc, Signals: []tuning.Signal{s}})

	msg := readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypeWarning
	})
	if msg.Path != "missing.wav" || !strings.Contains(msg.Error, "asset load failed") {
		t.Fatalf("warning: %+v", msg)
	}
}

func TestLoadCompletionBroadcastsState(t *testing.T) {
	gate := make(chan struct{})
	_, baseURL := startServerWithLoader(t, assets.LoaderFunc(func(ctx context.Context, _ string) (io.ReadCloser, error) {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return io.NopCloser(bytes.NewReader(wavBytes(4800))), nil
	}))

	conn := connectClient(t, baseURL)
	defer conn.Close()

	tc := fm
	s := station("numbers", 100.8e6)
	s.AssetPath = "numbers.wav"
	writeMsg(t, conn, protocol.Message{Type: protocol.TypeUpdateState, Tuning: &tc, Signals: []tuning.Signal{s}})
	msg := readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypeState && m.State != nil && m.State.Signals == 1
	})
	if !slices.Equal(msg.State.Loading, []string{"numbers"}) || len(msg.State.Audible) != 0 {
		t.Fatalf("state before load: loading=%v audible=%v", msg.State.Loading, msg.State.Audible)
	}

	// No further command is sent; the finished load alone must reach the client.
	close(gate)
	msg = readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypeState && m.State != nil && slices.Contains(m.State.Audible, "numbers")
	})
	if len(msg.State.Loading) != 0 {
		t.Fatalf("still loading after completion: %v", msg.State.Loading)
	}
}

func TestHubDropsClosedSessions(t *testing.T) {
	hub := NewHub()
	a := hub.Add(1)
	b := hub.Add(1)
	if hub.ClientCount() != 2 {
		t.Fatalf("clients: %d", hub.ClientCount())
	}

	hub.Broadcast(protocol.Message{Type: protocol.TypePong}, a.ID)
	select {
	case <-a.Send:
		t.Fatal("excluded session received broadcast")
	default:
	}
	if got := <-b.Send; got.Type != protocol.TypePong {
		t.Fatalf("b got %q", got.Type)
	}

	if !hub.Remove(a.ID) || hub.Remove(a.ID) {
		t.Fatal("remove should succeed exactly once")
	}
	if hub.SendTo(a.ID, protocol.Message{Type: protocol.TypePong}) {
		t.Fatal("send to removed session succeeded")
	}

	// b's buffer is full after one unread message; the send times out.
	hub.SendTo(b.ID, protocol.Message{Type: protocol.TypePong})
	start := time.Now()
	if hub.SendTo(b.ID, protocol.Message{Type: protocol.TypePong}) {
		t.Fatal("send to full session succeeded")
	}
	if time.Since(start) < SendTimeout {
		t.Fatal("send to full session returned before the timeout")
	}
}

// wavBytes builds a mono 16-bit 48 kHz WAV of n frames of a low tone.
func wavBytes(n int) []byte {
	var b bytes.Buffer
	le := binary.LittleEndian
	dataLen := uint32(n * 2)
	b.WriteString("RIFF")
	binary.Write(&b, le, 36+dataLen)
	b.WriteString("WAVEfmt ")
	binary.Write(&b, le, uint32(16))
	binary.Write(&b, le, uint16(1))
	binary.Write(&b, le, uint16(1))
	binary.Write(&b, le, uint32(48000))
	binary.Write(&b, le, uint32(96000))
	binary.Write(&b, le, uint16(2))
	binary.Write(&b, le, uint16(16))
	b.WriteString("data")
	binary.Write(&b, le, dataLen)
	for i := range n {
		binary.Write(&b, le, int16(8000*math.Sin(float64(i)/8)))
	}
	return b.Bytes()
}

// startTestServer serves a radio whose asset loads always fail.
func startTestServer(t *testing.T) (*engine.Engine, string) {
	t.Helper()
	return startServerWithLoader(t, assets.LoaderFunc(func(context.Context, string) (io.ReadCloser, error) {
		return nil, errors.New("no such asset")
	}))
}

func startServerWithLoader(t *testing.T, loader assets.Loader) (*engine.Engine, string) {
	t.Helper()

	radio := engine.New(engine.Options{
		Config:  config.DefaultEngine(),
		Backend: output.NewHeadless(48000, false),
		Loader:  loader,
	})
	if err := radio.Init(); err != nil {
		t.Fatalf("init engine: %v", err)
	}
	t.Cleanup(func() { radio.Close() })

	h := NewHandler(radio, nil)
	e := echo.New()
	h.Register(e)
	httpServer := httptest.NewServer(e)
	t.Cleanup(httpServer.Close)

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	return radio, wsURL
}

func connectClient(t *testing.T, baseWSURL string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(baseWSURL+"/ws", nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypeState && m.State != nil && m.State.Ready
	})
	return conn
}

func writeMsg(t *testing.T, conn *websocket.Conn, msg protocol.Message) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write json: %v", err)
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(protocol.Message) bool) protocol.Message {
	t.Helper()
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		var msg protocol.Message
		err := conn.ReadJSON(&msg)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.Fatalf("connection closed unexpectedly: %v", err)
			}
			t.Fatalf("read json: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
	t.Fatal("timed out waiting for matching message")
	return protocol.Message{}
}
