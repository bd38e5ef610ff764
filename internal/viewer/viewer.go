// Package viewer renders the display in a local browser page. Display
// updates are pushed to every connected page over a websocket.
package viewer

import (
	"bytes"
	"embed"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

//go:embed static/index.html
var static embed.FS

const (
	TypeFrame      = "frame"
	TypeText       = "text"
	TypeInfo       = "info"
	TypeTranscript = "transcript"
	TypeListening  = "listening"
)

// Message is one display update as sent to the page.
type Message struct {
	Type      string `json:"type"`
	Image     string `json:"image,omitempty"`
	Text      string `json:"text,omitempty"`
	Listening bool   `json:"listening"`
}

const (
	clientQueue  = 32
	writeTimeout = 5 * time.Second
	maxCached    = 256
)

// Viewer is the display renderer and session view. Its display methods are
// called from the foreground loop and never block on clients.
type Viewer struct {
	log      *slog.Logger
	upgrader websocket.Upgrader
	onToggle func()

	mu         sync.Mutex
	clients    map[*client]struct{}
	viewport   Message
	info       Message
	transcript Message
	listening  Message

	encoded map[image.Image]string
}

type client struct {
	conn  *websocket.Conn
	queue chan []byte
	once  sync.Once
}

func New(log *slog.Logger) *Viewer {
	return &Viewer{
		log:        log.With(slog.String("component", "viewer")),
		upgrader:   websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 64 * 1024},
		clients:    make(map[*client]struct{}),
		viewport:   Message{Type: TypeText},
		info:       Message{Type: TypeInfo},
		transcript: Message{Type: TypeTranscript},
		listening:  Message{Type: TypeListening},
		encoded:    make(map[image.Image]string),
	}
}

// OnToggle sets the action of the start button.
func (v *Viewer) OnToggle(fn func()) {
	v.mu.Lock()
	v.onToggle = fn
	v.mu.Unlock()
}

func (v *Viewer) ShowFrame(img image.Image) {
	uri, ok := v.encoded[img]
	if !ok {
		var err error
		uri, err = dataURI(img)
		if err != nil {
			v.log.Warn("failed to encode frame", slog.String("error", err.Error()))
			return
		}
		if len(v.encoded) >= maxCached {
			v.encoded = make(map[image.Image]string)
		}
		v.encoded[img] = uri
	}
	v.publish(&v.viewport, Message{Type: TypeFrame, Image: uri})
}

func (v *Viewer) ShowText(text string) {
	v.publish(&v.viewport, Message{Type: TypeText, Text: text})
}

func (v *Viewer) SetInfo(text string) {
	v.publish(&v.info, Message{Type: TypeInfo, Text: text})
}

func (v *Viewer) SetTranscript(text string) {
	v.publish(&v.transcript, Message{Type: TypeTranscript, Text: text})
}

func (v *Viewer) SetListening(listening bool) {
	v.publish(&v.listening, Message{Type: TypeListening, Listening: listening})
}

// Snapshot returns the messages a newly connected page needs.
func (v *Viewer) Snapshot() []Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *Viewer) snapshotLocked() []Message {
	return []Message{v.listening, v.info, v.transcript, v.viewport}
}

// Clients is the number of connected pages.
func (v *Viewer) Clients() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.clients)
}

func (v *Viewer) publish(slot *Message, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		v.log.Warn("failed to encode message", slog.String("error", err.Error()))
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	*slot = msg
	for c := range v.clients {
		select {
		case c.queue <- data:
		default:
			v.log.Debug("client queue full, dropping update", slog.String("type", msg.Type))
		}
	}
}

// Register mounts the page, the websocket and the toggle endpoint.
func (v *Viewer) Register(mux *http.ServeMux) {
	mux.HandleFunc("/", v.handleIndex)
	mux.HandleFunc("/ws", v.handleWS)
	mux.HandleFunc("/api/listen", v.handleListen)
}

func (v *Viewer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	page, err := static.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "page unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (v *Viewer) handleListen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	v.mu.Lock()
	fn := v.onToggle
	v.mu.Unlock()
	if fn == nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	fn()
	w.WriteHeader(http.StatusAccepted)
}

func (v *Viewer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := v.upgrader.Upgrade(w, r, nil)
	if err != nil {
		v.log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{conn: conn, queue: make(chan []byte, clientQueue)}

	v.mu.Lock()
	for _, msg := range v.snapshotLocked() {
		if data, err := json.Marshal(msg); err == nil {
			c.queue <- data
		}
	}
	v.clients[c] = struct{}{}
	v.mu.Unlock()

	go v.writePump(c)
	v.readPump(c)
}

// readPump discards incoming messages and unregisters the client on close.
func (v *Viewer) readPump(c *client) {
	defer v.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (v *Viewer) writePump(c *client) {
	defer v.drop(c)
	for data := range c.queue {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (v *Viewer) drop(c *client) {
	c.once.Do(func() {
		v.mu.Lock()
		delete(v.clients, c)
		close(c.queue)
		v.mu.Unlock()
		_ = c.conn.Close()
	})
}

// Close disconnects every page.
func (v *Viewer) Close() {
	v.mu.Lock()
	clients := make([]*client, 0, len(v.clients))
	for c := range v.clients {
		clients = append(clients, c)
	}
	v.mu.Unlock()
	for _, c := range clients {
		v.drop(c)
	}
}

func dataURI(img image.Image) (string, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
