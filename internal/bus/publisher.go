package bus

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Subjects published under the configured prefix.
const (
	SubjectSessionStarted    = "session.started"
	SubjectSessionStopped    = "session.stopped"
	SubjectUtterance         = "session.utterance"
	SubjectRecognitionFailed = "session.recognition_failed"
	SubjectCaptureExited     = "session.capture_exited"
)

// SessionEvent is the payload of every session subject. Transcript text is
// not included.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher forwards session activity to NATS. Publishing is buffered by
// the client, so calls do not wait on the network.
type Publisher struct {
	client *Client
	clock  func() time.Time
}

func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client, clock: time.Now}
}

func (p *Publisher) SessionStarted(id string) {
	p.publish(SubjectSessionStarted, SessionEvent{SessionID: id})
}

func (p *Publisher) SessionStopped(id string, reason string) {
	p.publish(SubjectSessionStopped, SessionEvent{SessionID: id, Reason: reason})
}

func (p *Publisher) UtteranceResolved(id string, kind string) {
	p.publish(SubjectUtterance, SessionEvent{SessionID: id, Kind: kind})
}

func (p *Publisher) RecognitionFailed(id string, reason string) {
	p.publish(SubjectRecognitionFailed, SessionEvent{SessionID: id, Reason: reason})
}

func (p *Publisher) CaptureLoopExited(id string) {
	p.publish(SubjectCaptureExited, SessionEvent{SessionID: id})
}

func (p *Publisher) publish(name string, evt SessionEvent) {
	evt.Timestamp = p.clock().UTC()
	data, err := json.Marshal(evt)
	if err != nil {
		p.client.log.Warn("failed to encode session event", slog.String("error", err.Error()))
		return
	}
	if err := p.client.conn.Publish(p.client.Subject(name), data); err != nil {
		p.client.log.Warn("failed to publish session event",
			slog.String("subject", name),
			slog.String("error", err.Error()))
	}
}
