package ws

import (
	"context"
	"testing"

	"github.com/campushub/internal/feed"
	"github.com/campushub/internal/model"
)

type recordingOutgoing struct{ sent []OutgoingMessage }

func (r *recordingOutgoing) Send(msg OutgoingMessage) { r.sent = append(r.sent, msg) }

func TestCloseThreadAcknowledged(t *testing.T) {
	out := &recordingOutgoing{}
	s := NewSession(Deps{}, model.UserPublic{ID: "viewer"})
	s.out = out
	s.threads["t-1"] = &feed.ThreadView{}

	s.Handle(context.Background(), IncomingMessage{Type: CmdCloseThread, ThreadID: "t-1"})

	if _, open := s.Thread("t-1"); open {
		t.Fatal("представление треда не снято")
	}
	if len(out.sent) != 1 {
		t.Fatalf("событий %d, ожидали одно подтверждение", len(out.sent))
	}
	ev := out.sent[0]
	if ev.Type != EventThreadClosed {
		t.Errorf("Type = %q, want %q", ev.Type, EventThreadClosed)
	}
	p, ok := ev.Payload.(ThreadClosedPayload)
	if !ok || p.ThreadID != "t-1" {
		t.Errorf("payload = %+v", ev.Payload)
	}
}

func TestCloseThreadUnknownSilent(t *testing.T) {
	out := &recordingOutgoing{}
	s := NewSession(Deps{}, model.UserPublic{ID: "viewer"})
	s.out = out

	// Закрытие неоткрытого треда — no-op, без событий и без ошибок.
	s.Handle(context.Background(), IncomingMessage{Type: CmdCloseThread, ThreadID: "t-none"})

	if len(out.sent) != 0 {
		t.Errorf("события на закрытии неоткрытого треда: %+v", out.sent)
	}
}
