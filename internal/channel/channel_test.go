package channel

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/open-aviation/tangram/internal/admission"
	"github.com/open-aviation/tangram/internal/bus"
	"github.com/open-aviation/tangram/internal/codec"
	"github.com/open-aviation/tangram/internal/hub"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(claims admission.Claims, h *hub.Hub, b bus.Bus) *session {
	s := newSession("c1", claims, nil, b, h, testLogger())
	h.Register(s.id, s.mailbox)
	return s
}

func TestSession_HeartbeatRepliesOKNoSideEffect(t *testing.T) {
	h := hub.New()
	s := newTestSession(admission.Claims{}, h, bus.NewMemory())

	env, _ := codec.DecodeEnvelope([]byte(`[0,"5","phoenix","heartbeat",{}]`))
	s.dispatch(context.Background(), env)

	frames := s.mailbox.Drain()
	if len(frames) != 1 {
		t.Fatalf("expected one reply frame, got %d", len(frames))
	}
	reply, err := codec.DecodeEnvelope(frames[0])
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Event != codec.EventReply {
		t.Errorf("reply event = %q, want phx_reply", reply.Event)
	}
	if members := h.Members("phoenix"); len(members) != 0 {
		t.Error("heartbeat must not create hub membership")
	}
}

func TestSession_JoinAuthorized(t *testing.T) {
	h := hub.New()
	claims := admission.Claims{Scope: ""}
	s := newTestSession(claims, h, bus.NewMemory())

	env, _ := codec.DecodeEnvelope([]byte(`[1,1,"channel:streaming","phx_join",{}]`))
	s.dispatch(context.Background(), env)

	frames := s.mailbox.Drain()
	reply, _ := codec.DecodeEnvelope(frames[0])
	payload, _ := reply.Payload.MarshalJSON()
	if string(payload) == "" {
		t.Fatal("expected reply payload")
	}
	if members := h.Members("channel:streaming"); len(members) != 1 {
		t.Errorf("expected membership after successful join, got %v", members)
	}
}

func TestSession_JoinUnauthorized(t *testing.T) {
	h := hub.New()
	claims := admission.Claims{Scope: "channel:alerts"}
	s := newTestSession(claims, h, bus.NewMemory())

	env, _ := codec.DecodeEnvelope([]byte(`[1,1,"channel:streaming","phx_join",{}]`))
	s.dispatch(context.Background(), env)

	if members := h.Members("channel:streaming"); len(members) != 0 {
		t.Error("unauthorized join must not create membership")
	}

	frames := s.mailbox.Drain()
	reply, _ := codec.DecodeEnvelope(frames[0])
	if reply.Event != codec.EventReply {
		t.Fatal("expected a reply even for unauthorized join")
	}
}

func TestSession_JoinTwiceLeaveOnce(t *testing.T) {
	h := hub.New()
	s := newTestSession(admission.Claims{}, h, bus.NewMemory())
	ctx := context.Background()

	joinEnv, _ := codec.DecodeEnvelope([]byte(`[1,1,"channel:streaming","phx_join",{}]`))
	s.dispatch(ctx, joinEnv)
	s.dispatch(ctx, joinEnv)
	if members := h.Members("channel:streaming"); len(members) != 1 {
		t.Fatalf("expected exactly one membership edge, got %v", members)
	}

	leaveEnv, _ := codec.DecodeEnvelope([]byte(`[1,2,"channel:streaming","phx_leave",{}]`))
	s.dispatch(ctx, leaveEnv)
	if members := h.Members("channel:streaming"); len(members) != 0 {
		t.Fatalf("expected membership removed after leave, got %v", members)
	}
}

func TestSession_ForwardPublishesToBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewMemory()
	h := hub.New()
	s := newTestSession(admission.Claims{}, h, b)

	ch, _ := b.Subscribe(ctx, "channel:streaming:custom-event")

	env, _ := codec.DecodeEnvelope([]byte(`[1,1,"channel:streaming","custom-event",{"x":1}]`))
	s.dispatch(ctx, env)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected forward publish on <topic>:<event>")
	}
}

// TestEndToEnd_JoinPublishReceive exercises the scenario: a client
// joins "channel:streaming", then a bus publish directly on
// "channel:streaming" arrives at the client as a "new-data" envelope.
func TestEndToEnd_JoinPublishReceive(t *testing.T) {
	b := bus.NewMemory()
	h := hub.New()
	m := New(b, h, nil, time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	relayDone := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(relayDone)
	}()

	s := newTestSession(admission.Claims{}, h, b)

	joinReq, _ := codec.DecodeEnvelope([]byte(`[1,1,"channel:streaming","phx_join",{}]`))
	s.dispatch(ctx, joinReq)

	frames := s.mailbox.Drain()
	if len(frames) != 1 {
		t.Fatalf("expected one join reply frame, got %d", len(frames))
	}
	joinReply, err := codec.DecodeEnvelope(frames[0])
	if err != nil {
		t.Fatalf("decode join reply: %v", err)
	}
	if joinReply.Event != codec.EventReply || joinReply.Topic != "channel:streaming" {
		t.Fatalf("join reply = %+v", joinReply)
	}

	if err := b.Publish(ctx, "channel:streaming", []byte(`{"hello":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case <-s.mailbox.Notify():
		case <-deadline:
			t.Fatal("timed out waiting for bus-delivered frame")
		}
		frames = s.mailbox.Drain()
		if len(frames) > 0 {
			break
		}
	}

	delivered, err := codec.DecodeEnvelope(frames[0])
	if err != nil {
		t.Fatalf("decode delivered frame: %v", err)
	}
	if delivered.JoinRef != nil || delivered.Ref != nil {
		t.Fatalf("expected null join_ref/ref, got %+v", delivered)
	}
	if delivered.Topic != "channel:streaming" || delivered.Event != codec.EventNewData {
		t.Fatalf("delivered = %+v", delivered)
	}
	if string(delivered.Payload) != `{"hello":1}` {
		t.Fatalf("payload = %s, want {\"hello\":1}", delivered.Payload)
	}

	cancel()
	<-relayDone
}
