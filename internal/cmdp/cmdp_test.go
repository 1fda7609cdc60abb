package cmdp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/rs/zerolog"

	"constellation/pkg/wire"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func TestPublisher_LogAndStat(t *testing.T) {
	ctx := context.Background()
	pub, err := NewPublisher(ctx, "tcp://127.0.0.1:0", "test.sat1", testLogger())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	if err := pub.Log("WARNING", "fsm", []byte("something happened")); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := pub.Stat("queue_depth", []byte("12")); err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := pub.AnnounceTopics(map[string]string{
		"LOG/WARNING/fsm": "FSM warnings",
		"STAT/queue_depth": "queue depth sample",
	}); err != nil {
		t.Fatalf("AnnounceTopics: %v", err)
	}
}

func TestListener_ForwardsRegularMessage(t *testing.T) {
	defer leaktest.Check(t)()

	ctx := context.Background()
	pub, err := NewPublisher(ctx, "tcp://127.0.0.1:0", "test.pub", testLogger())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	var (
		mu  sync.Mutex
		got []wire.CMDP1Message
	)
	l := NewListener(func(msg wire.CMDP1Message) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	}, Hooks{}, testLogger())
	l.Start()
	defer l.Stop()

	if err := l.Connect(ctx, "peer1", pub.Addr().String()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	l.SubscribeTopic(LogTopic("WARNING", "fsm"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := pub.Log("WARNING", "fsm", []byte("hello")); err != nil {
			t.Fatalf("Log: %v", err)
		}
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("listener never received the published log message")
}

func TestListener_NotificationFiresHooks(t *testing.T) {
	defer leaktest.Check(t)()

	ctx := context.Background()
	pub, err := NewPublisher(ctx, "tcp://127.0.0.1:0", "test.pub", testLogger())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	var (
		mu          sync.Mutex
		sawSender   bool
		sawTopics   map[string]string
	)
	l := NewListener(nil, Hooks{
		NewSenderAvailable: func(sender string) {
			mu.Lock()
			sawSender = true
			mu.Unlock()
		},
		NewTopicsAvailable: func(sender string, topics map[string]string) {
			mu.Lock()
			sawTopics = topics
			mu.Unlock()
		},
	}, testLogger())
	l.Start()
	defer l.Stop()

	if err := l.Connect(ctx, "peer1", pub.Addr().String()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	l.SubscribeTopic(NoticeTopic)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := pub.AnnounceTopics(map[string]string{"STAT/x": "x metric"}); err != nil {
			t.Fatalf("AnnounceTopics: %v", err)
		}
		mu.Lock()
		ok := sawSender && sawTopics != nil
		mu.Unlock()
		if ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("listener never observed the notification")
}
