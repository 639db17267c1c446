package observer

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type panickingObserver struct{}

func (panickingObserver) OnEvent(context.Context, Event) { panic("boom") }
func (panickingObserver) GetObserverName() string        { return "panicking" }

func TestMetricsObserver_Counts(t *testing.T) {
	publisher := NewEventPublisher()
	metrics := NewMetricsObserver()
	publisher.Subscribe(metrics)
	publisher.Subscribe(panickingObserver{})

	ctx := context.Background()
	publisher.NotifyObservers(ctx, Event{EventType: ScanStarted})
	publisher.NotifyObservers(ctx, Event{EventType: CodeDecoded, Code: "KC1"})
	publisher.NotifyObservers(ctx, Event{EventType: UnsupportedCode})
	publisher.NotifyObservers(ctx, Event{EventType: VerificationCompleted, Success: true, Duration: 20 * time.Millisecond})
	publisher.NotifyObservers(ctx, Event{EventType: VerificationCompleted, Success: false, Duration: 40 * time.Millisecond})
	publisher.NotifyObservers(ctx, Event{EventType: VerificationFailed})
	publisher.Flush()

	m := metrics.GetMetrics()
	expected := map[string]int64{
		"scans_started":        1,
		"codes_decoded":        1,
		"unsupported_codes":    1,
		"verifications":        2,
		"valid_verifications":  1,
		"failed_verifications": 1,
	}
	for k, v := range expected {
		if m[k] != v {
			t.Errorf("Expected %s=%d, got %v", k, v, m[k])
		}
	}
	if m["avg_verification_time"] != "30ms" {
		t.Errorf("Expected 30ms average, got %v", m["avg_verification_time"])
	}
}

func TestEventPublisher_Unsubscribe(t *testing.T) {
	publisher := NewEventPublisher()
	metrics := NewMetricsObserver()
	publisher.Subscribe(metrics)
	publisher.Unsubscribe(metrics)

	publisher.NotifyObservers(context.Background(), Event{EventType: ScanStarted})
	publisher.Flush()

	if metrics.GetMetrics()["scans_started"] != int64(0) {
		t.Error("Expected unsubscribed observer to receive nothing")
	}
}

func TestLoggingObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	NewLoggingObserver(logger).OnEvent(context.Background(), Event{
		EventType: CodeDecoded,
		SessionID: "s-1",
		Code:      "KC2024001",
		Metadata:  map[string]interface{}{"device": "cam-0"},
	})

	out := buf.String()
	for _, want := range []string{`"code":"KC2024001"`, `"session_id":"s-1"`, `"device":"cam-0"`, "Code decoded"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log to contain %s, got %s", want, out)
		}
	}
}
