package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Event represents a scan or verification event
type Event struct {
	EventType    EventType              `json:"event_type"`
	Timestamp    time.Time              `json:"timestamp"`
	SessionID    string                 `json:"session_id,omitempty"`
	Source       string                 `json:"source,omitempty"`
	Code         string                 `json:"code,omitempty"`
	Duration     time.Duration          `json:"duration"`
	Success      bool                   `json:"success"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of event
type EventType string

const (
	// ScanStarted when a capture source becomes active
	ScanStarted EventType = "scan_started"
	// CodeDecoded when a scan resolves to a supported code
	CodeDecoded EventType = "code_decoded"
	// UnsupportedCode when a QR payload carries no verification code
	UnsupportedCode EventType = "unsupported_code"
	// ScanFailed when a scan ends in the error state
	ScanFailed EventType = "scan_failed"
	// ScanStopped when the user or teardown stops a scan
	ScanStopped EventType = "scan_stopped"
	// VerificationCompleted when the service answered, valid or not
	VerificationCompleted EventType = "verification_completed"
	// VerificationFailed when the service could not be reached
	VerificationFailed EventType = "verification_failed"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event Event)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event Event)
}

// LoggingObserver logs events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event Event) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"duration":   event.Duration,
		"success":    event.Success,
	}
	if event.SessionID != "" {
		fields["session_id"] = event.SessionID
	}
	if event.Source != "" {
		fields["source"] = event.Source
	}
	if event.Code != "" {
		fields["code"] = event.Code
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case ScanStarted:
		entry.Info("Scan started")
	case CodeDecoded:
		entry.Info("Code decoded")
	case UnsupportedCode:
		entry.Warn("Unsupported QR payload")
	case ScanFailed:
		entry.Error("Scan failed")
	case ScanStopped:
		entry.Debug("Scan stopped")
	case VerificationCompleted:
		entry.Info("Verification completed")
	case VerificationFailed:
		entry.Error("Verification failed")
	default:
		entry.Info("Event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver collects counters from events
type MetricsObserver struct {
	mu                    sync.RWMutex
	scansStarted          int64
	codesDecoded          int64
	unsupportedCodes      int64
	scansFailed           int64
	scansStopped          int64
	verifications         int64
	validVerifications    int64
	failedVerifications   int64
	totalVerificationTime time.Duration
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

// OnEvent handles events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case ScanStarted:
		o.scansStarted++
	case CodeDecoded:
		o.codesDecoded++
	case UnsupportedCode:
		o.unsupportedCodes++
	case ScanFailed:
		o.scansFailed++
	case ScanStopped:
		o.scansStopped++
	case VerificationCompleted:
		o.verifications++
		o.totalVerificationTime += event.Duration
		if event.Success {
			o.validVerifications++
		}
	case VerificationFailed:
		o.failedVerifications++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avgVerificationTime := time.Duration(0)
	if o.verifications > 0 {
		avgVerificationTime = o.totalVerificationTime / time.Duration(o.verifications)
	}

	return map[string]interface{}{
		"scans_started":         o.scansStarted,
		"codes_decoded":         o.codesDecoded,
		"unsupported_codes":     o.unsupportedCodes,
		"scans_failed":          o.scansFailed,
		"scans_stopped":         o.scansStopped,
		"verifications":         o.verifications,
		"valid_verifications":   o.validVerifications,
		"failed_verifications":  o.failedVerifications,
		"avg_verification_time": avgVerificationTime.String(),
	}
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
	wg        sync.WaitGroup
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers notifies all observers of an event
func (p *EventPublisher) NotifyObservers(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	// Notify observers concurrently
	for _, observer := range observers {
		p.wg.Add(1)
		go func(obs Observer) {
			defer p.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					// Log panic but don't crash the application
					logrus.WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(context.WithoutCancel(ctx), event)
		}(observer)
	}
}

// Flush waits for in-flight notifications
func (p *EventPublisher) Flush() {
	p.wg.Wait()
}

// Nop is a Subject that drops every event
type Nop struct{}

func (Nop) Subscribe(Observer)                      {}
func (Nop) Unsubscribe(Observer)                    {}
func (Nop) NotifyObservers(context.Context, Event) {}
