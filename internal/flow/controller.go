// Package flow turns a verification code into the state rendered by the
// verification view, and builds the navigation target for manual entry.
package flow

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "go-product-verifier/internal/errors"
	"go-product-verifier/internal/observer"
	"go-product-verifier/internal/verification"
	"go-product-verifier/pkg/models"
	"go-product-verifier/pkg/validation"
)

const (
	// VerifyPath is the verification view route
	VerifyPath = "/verify-product"

	msgNoCode = "No verification code provided."
)

// RedirectFor returns the navigation target for code
func RedirectFor(code string) string {
	return VerifyPath + "?verify=" + url.QueryEscape(code)
}

// Controller runs verification requests; the latest request wins
type Controller struct {
	verifier verification.Verifier
	events   observer.Subject
	logger   *logrus.Logger

	mu     sync.Mutex
	state  models.VerificationState
	seq    uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates a controller. events may be nil.
func NewController(verifier verification.Verifier, events observer.Subject, logger *logrus.Logger) *Controller {
	if events == nil {
		events = observer.Nop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Controller{verifier: verifier, events: events, logger: logger}
}

// Resolve verifies code synchronously and returns the view state
func (c *Controller) Resolve(ctx context.Context, code string) models.VerificationState {
	code = strings.TrimSpace(code)
	if code == "" {
		return models.VerificationState{
			Result: &models.VerificationResult{IsValid: false, Message: msgNoCode},
		}
	}

	start := time.Now()
	result, err := c.verifier.Verify(ctx, code)
	state := models.VerificationState{Code: code}
	if err != nil {
		state.Error = apperrors.UserMessage(err)
		state.Result = &models.VerificationResult{IsValid: false, Message: apperrors.MsgServiceUnavailable}
		if ctx.Err() != nil {
			return state
		}
		c.events.NotifyObservers(ctx, observer.Event{
			EventType:    observer.VerificationFailed,
			Code:         code,
			Duration:     time.Since(start),
			ErrorMessage: err.Error(),
		})
		return state
	}

	state.Result = &result
	c.events.NotifyObservers(ctx, observer.Event{
		EventType: observer.VerificationCompleted,
		Code:      code,
		Duration:  time.Since(start),
		Success:   result.IsValid,
	})
	return state
}

// Request starts verifying code in the background. A previous in-flight
// request is cancelled and its result discarded.
func (c *Controller) Request(code string) {
	code = strings.TrimSpace(code)

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.seq++
	seq := c.seq
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = models.VerificationState{Code: code, Loading: true}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer cancel()

		state := c.Resolve(ctx, code)

		c.mu.Lock()
		defer c.mu.Unlock()
		if seq != c.seq {
			c.logger.WithFields(logrus.Fields{
				"code": code,
				"seq":  seq,
			}).Debug("Discarded superseded verification result")
			return
		}
		c.state = state
		c.cancel = nil
	}()
}

// State returns the latest view state
func (c *Controller) State() models.VerificationState {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state
	if s.Result != nil {
		r := *s.Result
		s.Result = &r
	}
	return s
}

// Reset cancels any in-flight request and clears the state
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.seq++
	c.state = models.VerificationState{}
	c.mu.Unlock()
}

// Wait blocks until background requests have finished
func (c *Controller) Wait() {
	c.wg.Wait()
}

// SubmitManual validates typed input and returns the code and its redirect
func (c *Controller) SubmitManual(entry models.ManualEntryState) (string, string, error) {
	code, err := validation.NormalizeCode(entry.Code)
	if err != nil {
		return "", "", err
	}
	return code, RedirectFor(code), nil
}
