// Package chat runs a conversation with a pay-per-message resource server.
//
// A Session owns everything one conversation needs to answer payment
// challenges: the message history, the pending challenge and the message that
// triggered it, the attempt counter and the single-flight guard. Sessions share
// no state, so any number can run side by side.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	x402 "github.com/x402chat/client"
	x402http "github.com/x402chat/client/http"
)

// Payer signs payment headers for a session.
// *evm.ExactEvmClient satisfies it.
type Payer interface {
	CheckChain(ctx context.Context, network string) error
	// CreatePaymentHeaderFor signs for the requirement the session selected.
	// The session has already called CheckChain for its network.
	CreatePaymentHeaderFor(ctx context.Context, requirement x402.PaymentRequirement) (x402.X402Header, error)
}

// API is the chat resource server. *x402http.Client satisfies it.
type API interface {
	Chat(ctx context.Context, req x402http.ChatRequest) (*x402http.ChatResponse, error)
}

const (
	// DefaultMaxAttempts bounds payment attempts per message
	DefaultMaxAttempts = 3

	// DefaultRetryDelay is the pause before an automatic payment attempt
	DefaultRetryDelay = 500 * time.Millisecond

	// Greeting opens every conversation
	Greeting = "Hello! How can I help you today?"

	contactFailure = "Something went wrong while contacting the LLM."
	emptyReply     = "No content returned."
)

var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrPaymentPending   = errors.New("a payment is pending for the previous message")
	ErrNoPendingPayment = errors.New("no payment is pending")
	ErrPaymentInFlight  = errors.New("a payment is already in progress")
	ErrSuperseded       = errors.New("payment attempt superseded")
)

// Message is one entry of the conversation
type Message struct {
	ID      string
	Role    string
	Content string
}

// Result describes how a Send or Pay ended
type Result struct {
	// Reply is the assistant answer once the message went through
	Reply string
	// State is the payment state the message was left in
	State PaymentState
	// Challenge is the pending payment request, if any
	Challenge *x402.PaymentRequest
	// Requirement is the option selected from Challenge
	Requirement *x402.PaymentRequirement
	// Attempts is the number of payment attempts made for the message
	Attempts int
}

// Session is one conversation
type Session struct {
	api         API
	logger      *zap.Logger
	metrics     *Metrics
	tracer      trace.Tracer
	network     string
	maxAttempts int
	retryDelay  time.Duration

	mu             sync.Mutex
	payer          Payer
	messages       []Message
	pending        *x402.PaymentRequest
	pendingContent string
	attempts       int
	processing     bool
	generation     uint64
}

// Option configures a session
type Option func(*Session)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collectors
func WithMetrics(metrics *Metrics) Option {
	return func(s *Session) {
		s.metrics = metrics
	}
}

// WithNetwork sets the network payments are made on
func WithNetwork(network string) Option {
	return func(s *Session) {
		s.network = network
	}
}

// WithMaxAttempts sets the payment attempt cap per message
func WithMaxAttempts(n int) Option {
	return func(s *Session) {
		s.maxAttempts = n
	}
}

// WithRetryDelay sets the pause before automatic payment attempts
func WithRetryDelay(d time.Duration) Option {
	return func(s *Session) {
		s.retryDelay = d
	}
}

// WithPayer connects a wallet from the start
func WithPayer(payer Payer) Option {
	return func(s *Session) {
		s.payer = payer
	}
}

// NewSession starts a conversation against api
func NewSession(api API, opts ...Option) *Session {
	s := &Session{
		api:         api,
		logger:      zap.NewNop(),
		tracer:      defaultTracer(),
		network:     x402.DefaultNetwork,
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 1
	}
	s.appendLocked(x402http.RoleAssistant, Greeting)
	return s
}

// ConnectWallet sets the payer used for pending and future challenges
func (s *Session) ConnectWallet(payer Payer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payer = payer
}

// DisconnectWallet removes the payer
func (s *Session) DisconnectWallet() {
	s.ConnectWallet(nil)
}

// Messages returns a copy of the conversation
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Pending returns the unpaid challenge and the message it belongs to
func (s *Session) Pending() (*x402.PaymentRequest, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, s.pendingContent
}

// Attempts returns the payment attempts made for the pending message
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Cancel abandons the pending challenge. Work still in flight for it is dropped.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.clearPendingLocked()
}

// Send posts a user message. When the server answers with a payment challenge
// and a wallet is connected, the payment is made automatically after the retry
// delay; without a wallet the challenge stays pending until Pay is called.
func (s *Session) Send(ctx context.Context, content string) (res *Result, err error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	ctx, span := s.tracer.Start(ctx, "chat.Send", trace.WithAttributes(attribute.Int("message.length", len(content))))
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		return nil, ErrPaymentPending
	}
	s.generation++
	gen := s.generation
	s.appendLocked(x402http.RoleUser, content)
	history := s.historyLocked(content)
	s.mu.Unlock()

	s.metrics.Messages.Inc()
	resp, err := s.api.Chat(ctx, x402http.ChatRequest{Message: content, History: history})

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return nil, ErrSuperseded
	}
	if err != nil {
		s.appendLocked(x402http.RoleAssistant, contactFailure)
		s.mu.Unlock()
		s.logger.Error("Chat request failed", traceField(traceID(ctx)), zap.Error(err))
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	if !resp.IsChallenge() {
		reply := s.replyLocked(resp)
		s.mu.Unlock()
		return &Result{Reply: reply, State: StateIdle}, nil
	}

	requirement, err := x402.SelectRequirement(*resp.PaymentRequest, x402.DefaultScheme, s.network)
	if err != nil {
		s.appendLocked(x402http.RoleAssistant, x402.UserMessage(err))
		s.mu.Unlock()
		s.logger.Warn("No usable payment option", zap.String("network", s.network), zap.Error(err))
		return &Result{State: StateFailed}, err
	}
	s.pending = resp.PaymentRequest
	s.pendingContent = content
	s.attempts = 0
	payer := s.payer
	s.mu.Unlock()

	s.metrics.Challenges.Inc()
	span.SetAttributes(attribute.String("payment.network", requirement.Network))
	s.logger.Info("Payment required",
		traceField(traceID(ctx)),
		zap.String("network", requirement.Network),
		zap.String("amount", requirement.MaxAmountRequired),
		zap.String("asset", requirement.Asset),
	)

	if payer == nil {
		return &Result{State: StateAwaitingWallet, Challenge: resp.PaymentRequest, Requirement: &requirement}, nil
	}
	if err := s.wait(ctx, gen); err != nil {
		return nil, err
	}
	return s.Pay(ctx)
}

// Pay answers the pending challenge. Rejected payments and transient transport
// failures are retried automatically until the attempt cap; a wallet that
// declines or sits on the wrong chain leaves the challenge pending so Pay can
// be called again. Only one Pay runs at a time.
func (s *Session) Pay(ctx context.Context) (res *Result, err error) {
	s.mu.Lock()
	if s.pending == nil {
		s.mu.Unlock()
		return nil, ErrNoPendingPayment
	}
	if s.processing {
		s.mu.Unlock()
		return nil, ErrPaymentInFlight
	}
	if s.payer == nil {
		res = &Result{State: StateAwaitingWallet, Challenge: s.pending, Attempts: s.attempts}
		s.mu.Unlock()
		return res, x402.ErrWalletNotConnected
	}
	s.processing = true
	gen := s.generation
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.processing = false
		s.mu.Unlock()
	}()

	ctx, span := s.tracer.Start(ctx, "chat.Pay")
	defer func() { endSpan(span, err) }()

	var (
		lastErr error
		lastJob *attemptJob
	)
	for {
		job, err := s.nextAttempt(gen, lastErr)
		if err != nil {
			return s.failedResult(lastJob), err
		}
		lastJob = job

		actx, aspan := s.tracer.Start(ctx, "chat.PaymentAttempt",
			trace.WithAttributes(attribute.Int("payment.attempt", job.attempt.Number)))
		job.traceID = traceID(actx)
		res, err := s.runAttempt(actx, gen, job)
		aspan.SetAttributes(attribute.String("payment.state", string(job.attempt.State)))
		endSpan(aspan, err)
		s.metrics.observeAttempt(job.attempt)
		if err == nil {
			return res, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, ErrSuperseded) || ctx.Err() != nil:
			return s.failedResult(job), err

		case x402.IsRetryable(err) || x402http.IsTransient(err):
			s.logger.Warn("Payment attempt failed, retrying",
				traceField(job.traceID),
				zap.Int("attempt", job.attempt.Number),
				zap.String("reason", job.attempt.Reason()),
				zap.Error(err),
			)
			if werr := s.wait(ctx, gen); werr != nil {
				return s.failedResult(job), werr
			}

		case x402.IsTerminal(err):
			s.logger.Error("Payment failed",
				traceField(job.traceID),
				zap.String("reason", job.attempt.Reason()),
				zap.Error(err),
			)
			s.mu.Lock()
			if gen == s.generation {
				s.clearPendingLocked()
			}
			s.mu.Unlock()
			return s.failedResult(job), err

		default:
			s.logger.Warn("Payment needs user action",
				traceField(job.traceID),
				zap.Int("attempt", job.attempt.Number),
				zap.String("reason", job.attempt.Reason()),
				zap.Error(err),
			)
			return s.failedResult(job), err
		}
	}
}

type attemptJob struct {
	attempt *Attempt
	request x402.PaymentRequest
	content string
	history []x402http.ChatMessage
	payer   Payer
	traceID string
}

// nextAttempt counts a new attempt for the pending challenge, or clears the
// challenge once the cap is reached
func (s *Session) nextAttempt(gen uint64, lastErr error) (*attemptJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.pending == nil {
		return nil, ErrSuperseded
	}
	if s.attempts >= s.maxAttempts {
		attempts := s.attempts
		s.clearPendingLocked()
		s.metrics.Exhausted.Inc()
		s.logger.Error("Payment attempts exhausted", zap.Int("attempts", attempts), zap.Error(lastErr))
		return nil, &x402.PaymentError{
			Code:    x402.ErrCodeAttemptsExhausted,
			Message: fmt.Sprintf("payment failed after %d attempts", attempts),
			Details: map[string]interface{}{"attempts": attempts},
			Err:     lastErr,
		}
	}

	s.attempts++
	job := &attemptJob{
		request: *s.pending,
		content: s.pendingContent,
		history: s.historyLocked(s.pendingContent),
		payer:   s.payer,
	}
	job.attempt = newAttempt(s.attempts, s.logTransition(job))
	return job, nil
}

func (s *Session) runAttempt(ctx context.Context, gen uint64, job *attemptJob) (*Result, error) {
	a := job.attempt
	fail := func(err error) (*Result, error) {
		a.Fail(err)
		return nil, err
	}

	if err := a.Transition(StateAwaitingRequirement); err != nil {
		return fail(err)
	}
	requirement, err := x402.SelectRequirement(job.request, x402.DefaultScheme, s.network)
	if err != nil {
		return fail(err)
	}

	if err := a.Transition(StateAwaitingWallet); err != nil {
		return fail(err)
	}
	if job.payer == nil {
		return fail(x402.ErrWalletNotConnected)
	}
	if err := job.payer.CheckChain(ctx, requirement.Network); err != nil {
		return fail(err)
	}

	if err := a.Transition(StateSigning); err != nil {
		return fail(err)
	}
	header, err := job.payer.CreatePaymentHeaderFor(ctx, requirement)
	if err != nil {
		return fail(err)
	}
	if !s.current(gen) {
		return fail(ErrSuperseded)
	}
	encoded, err := x402http.EncodePaymentHeader(header)
	if err != nil {
		return fail(err)
	}

	if err := a.Transition(StateSubmitting); err != nil {
		return fail(err)
	}
	resp, err := s.api.Chat(ctx, x402http.ChatRequest{
		Message:        job.content,
		History:        job.history,
		PaymentHeaders: map[string]string{x402http.PaymentHeaderName: encoded},
	})
	if err != nil {
		return fail(fmt.Errorf("paid chat request failed: %w", err))
	}
	if resp.IsChallenge() {
		reason := resp.PaymentRequest.Error
		if reason == "" {
			reason = "payment verification failed"
		}
		return fail(x402.NewPaymentError(x402.ErrCodeVerificationRejected, reason, nil))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return fail(ErrSuperseded)
	}
	if err := a.Transition(StateSuccess); err != nil {
		return fail(err)
	}
	reply := s.replyLocked(resp)
	return &Result{Reply: reply, State: StateSuccess, Requirement: &requirement, Attempts: a.Number}, nil
}

func (s *Session) failedResult(job *attemptJob) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &Result{State: StateFailed, Challenge: s.pending, Attempts: s.attempts}
	if job != nil {
		res.State = job.attempt.State
		res.Attempts = job.attempt.Number
	}
	return res
}

// wait pauses for the retry delay and reports whether the attempt is still current
func (s *Session) wait(ctx context.Context, gen uint64) error {
	if s.retryDelay > 0 {
		timer := time.NewTimer(s.retryDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if !s.current(gen) {
		return ErrSuperseded
	}
	return nil
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.generation
}

func (s *Session) logTransition(job *attemptJob) func(from, to PaymentState) {
	return func(from, to PaymentState) {
		s.logger.Debug("Payment state transition",
			traceField(job.traceID),
			zap.Int("attempt", job.attempt.Number),
			zap.String("from_state", string(from)),
			zap.String("to_state", string(to)),
		)
	}
}

// replyLocked records the assistant reply and resets payment state
func (s *Session) replyLocked(resp *x402http.ChatResponse) string {
	reply := resp.Reply
	if reply == "" {
		reply = emptyReply
	}
	s.appendLocked(x402http.RoleAssistant, reply)
	s.clearPendingLocked()
	return reply
}

func (s *Session) clearPendingLocked() {
	s.pending = nil
	s.pendingContent = ""
	s.attempts = 0
}

func (s *Session) appendLocked(role, content string) {
	s.messages = append(s.messages, Message{ID: uuid.NewString(), Role: role, Content: content})
}

// historyLocked is the history sent along with content: every earlier message,
// without a trailing user message equal to content
func (s *Session) historyLocked(content string) []x402http.ChatMessage {
	messages := s.messages
	if n := len(messages); n > 0 && messages[n-1].Role == x402http.RoleUser && messages[n-1].Content == content {
		messages = messages[:n-1]
	}

	history := make([]x402http.ChatMessage, 0, len(messages))
	for _, m := range messages {
		history = append(history, x402http.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return history
}
