// Package testserver is an in-process chat resource server that charges for
// every message with x402 and verifies payments by recovering the EIP-712 signer.
package testserver

import (
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"

	x402 "github.com/x402chat/client"
	x402http "github.com/x402chat/client/http"
	"github.com/x402chat/client/mechanisms/evm"
)

type networkConfig struct {
	assetAddress string
	tokenName    string
}

var supportedNetworks = map[string]networkConfig{
	"base": {
		assetAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		tokenName:    "USD Coin",
	},
	"base-sepolia": {
		assetAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		tokenName:    "USDC",
	},
}

// DefaultPayTo receives payments unless WithPayTo is used
const DefaultPayTo = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"

// Options configures the server
type Options struct {
	Network           string
	PayTo             string
	Amount            string
	MaxTimeoutSeconds int
	ModelName         string
	Now               func() time.Time
	Reply             func(message string, history []x402http.ChatMessage) string
}

// Option is a functional option
type Option func(*Options)

// WithNetwork sets the network payments are requested on
func WithNetwork(network string) Option {
	return func(o *Options) {
		o.Network = network
	}
}

// WithPayTo sets the recipient address
func WithPayTo(payTo string) Option {
	return func(o *Options) {
		o.PayTo = payTo
	}
}

// WithAmount sets maxAmountRequired in atomic units
func WithAmount(amount string) Option {
	return func(o *Options) {
		o.Amount = amount
	}
}

// WithClock replaces the wall clock used to check authorization windows
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}

// WithReply sets how paid messages are answered
func WithReply(reply func(message string, history []x402http.ChatMessage) string) Option {
	return func(o *Options) {
		o.Reply = reply
	}
}

// Stats counts what the server has seen
type Stats struct {
	Challenges int
	Verified   int
	Rejected   int
	LastError  string
}

// Server is the fake resource server
type Server struct {
	opts   Options
	engine *gin.Engine

	mu         sync.Mutex
	stats      Stats
	reject     int
	seenNonces map[string]struct{}
	payloads   []x402.X402Header
}

// New builds a server
func New(opts ...Option) *Server {
	options := Options{
		Network:           x402.DefaultNetwork,
		PayTo:             DefaultPayTo,
		Amount:            "10000",
		MaxTimeoutSeconds: 60,
		ModelName:         "test-model",
		Now:               time.Now,
		Reply: func(message string, history []x402http.ChatMessage) string {
			return fmt.Sprintf("echo: %s (%d earlier messages)", message, len(history))
		},
	}
	for _, opt := range opts {
		opt(&options)
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		opts:       options,
		engine:     gin.New(),
		seenNonces: make(map[string]struct{}),
	}
	s.engine.Use(gin.Recovery())
	s.engine.GET("/info", s.handleInfo)
	s.engine.POST("/chat", s.handleChat)
	s.engine.GET("/paid", s.PaymentMiddleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"reply": "premium content"})
	})
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// RejectNext makes the next n valid payments fail verification
func (s *Server) RejectNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = n
}

// Stats returns a snapshot of the counters
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Payments returns every decoded payment header received, accepted or not
func (s *Server) Payments() []x402.X402Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]x402.X402Header(nil), s.payloads...)
}

// PaymentRequest returns the challenge the server issues
func (s *Server) PaymentRequest(resource, errMsg string) x402.PaymentRequest {
	netCfg := supportedNetworks[s.opts.Network]
	return x402.PaymentRequest{
		X402Version: x402.ProtocolVersion,
		Error:       errMsg,
		Accepts: []x402.PaymentRequirement{{
			Scheme:            evm.SchemeExact,
			Network:           s.opts.Network,
			MaxAmountRequired: s.opts.Amount,
			Resource:          resource,
			Description:       "Chat message",
			MimeType:          "application/json",
			PayTo:             s.opts.PayTo,
			MaxTimeoutSeconds: s.opts.MaxTimeoutSeconds,
			Asset:             netCfg.assetAddress,
			Extra: map[string]interface{}{
				"name":    netCfg.tokenName,
				"version": evm.DefaultTokenVersion,
			},
		}},
	}
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"base_url":   "http://" + c.Request.Host,
		"model_name": s.opts.ModelName,
		"api_key":    "sk-test",
	})
}

func (s *Server) handleChat(c *gin.Context) {
	var req x402http.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resource := "http://" + c.Request.Host + c.Request.URL.Path
	value := req.PaymentHeaders[x402http.PaymentHeaderName]
	if value == "" {
		s.countChallenge()
		c.JSON(http.StatusOK, gin.H{"payment_request": s.PaymentRequest(resource, "X-PAYMENT header is required")})
		return
	}

	if err := s.verify(value); err != nil {
		s.countChallenge()
		c.JSON(http.StatusOK, gin.H{"payment_request": s.PaymentRequest(resource, err.Error())})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reply": s.opts.Reply(req.Message, req.History)})
}

// PaymentMiddleware answers requests without a valid X-Payment header with a 402.
func (s *Server) PaymentMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		resource := "http://" + c.Request.Host + c.Request.URL.Path

		value := c.GetHeader(x402http.PaymentHeaderName)
		if value == "" {
			s.countChallenge()
			c.AbortWithStatusJSON(http.StatusPaymentRequired, s.PaymentRequest(resource, "X-PAYMENT header is required"))
			return
		}

		if err := s.verify(value); err != nil {
			s.countChallenge()
			c.AbortWithStatusJSON(http.StatusPaymentRequired, s.PaymentRequest(resource, err.Error()))
			return
		}

		c.Next()
	}
}

func (s *Server) countChallenge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Challenges++
}

func (s *Server) verify(value string) error {
	header, decodeErr := x402http.DecodePaymentHeader(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	err := decodeErr
	if err == nil {
		s.payloads = append(s.payloads, header)
		err = s.verifyLocked(header)
	}
	if err != nil {
		s.stats.Rejected++
		s.stats.LastError = err.Error()
		return err
	}
	s.stats.Verified++
	return nil
}

func (s *Server) verifyLocked(header x402.X402Header) error {
	requirement := s.PaymentRequest("", "").Accepts[0]
	auth := header.Payload.Authorization

	if header.Scheme != requirement.Scheme || header.Network != requirement.Network {
		return fmt.Errorf("unsupported scheme %s on %s", header.Scheme, header.Network)
	}
	if !strings.EqualFold(auth.To, requirement.PayTo) {
		return fmt.Errorf("payment recipient %s does not match %s", auth.To, requirement.PayTo)
	}
	if auth.Value != requirement.MaxAmountRequired {
		return fmt.Errorf("payment value %s does not match %s", auth.Value, requirement.MaxAmountRequired)
	}

	now := big.NewInt(s.opts.Now().Unix())
	validAfter, ok1 := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, ok2 := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok1 || !ok2 || now.Cmp(validAfter) < 0 || now.Cmp(validBefore) >= 0 {
		return fmt.Errorf("authorization is outside its validity window")
	}

	nonceKey := strings.ToLower(auth.From + auth.Nonce)
	if _, seen := s.seenNonces[nonceKey]; seen {
		return fmt.Errorf("nonce already used")
	}

	signer, err := recoverSigner(header, requirement)
	if err != nil {
		return err
	}
	if signer != common.HexToAddress(auth.From) {
		return fmt.Errorf("signature is from %s, not %s", signer.Hex(), auth.From)
	}

	if s.reject > 0 {
		s.reject--
		return fmt.Errorf("payment rejected by facilitator")
	}

	s.seenNonces[nonceKey] = struct{}{}
	return nil
}

func recoverSigner(header x402.X402Header, requirement x402.PaymentRequirement) (common.Address, error) {
	chainID, err := evm.ResolveChainID(requirement.Network)
	if err != nil {
		return common.Address{}, err
	}
	name, _ := requirement.TokenName()
	version, _ := requirement.TokenVersion()

	digest, err := evm.HashEIP3009Authorization(header.Payload.Authorization, evm.TypedDataDomain{
		Name:              name,
		Version:           version,
		ChainID:           chainID,
		VerifyingContract: requirement.Asset,
	})
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid authorization: %w", err)
	}

	sig, err := evm.HexToBytes(header.SignatureHex())
	if err != nil || len(sig) != evm.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature")
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
