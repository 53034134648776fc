package main

/**
 * Terminal chat client for a pay-per-message resource server.
 *
 * Every message may be answered with an x402 payment challenge. With
 * EVM_PRIVATE_KEY set, challenges are paid automatically; otherwise the
 * challenge stays pending until a wallet is configured.
 *
 * Run with: go run ./cmd/x402chat
 */

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	x402 "github.com/x402chat/client"
	"github.com/x402chat/client/chat"
	"github.com/x402chat/client/config"
	x402http "github.com/x402chat/client/http"
	"github.com/x402chat/client/mechanisms/evm"
	evmsigners "github.com/x402chat/client/signers/evm"
)

func main() {
	if err := run(); err != nil {
		fmt.Printf("\nFatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fmt.Println("\nx402 Chat")
	fmt.Println(strings.Repeat("=", 70))

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		tp, err := newTracerProvider(ctx)
		if err != nil {
			return err
		}
		otel.SetTracerProvider(tp)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Failed to flush traces", zap.Error(err))
			}
		}()
	}

	registry := prometheus.NewRegistry()
	metrics := chat.NewMetrics(registry)
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, registry, logger)
		defer shutdown(srv)
	}

	api := x402http.NewClient(cfg.APIBase)
	fmt.Printf("Resource server: %s\n", api.BaseURL())
	fmt.Printf("Payment network: %s\n", cfg.Network)
	if cfg.ChainIDOverride == nil && !evm.IsValidNetwork(cfg.Network) {
		return fmt.Errorf("unknown network %q (supported: %s)", cfg.Network, strings.Join(evm.Networks(), ", "))
	}

	opts := []chat.Option{
		chat.WithLogger(logger),
		chat.WithMetrics(metrics),
		chat.WithNetwork(cfg.Network),
	}

	payer, err := newPayer(ctx, cfg)
	if err != nil {
		return err
	}
	if payer != nil {
		fmt.Printf("Wallet address: %s\n", payer.Signer().Address())
		opts = append(opts, chat.WithPayer(payer))
	} else {
		fmt.Println("No wallet configured (set EVM_PRIVATE_KEY to pay for messages)")
	}

	session := chat.NewSession(api, opts...)

	fmt.Println(strings.Repeat("=", 70))
	fmt.Println("\nCommands: /info, /pay, /cancel, quit")
	fmt.Printf("\nAssistant: %s\n\n", chat.Greeting)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "quit", "exit":
			fmt.Println("\nGoodbye!")
			return nil
		case "/info":
			printInfo(ctx, api)
			continue
		case "/cancel":
			session.Cancel()
			fmt.Print("\nPending payment cancelled.\n\n")
			continue
		case "/pay":
			res, err := session.Pay(ctx)
			report(res, err)
			continue
		}

		res, err := session.Send(ctx, input)
		report(res, err)

		if ctx.Err() != nil {
			return nil
		}
	}

	return scanner.Err()
}

func newLogger(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = atomicLevel
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

// newTracerProvider exports spans to the collector named by the standard
// OTEL_EXPORTER_OTLP_* variables
func newTracerProvider(ctx context.Context) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter)), nil
}

func newPayer(ctx context.Context, cfg *config.Config) (*evm.ExactEvmClient, error) {
	if cfg.PrivateKey == "" {
		return nil, nil
	}

	var signerOpts []evmsigners.SignerOption
	switch {
	case cfg.WalletChainID != nil:
		signerOpts = append(signerOpts, evmsigners.WithChainID(cfg.WalletChainID))
	case cfg.RPCURL != "":
		rpc, err := evmsigners.DialChainReader(ctx, cfg.RPCURL)
		if err != nil {
			return nil, err
		}
		signerOpts = append(signerOpts, evmsigners.WithChainReader(rpc))
	default:
		chainID, err := evm.ChainResolver{Override: cfg.ChainIDOverride}.ResolveChainID(cfg.Network)
		if err != nil {
			return nil, err
		}
		signerOpts = append(signerOpts, evmsigners.WithChainID(chainID))
	}

	signer, err := evmsigners.NewClientSignerFromPrivateKey(cfg.PrivateKey, signerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create EVM signer: %w", err)
	}

	var wallet evm.ClientEvmSigner = signer
	if cfg.SmartWallet {
		wallet = evmsigners.NewSmartWalletSigner(signer)
	}

	clientOpts := []evm.ClientOption{
		evm.WithNetwork(cfg.Network),
		evm.WithNonceLedger(x402.NewNonceLedger()),
	}
	if cfg.ChainIDOverride != nil {
		clientOpts = append(clientOpts, evm.WithChainIDOverride(cfg.ChainIDOverride))
	}
	return evm.NewExactEvmClient(wallet, clientOpts...), nil
}

func report(res *chat.Result, err error) {
	if err != nil {
		if errors.Is(err, chat.ErrSuperseded) || errors.Is(err, context.Canceled) {
			return
		}
		fmt.Printf("\nError: %s\n\n", x402.UserMessage(err))
		return
	}

	switch res.State {
	case chat.StateAwaitingWallet:
		fmt.Printf("\nPayment required: %s\n", describe(res.Requirement))
		fmt.Print("   Connect a wallet and type /pay to continue.\n\n")
	default:
		if res.Attempts > 0 {
			fmt.Printf("\n  Paid %s\n", describe(res.Requirement))
		}
		fmt.Printf("\nAssistant: %s\n\n", res.Reply)
	}
}

func describe(r *x402.PaymentRequirement) string {
	if r == nil {
		return ""
	}
	amount, err := x402.FormatAmount(r.MaxAmountRequired, evm.DefaultDecimals)
	if err != nil {
		amount = r.MaxAmountRequired
	}
	token, ok := r.TokenName()
	if !ok {
		token = r.Asset
	}
	return fmt.Sprintf("%s %s on %s", amount, token, r.Network)
}

func printInfo(ctx context.Context, api *x402http.Client) {
	info, err := api.Info(ctx)
	if err != nil {
		fmt.Printf("\nCould not load server info: %v\n\n", err)
		return
	}
	fmt.Printf("\n   Model:    %s\n", info.ModelName)
	fmt.Printf("   Base URL: %s\n", info.BaseURL)
	fmt.Printf("   API key:  %s\n\n", maskKey(info.APIKey))
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		logger.Info("Metrics server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
