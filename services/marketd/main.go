package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"lukechampine.com/blake3"

	"termlend/config"
	"termlend/crypto"
	"termlend/native/auditor"
	"termlend/native/common"
	"termlend/native/fixedlending"
	"termlend/observability/logging"
	telemetry "termlend/observability/otel"
	"termlend/rpc"
	"termlend/state"
	"termlend/storage"
)

const gaugeRefreshInterval = 30 * time.Second

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./marketd.toml", "path to marketd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("TERMLEND_ENV"))
	logger := logging.Setup("marketd", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("load config", "error", err.Error())
		os.Exit(1)
	}
	marketIDs := make([]string, 0, len(cfg.Markets))
	for i := range cfg.Markets {
		marketIDs = append(marketIDs, cfg.Markets[i].Asset)
	}

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "marketd",
		Environment: env,
		Network:     cfg.NetworkName,
		Markets:     marketIDs,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		logger.Error("init telemetry", "error", err.Error())
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("open state database", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()
	manager := state.NewManager(db)

	moduleAddr, err := resolveAddress(cfg.ModuleAddress, "termlend/module/"+cfg.NetworkName)
	if err != nil {
		logger.Error("resolve module address", "error", err.Error())
		os.Exit(1)
	}
	treasuryAddr, err := resolveAddress(cfg.TreasuryAddress, "termlend/treasury/"+cfg.NetworkName)
	if err != nil {
		logger.Error("resolve treasury address", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("custody accounts resolved", "module", moduleAddr.String(), "treasury", treasuryAddr.String())

	oracle := auditor.NewStaticOracle(nil)
	risk := auditor.New(oracle)
	pauses := common.NewSwitchboard()

	server := rpc.NewServer(logger)
	receipts, err := rpc.NewReceiptStore(filepath.Join(cfg.DataDir, "receipts.db"))
	if err != nil {
		logger.Error("open receipt store", "error", err.Error())
		os.Exit(1)
	}
	defer receipts.Close()
	server.SetReceiptStore(receipts)

	for i := range cfg.Markets {
		market := &cfg.Markets[i]
		params, err := market.Parameters()
		if err != nil {
			logger.Error("parse market parameters", "market", market.Asset, "error", err.Error())
			os.Exit(1)
		}
		engine := fixedlending.NewEngine(moduleAddr, params)
		engine.SetState(manager)
		engine.SetRiskController(risk)
		engine.SetPauses(pauses)

		marketRisk := auditor.MarketRisk{}
		if strings.TrimSpace(market.AdjustFactor) != "" {
			factor, err := config.ParseWad(market.AdjustFactor)
			if err != nil {
				logger.Error("parse adjust factor", "market", market.Asset, "error", err.Error())
				os.Exit(1)
			}
			marketRisk.AdjustFactor = factor
		}
		if err := risk.RegisterMarket(engine.RiskView(), marketRisk); err != nil {
			logger.Error("register market with auditor", "market", market.Asset, "error", err.Error())
			os.Exit(1)
		}
		if strings.TrimSpace(market.OraclePrice) != "" {
			price, err := config.ParseWad(market.OraclePrice)
			if err != nil {
				logger.Error("parse oracle price", "market", market.Asset, "error", err.Error())
				os.Exit(1)
			}
			oracle.SetPrice(market.Asset, price)
		}

		server.RegisterEngine(engine)
		logger.Info("market listed", "market", market.Asset, "intervalSeconds", params.Interval, "maxFuturePools", params.MaxFuturePools)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(server.Handler(), "marketd.rpc"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(gaugeRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				server.RefreshMarketGauges()
			}
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("marketd listening", "address", cfg.ListenAddress, "network", cfg.NetworkName)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err.Error())
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "error", err.Error())
			os.Exit(1)
		}
	}
}

// resolveAddress decodes a configured bech32 address, or derives a
// deterministic protocol account from seed when none is configured. The
// derived address has no known private key, which is exactly what a custody
// account needs.
func resolveAddress(configured, seed string) (crypto.Address, error) {
	if trimmed := strings.TrimSpace(configured); trimmed != "" {
		return crypto.DecodeAddress(trimmed)
	}
	sum := blake3.Sum256([]byte(seed))
	return crypto.NewAddress(crypto.TLPrefix, sum[:20])
}
