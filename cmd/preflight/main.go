// Command preflight validates a deployment before the bot is started:
// it checks the config, reaches the venue, quotes both symbols, and, if
// API credentials are present, exercises an authenticated endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bybit-hedge-bot/internal/bybit/rest"
	"bybit-hedge-bot/internal/config"
	"bybit-hedge-bot/internal/logging"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail("config: %v", err)
	}
	fmt.Println("config: ok")

	h := cfg.Hedge
	fmt.Printf("pair: long %s / short %s\n", h.SymbolLong, h.SymbolShort)
	fmt.Printf("sizing: $%.2f per leg, $%.2f cap\n", h.USDPositionSize, h.MaxUSDPosition)
	legs := 1
	if h.EnableScaleIn {
		legs = h.ScaleInLegs
	}
	for k := 0; k < legs; k++ {
		fmt.Printf("leg %d fires at %.1f%% drawdown\n", k+1, h.TriggerDropPct+float64(k)*h.ScaleInDropStep)
	}

	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	apiKey := strings.TrimSpace(os.Getenv("BYBIT_API_KEY"))
	apiSecret := strings.TrimSpace(os.Getenv("BYBIT_API_SECRET"))
	qtyDecimals := map[string]int{
		h.SymbolLong:  *h.QtyDecimalsLong,
		h.SymbolShort: *h.QtyDecimalsShort,
	}
	client := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, apiKey, apiSecret, cfg.REST.RecvWindowMS, qtyDecimals, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	serverTime, err := client.ServerTime(ctx)
	if err != nil {
		fail("venue unreachable: %v", err)
	}
	skew := time.Since(serverTime)
	fmt.Printf("venue: ok (server time %s, skew %s)\n", serverTime.UTC().Format(time.RFC3339), skew.Round(time.Millisecond))

	for _, symbol := range []string{h.SymbolLong, h.SymbolShort} {
		price, err := client.MarkPrice(ctx, symbol)
		if err != nil {
			fail("ticker %s: %v", symbol, err)
		}
		fmt.Printf("ticker %s: %.6f\n", symbol, price)
	}

	if apiKey == "" || apiSecret == "" {
		fmt.Println("credentials: not set, skipping authenticated check")
		return
	}
	for _, symbol := range []string{h.SymbolLong, h.SymbolShort} {
		info, err := client.Position(ctx, symbol)
		if err != nil {
			fail("position %s: %v", symbol, err)
		}
		if info.Size == 0 {
			fmt.Printf("position %s: flat\n", symbol)
			continue
		}
		fmt.Printf("position %s: %s %.6f ($%.2f @ %.6f)\n", symbol, info.Side, info.Size, info.NotionalUSD, info.AvgPrice)
	}
	fmt.Println("credentials: ok")
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
