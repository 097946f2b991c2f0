package main

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"agent-trading-floor/internal/account"
	"agent-trading-floor/internal/engine"
	"agent-trading-floor/internal/floorlog"
	"agent-trading-floor/internal/interfaces"
	"agent-trading-floor/internal/llm/llmobs"
	"agent-trading-floor/internal/llm/noop"
	"agent-trading-floor/internal/llm/openai"
	"agent-trading-floor/internal/market"
	"agent-trading-floor/internal/news"
	"agent-trading-floor/internal/notify"
	"agent-trading-floor/internal/session"
	"agent-trading-floor/internal/snapshot"
	"agent-trading-floor/internal/store"
	"agent-trading-floor/internal/tools"
)

// staticPrices seeds the STATIC data source so the floor runs end to end
// without market connectivity.
var staticPrices = map[string]decimal.Decimal{
	"RELIANCE.NS":   decimal.NewFromInt(2950),
	"TCS.NS":        decimal.NewFromInt(4100),
	"INFY.NS":       decimal.NewFromInt(1850),
	"HDFCBANK.NS":   decimal.NewFromInt(1650),
	"TATAMOTORS.NS": decimal.NewFromInt(990),
	"AAPL":          decimal.NewFromInt(230),
	"MSFT":          decimal.NewFromInt(430),
}

// buildCoordinator wires every component from config and returns the
// session along with the floor log so main can run retention on it.
func buildCoordinator(cfg *store.Config) (*session.Coordinator, *floorlog.Log, error) {
	acctStore, err := account.NewStore(cfg.DataDir, cfg.InitialBalanceDecimal())
	if err != nil {
		return nil, nil, err
	}

	var upstream market.Upstream
	if cfg.DataSource == "LIVE" {
		upstream = market.NewYahooSource()
	} else {
		upstream = market.NewStaticSource(staticPrices)
	}
	oracle := market.NewOracle(upstream, time.Duration(cfg.Price.CacheTTLSeconds)*time.Second)
	validator := market.NewSymbolValidator(cfg.Market, oracle)

	var notifier interfaces.Notifier
	if cfg.Notify.Enabled && cfg.Notify.URL != "" {
		notifier = notify.NewPusher(notify.Params{
			URL:      cfg.Notify.URL,
			TokenEnv: cfg.Notify.TokenEnv,
			Timeout:  time.Duration(cfg.Notify.TimeoutMS) * time.Millisecond,
		})
	} else {
		notifier = notify.NewNoop()
	}

	executor := engine.NewExecutor(validator, oracle, acctStore, cfg.SpreadDecimal())
	gateway := tools.NewGateway(acctStore, executor, notifier, cfg.Round.ToolBudget)

	snaps, err := snapshot.NewEngine(acctStore, oracle, cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}

	flog := floorlog.New(cfg.DataDir)

	var headlines engine.HeadlineSource
	if cfg.News.Enabled {
		headlines = news.NewGatherer(time.Duration(cfg.PollSeconds) * time.Second)
	}

	runner := engine.NewRunner(engine.RunnerParams{
		Store:         acctStore,
		Prices:        oracle,
		Gateway:       gateway,
		Decider:       llmobs.Wrap(buildDecider(cfg)),
		Snapshots:     snaps,
		Log:           flog,
		Headlines:     headlines,
		Clock:         buildClock(cfg),
		OracleTimeout: cfg.RoundTimeout(),
		MaxHeadlines:  cfg.News.MaxHeadlines,
	})

	coord := session.NewCoordinator(cfg.Agents, runner, acctStore, snaps, notifier,
		time.Duration(cfg.PollSeconds)*time.Second, cfg.SnapshotResolution())
	return coord, flog, nil
}

func buildDecider(cfg *store.Config) interfaces.Decider {
	if cfg.LLM.Provider == "OPENAI" {
		return openai.NewDecider(cfg)
	}
	return noop.NewDecider()
}

// buildClock returns the market-hours gate. STATIC data has no real
// session, so the market is always open there. For live NSE data the
// window is 09:15-15:30 IST on weekdays; closed hours put rounds in
// analysis mode.
func buildClock(cfg *store.Config) engine.MarketClock {
	if cfg.DataSource != "LIVE" || cfg.Market != "NSE" {
		return nil
	}
	ist := time.FixedZone("IST", 5*3600+30*60)
	return func(ctx context.Context) bool {
		now := time.Now().In(ist)
		if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
			return false
		}
		minutes := now.Hour()*60 + now.Minute()
		return minutes >= 9*60+15 && minutes <= 15*60+30
	}
}
