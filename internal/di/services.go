package di

import (
	"fmt"

	"github.com/aristath/rebalancer/internal/clients/across"
	"github.com/aristath/rebalancer/internal/clients/rebalanceapi"
	"github.com/aristath/rebalancer/internal/clients/rpc"
	"github.com/aristath/rebalancer/internal/clients/squid"
	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/metrics"
	"github.com/aristath/rebalancer/internal/modules/bridge"
	"github.com/aristath/rebalancer/internal/modules/dust"
	"github.com/aristath/rebalancer/internal/modules/orchestrator"
	"github.com/aristath/rebalancer/internal/modules/pricing"
	"github.com/aristath/rebalancer/internal/modules/protocols"
	"github.com/aristath/rebalancer/internal/modules/strategy"
	"github.com/aristath/rebalancer/internal/modules/swap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// InitializeObservability creates the metrics registry and event bus every
// other component reports to.
func InitializeObservability(cfg *config.Config, log zerolog.Logger) *Container {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bus := events.NewBus(log)
	return &Container{
		Config:       cfg,
		Registry:     registry,
		Metrics:      metrics.New(registry),
		EventBus:     bus,
		EventManager: events.NewManager(bus, log),
	}
}

// InitializeClients creates the HTTP and JSON-RPC clients. Chains without a
// configured endpoint get no rpc client.
func InitializeClients(c *Container, cfg *config.Config, log zerolog.Logger) {
	c.APIClient = rebalanceapi.NewClient(cfg.APIURL, cfg.SDKAPIURL, log)
	c.AcrossClient = across.NewClient(cfg.AcrossAPIURL, log)
	c.SquidClient = squid.NewClient(cfg.SquidAPIURL, cfg.SquidIntegratorID, log)

	c.RPCClients = make(map[string]*rpc.Client, len(cfg.RPCURLs))
	for chain, urls := range cfg.RPCURLs {
		c.RPCClients[chain] = rpc.NewClient(urls, log)
		log.Debug().Str("chain", chain).Int("endpoints", len(urls)).Msg("RPC client configured")
	}
}

// InitializeServices builds pricing, swap and bridge routing, loads the
// strategy file and creates the orchestrator on top of them.
func InitializeServices(c *Container, cfg *config.Config, log zerolog.Logger) error {
	c.Swapper = swap.NewSelector(c.APIClient, swap.Config{Inert: cfg.InertMode}, c.Metrics, log)
	c.Bridges = bridge.NewSelector([]bridge.Bridge{
		bridge.NewAcross(c.AcrossClient, log),
		bridge.NewSquid(c.SquidClient, log),
	}, c.Metrics, log)

	readers := make(map[string]protocols.ChainReader, len(c.RPCClients))
	for chain, client := range c.RPCClients {
		readers[chain] = client
	}

	loaded, err := strategy.Load(cfg.StrategyFile, protocols.NewRegistry(readers, c.Swapper, log))
	if err != nil {
		return fmt.Errorf("failed to load strategy: %w", err)
	}
	c.Vault = loaded.Vault

	static := pricing.DefaultStaticTable()
	batcher := pricing.NewBatcher(
		pricing.NewOracle(c.APIClient, static, c.Metrics, log),
		static,
		pricing.BatcherConfig{
			RequestsPerMinute: cfg.PriceRequestsPerMinute,
			Inert:             cfg.InertMode,
		},
		log,
	)
	c.PriceService = pricing.NewService(batcher, pricing.NewCache(cfg.PriceCacheTTL), loaded.Tokens, c.Metrics, log)

	c.Orchestrator = orchestrator.New(c.Vault, orchestrator.Dependencies{
		Prices:    c.PriceService,
		Swapper:   c.Swapper,
		Bridges:   c.Bridges,
		Referrals: c.APIClient,
		APRs:      c.APIClient,
		Events:    c.EventManager,
		Metrics:   c.Metrics,
	}, log)

	c.DustConverter = dust.NewConverter(c.APIClient, c.Swapper, c.PriceService, c.EventManager, c.Metrics, log)

	log.Info().
		Str("vault", c.Vault.Name).
		Str("denomination", string(c.Vault.Denomination)).
		Int("positions", len(c.Vault.Strategy.Entries())).
		Strs("chains", c.Vault.Strategy.Chains()).
		Msg("Strategy loaded")

	return nil
}
