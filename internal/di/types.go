// Package di provides dependency injection wiring and initialization.
package di

import (
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
	"github.com/aristath/rebalancer/internal/modules/strategy"
	"github.com/aristath/rebalancer/internal/modules/swap"
	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
)

// Container holds all dependencies for the application. It is created by
// Wire and handed to the server, which reads services from it.
type Container struct {
	Config *config.Config

	// Observability
	Registry     *prometheus.Registry
	Metrics      *metrics.Metrics
	EventBus     *events.Bus
	EventManager *events.Manager

	// Clients
	APIClient    *rebalanceapi.Client
	AcrossClient *across.Client
	SquidClient  *squid.Client
	RPCClients   map[string]*rpc.Client // keyed by canonical chain name

	// Services
	PriceService  *pricing.Service
	Swapper       *swap.Selector
	Bridges       *bridge.Selector
	Vault         *strategy.Vault
	Orchestrator  *orchestrator.Orchestrator
	DustConverter *dust.Converter

	Scheduler *scheduler.Scheduler
}

// JobInstances holds the registered background jobs so they can be
// triggered on demand.
type JobInstances struct {
	PriceRefresh *pricing.RefreshJob
}
