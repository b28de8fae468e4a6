package svc

import (
	"log"

	"marketpipe/internal/config"
	"marketpipe/internal/store"
	"marketpipe/pkg/provider"
	_ "marketpipe/pkg/provider/binance"
	_ "marketpipe/pkg/provider/coingecko"
)

// ServiceContext holds everything a command needs: the loaded config, the
// built provider clients and the Postgres-backed store.
type ServiceContext struct {
	Config *config.Config

	Clients map[string]provider.Client
	// Client is the default provider the pipeline extracts from.
	Client provider.Client

	Store *store.Store
}

func NewServiceContext(c *config.Config) *ServiceContext {
	svc := &ServiceContext{Config: c}

	if c.Provider.Value != nil {
		clients, err := c.Provider.Value.BuildClients()
		if err != nil {
			log.Fatalf("failed to build provider clients: %v", err)
		}
		svc.Clients = clients
		if c.Provider.Value.Default != "" {
			svc.Client = clients[c.Provider.Value.Default]
		}
	}

	if c.Postgres.DSN != "" {
		svc.Store = store.NewFromDSN(c.Postgres.DSN)
	}
	return svc
}
