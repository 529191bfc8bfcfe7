package svc

import (
	"log"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	cachepkg "relay-api/internal/cache"
	"relay-api/internal/config"
	"relay-api/internal/model"
	"relay-api/internal/persistence"
	exchangepkg "relay-api/pkg/exchange"
	_ "relay-api/pkg/exchange/bybit"
	_ "relay-api/pkg/exchange/sim"
	managerpkg "relay-api/pkg/manager"
)

type ServiceContext struct {
	Config config.Config

	ExchangeConfig    *exchangepkg.Config
	ExchangeProviders map[string]exchangepkg.Provider
	DefaultExchange   exchangepkg.Provider

	EngineConfig *managerpkg.Config
	Engine       *managerpkg.Manager

	TTL   cachepkg.TTLSet
	Redis *redis.Redis

	// Optional DB-backed mirrors; nil without a DSN.
	DBConn          sqlx.SqlConn
	ExecutionsModel model.ExecutionsModel
	Persistence     *persistence.Service
}

func NewServiceContext(c config.Config) *ServiceContext {
	svc := &ServiceContext{
		Config: c,
		TTL:    cachepkg.NewTTLSet(c.TTL),
	}

	// Exchange providers are required; every account binds to one.
	if c.Exchange.Value == nil {
		log.Fatalf("exchange config is required (set Exchange.File)")
	}
	exchangeCfg := c.Exchange.Value
	// Test environment trades against testnet endpoints only.
	if c.IsTestEnv() {
		for _, provider := range exchangeCfg.Providers {
			provider.Testnet = true
		}
	}
	providers, err := exchangeCfg.BuildProviders()
	if err != nil {
		log.Fatalf("failed to build exchange providers: %v", err)
	}
	svc.ExchangeConfig = exchangeCfg
	svc.ExchangeProviders = providers
	if exchangeCfg.Default != "" {
		svc.DefaultExchange = providers[exchangeCfg.Default]
	}

	if c.Redis.Host != "" {
		svc.Redis = redis.MustNewRedis(c.Redis)
	}

	// Only inject DB mirrors when DSN provided; execution still works without.
	if c.Postgres.DSN != "" {
		conn := sqlx.NewSqlConn("pgx", c.Postgres.DSN)
		svc.DBConn = conn
		svc.ExecutionsModel = model.NewExecutionsModel(conn)
	}
	if svc.ExecutionsModel != nil || svc.Redis != nil {
		svc.Persistence = persistence.New(svc.ExecutionsModel, svc.Redis, svc.TTL)
	}

	if c.Engine.Value == nil {
		log.Fatalf("engine config is required (set Engine.File)")
	}
	engineOpts := []managerpkg.Option{}
	if svc.Persistence != nil {
		engineOpts = append(engineOpts, managerpkg.WithPersistence(svc.Persistence))
	}
	engine, err := managerpkg.New(c.Engine.Value, providers, engineOpts...)
	if err != nil {
		log.Fatalf("failed to build execution engine: %v", err)
	}
	svc.EngineConfig = c.Engine.Value
	svc.Engine = engine

	return svc
}
