package main

import (
	"context"
	"fmt"

	"github.com/systemshift/whereabouts/internal/batch"
	"github.com/systemshift/whereabouts/internal/config"
	"github.com/systemshift/whereabouts/internal/location"
	"github.com/systemshift/whereabouts/internal/platform/logger"
	"github.com/systemshift/whereabouts/internal/server/events"
	"github.com/systemshift/whereabouts/internal/server/graph"
	"github.com/systemshift/whereabouts/internal/server/subscriptions"
)

const resolverListener = "location-resolver"

// app is the wired store, bus, resolver and linker shared by all commands
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	repo     graph.Repository
	bus      *events.Bus
	resolver *location.Resolver
	linker   *batch.GroupLinker
	subs     *subscriptions.Manager
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(rootFlags.envFiles...)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	repo, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	log.Info("opened record store", "backend", cfg.Store.Backend)

	mapping, err := location.LoadFieldMapping(cfg.Location.FieldMappingFile)
	if err != nil {
		repo.Close(ctx)
		return nil, err
	}

	subs, err := subscriptions.NewManager(cfg.Subscriptions.Webhooks, subscriptions.Options{
		QueueSize:   cfg.Subscriptions.QueueSize,
		Timeout:     cfg.Subscriptions.Timeout,
		MaxAttempts: cfg.Subscriptions.MaxAttempts,
	}, log.With("component", "subscriptions"))
	if err != nil {
		repo.Close(ctx)
		return nil, err
	}

	types := location.Types{Item: cfg.Location.ItemType, Movement: cfg.Location.MovementType}
	resolver := location.NewResolver(repo, types,
		location.WithMapper(mapping),
		location.WithTriggers(cfg.Location.TriggerEvents),
		location.WithObserver(subs),
		location.WithLogger(log.With("component", "location")),
	)
	linker := batch.NewGroupLinker(repo, batch.Config{
		Types:            types,
		GroupType:        cfg.Location.GroupType,
		RelationshipType: cfg.Batch.LinkRelationshipType,
		MembershipType:   cfg.Batch.GroupMembershipType,
	}, log.With("component", "batch"))

	bus := events.NewBus(log.With("component", "events"))
	if err := bus.Subscribe(resolverListener, resolver.Pattern(), resolver); err != nil {
		repo.Close(ctx)
		return nil, err
	}
	repo.SetEventEmitter(bus.Emitter())
	subs.Start()

	return &app{
		cfg:      cfg,
		log:      log,
		repo:     repo,
		bus:      bus,
		resolver: resolver,
		linker:   linker,
		subs:     subs,
	}, nil
}

// Close detaches the resolver before stopping deliveries and closing the store
func (a *app) Close(ctx context.Context) {
	if err := a.bus.Unsubscribe(resolverListener); err != nil {
		a.log.Warn("detaching location resolver", "error", err)
	}
	a.subs.Stop(ctx)
	if err := a.repo.Close(ctx); err != nil {
		a.log.Warn("closing record store", "error", err)
	}
	a.log.Sync()
}

func openStore(ctx context.Context, opts config.StoreOptions) (graph.Repository, error) {
	switch opts.Backend {
	case config.BackendMemory:
		return graph.NewMemory(), nil
	case config.BackendSQLite:
		return graph.NewSQLite(ctx, opts.SQLitePath)
	case config.BackendPostgres:
		return graph.NewPostgres(ctx, opts.PostgresDSN)
	case config.BackendNeo4j:
		return graph.NewNeo4j(ctx, graph.Neo4jConfig{
			URI:      opts.Neo4jURI,
			Username: opts.Neo4jUser,
			Password: opts.Neo4jPassword,
			Database: opts.Neo4jDatabase,
		})
	}
	return nil, fmt.Errorf("unknown store backend: %s", opts.Backend)
}
