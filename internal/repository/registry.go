package repository

import (
	"context"
	"fmt"

	"github.com/invigo-mfg/invigo-server/pkg/config"
	"github.com/invigo-mfg/invigo-server/pkg/database"
	"github.com/invigo-mfg/invigo-server/pkg/health"
	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

// Registry owns every entity repository. Each repository gets its own
// guarded pool, so one unreachable dependency degrades only its own health
// check. Callers must keep max pool size × repository count below the
// database's max_connections.
type Registry struct {
	Jobs              *JobsRepository
	Workorders        *WorkordersRepository
	PurchaseOrders    *PurchaseOrdersRepository
	Sheets            *SheetsRepository
	Components        *ComponentsRepository
	LaserCutParts     *LaserCutPartsRepository
	Coatings          *CoatingsRepository
	Vendors           *VendorsRepository
	ShippingAddresses *ShippingAddressesRepository
	Roles             *RolesRepository
	Users             *UsersRepository
	Software          *SoftwareRepository

	logger *logger.Logger
}

// PoolConfig maps server configuration onto one repository pool.
func PoolConfig(cfg *config.Config) database.PostgreSQLConfig {
	return database.PostgreSQLConfig{
		User:                          cfg.PostgresUser,
		Password:                      cfg.PostgresPassword,
		Host:                          cfg.PostgresHost,
		Port:                          cfg.PostgresPort,
		Database:                      cfg.PostgresDB,
		MinConnections:                cfg.PostgresMinPoolSize,
		MaxConnections:                cfg.PostgresMaxPoolSize,
		ConnectionTimeout:             cfg.PostgresTimeout,
		CommandTimeout:                cfg.PostgresCommandTimeout,
		MaxInactiveConnectionLifetime: cfg.PostgresMaxInactiveConnectionLifetime,
	}
}

// NewRegistry connects every repository and creates missing tables.
func NewRegistry(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Registry, error) {
	pool := func() (*database.PostgreSQL, error) {
		return database.New(ctx, PoolConfig(cfg))
	}

	reg := &Registry{logger: log}
	repos := []struct {
		name string
		init func(db *database.PostgreSQL)
	}{
		{"jobs", func(db *database.PostgreSQL) { reg.Jobs = NewJobsRepository(db, log) }},
		{"workorders", func(db *database.PostgreSQL) { reg.Workorders = NewWorkordersRepository(db, log) }},
		{"purchase orders", func(db *database.PostgreSQL) { reg.PurchaseOrders = NewPurchaseOrdersRepository(db, log) }},
		{"sheets", func(db *database.PostgreSQL) { reg.Sheets = NewSheetsRepository(db, log) }},
		{"components", func(db *database.PostgreSQL) { reg.Components = NewComponentsRepository(db, log) }},
		{"laser cut parts", func(db *database.PostgreSQL) { reg.LaserCutParts = NewLaserCutPartsRepository(db, log) }},
		{"coatings", func(db *database.PostgreSQL) { reg.Coatings = NewCoatingsRepository(db, log) }},
		{"vendors", func(db *database.PostgreSQL) { reg.Vendors = NewVendorsRepository(db, log) }},
		{"shipping addresses", func(db *database.PostgreSQL) { reg.ShippingAddresses = NewShippingAddressesRepository(db, log) }},
		{"roles", func(db *database.PostgreSQL) { reg.Roles = NewRolesRepository(db, log) }},
		{"users", func(db *database.PostgreSQL) { reg.Users = NewUsersRepository(db, log) }},
		{"software versions", func(db *database.PostgreSQL) { reg.Software = NewSoftwareRepository(db, log) }},
	}

	for _, r := range repos {
		db, err := pool()
		if err != nil {
			reg.Close()
			return nil, fmt.Errorf("failed to connect %s repository: %w", r.name, err)
		}
		r.init(db)
	}

	if err := reg.ensureSchemas(ctx); err != nil {
		reg.Close()
		return nil, err
	}
	return reg, nil
}

// ensureSchemas creates tables in dependency order: roles before users,
// components before coatings.
func (r *Registry) ensureSchemas(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"jobs", r.Jobs.EnsureSchema},
		{"workorders", r.Workorders.EnsureSchema},
		{"purchase_orders", r.PurchaseOrders.EnsureSchema},
		{"sheets", r.Sheets.EnsureSchema},
		{"components", r.Components.EnsureSchema},
		{"laser_cut_parts", r.LaserCutParts.EnsureSchema},
		{"coatings", r.Coatings.EnsureSchema},
		{"vendors", r.Vendors.EnsureSchema},
		{"shipping_addresses", r.ShippingAddresses.EnsureSchema},
		{"roles", r.Roles.EnsureSchema},
		{"users", r.Users.EnsureSchema},
		{"software_versions", r.Software.EnsureSchema},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("failed to initialise %s schema: %w", step.name, err)
		}
	}
	return nil
}

// All returns every connected repository base for generic wiring (health,
// caches). Repositories that never connected are skipped.
func (r *Registry) All() []*Base {
	var out []*Base
	if r.Jobs != nil {
		out = append(out, &r.Jobs.Base)
	}
	if r.Workorders != nil {
		out = append(out, &r.Workorders.Base)
	}
	if r.PurchaseOrders != nil {
		out = append(out, &r.PurchaseOrders.Base)
	}
	if r.Sheets != nil {
		out = append(out, &r.Sheets.Base)
	}
	if r.Components != nil {
		out = append(out, &r.Components.Base)
	}
	if r.LaserCutParts != nil {
		out = append(out, &r.LaserCutParts.Base)
	}
	if r.Coatings != nil {
		out = append(out, &r.Coatings.Base)
	}
	if r.Vendors != nil {
		out = append(out, &r.Vendors.Base)
	}
	if r.ShippingAddresses != nil {
		out = append(out, &r.ShippingAddresses.Base)
	}
	if r.Roles != nil {
		out = append(out, &r.Roles.Base)
	}
	if r.Users != nil {
		out = append(out, &r.Users.Base)
	}
	if r.Software != nil {
		out = append(out, &r.Software.Base)
	}
	return out
}

// RegisterHealthChecks registers a ping check per repository.
func (r *Registry) RegisterHealthChecks(checker *health.Checker) {
	for _, base := range r.All() {
		b := base
		checker.Register(b.Name(), func() error {
			ctx, cancel := context.WithTimeout(context.Background(), b.db.CommandTimeout())
			defer cancel()
			return b.Ping(ctx)
		})
	}
}

// StartCaches launches every repository's cache refresh worker.
func (r *Registry) StartCaches() {
	for _, base := range r.All() {
		base.Cache().Start()
	}
}

// StopCaches stops the refresh workers.
func (r *Registry) StopCaches() {
	for _, base := range r.All() {
		base.Cache().Stop()
	}
}

// WarmUp drains every repository's refresh queue into its cache. Failures
// are logged per repository; a cold cache is not an error.
func (r *Registry) WarmUp(ctx context.Context) error {
	for _, base := range r.All() {
		if err := base.WarmUp(ctx); err != nil {
			r.logger.Warnf("Cache warm-up for %s failed: %v", base.Table(), err)
		}
	}
	return nil
}

// Close closes every repository pool.
func (r *Registry) Close() {
	for _, base := range r.All() {
		base.Close()
	}
}
