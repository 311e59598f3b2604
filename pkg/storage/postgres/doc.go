// Package postgres owns the tenancy service's connections: the primary and
// replica PostgreSQL pools, the shared redis client and the schema
// migrations.
//
//	cm, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
//		PrimaryURL:  cfg.Database.URL,
//		ReplicaURLs: cfg.Database.ReplicaURLs,
//		MaxConns:    25,
//	}, logger)
//	if err := postgres.RunMigrations(ctx, cm.Primary(), logger); err != nil { ... }
package postgres
