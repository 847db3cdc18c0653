// Package config loads rampart's configuration from RAMPART_*
// environment variables.
//
// Every setting has a default, so an empty environment yields a working
// single-node server backed by SQLite in ./rampart.db. Point
// RAMPART_DATABASE_URL at Postgres and set RAMPART_REDIS_URL to share
// container caches and rate limits across replicas.
//
//	cfg, err := config.LoadConfig()
//	db, err := database.Open(ctx, cfg.DatabaseOptions())
//	manager, err := rbac.NewManager(rbac.Deps{DB: db}, cfg.EngineConfig())
package config
