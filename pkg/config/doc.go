// Package config provides configuration management for connection pools.
//
// # Key Features
//
// - PoolConfig: single configuration structure shared by the pool, the creator
// middleware and the CLI
// - Structured sections: Connect, Driver, Logging, Observability
// - Environment variable substitution with ${VAR_NAME} syntax in YAML files
// - Viper loading of YAML, JSON or TOML with DBPOOL_* environment overrides
// - Automatic defaults and validation
//
// # Usage
//
// ## Loading a YAML file
//
//	cfg, err := config.Load("pool.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// ## Environment Variable Substitution
//
//	# pool.yaml
//	name: orders
//	size: 10
//	driver:
//	  name: pgx
//	  dsn: postgres://${DB_USER}:${DB_PASSWORD}@db:5432/orders
//
// ## Programmatic creation
//
//	cfg := config.NewPoolConfig("orders")
//	cfg.UseLIFO = true
//	cfg.Recycle = 30 * time.Minute
//
// # Limits
//
// Size must be >= 0, Timeout must be >= 0, a negative MaxOverflow lifts the
// checkout limit, and UseFIFO/UseLIFO are mutually exclusive.
package config
