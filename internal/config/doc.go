// Package config loads modjob settings from environment variables.
//
// Defaults run a single instance on the in-memory event bus and archive.
// Setting MODJOB_EVENT_BUS or MODJOB_ARCHIVE to "redis" adds the redis
// module and the REDIS_* settings.
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if cfg.UsesRedis() {
//	    // connect to cfg.Redis.Addr
//	}
package config
