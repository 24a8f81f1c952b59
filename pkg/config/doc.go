// Package config loads service configuration from the environment.
//
// It wraps github.com/joho/godotenv, which reads optional .env files, and
// github.com/caarlos0/env/v11, which maps variables onto struct fields via
// `env`, `envDefault` and `envSeparator` tags.
//
// # Usage
//
//	var (
//	    queueCfg mailqueue.Config
//	    emailCfg email.Config
//	)
//	if err := config.LoadAll(&queueCfg, &emailCfg); err != nil {
//	    log.Fatal(err)
//	}
//
// Load and MustLoad handle a single struct. LoadEnv reads explicit files, for
// example a per-environment override, before any of them run.
package config
