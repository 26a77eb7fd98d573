// Package config loads environment-based configuration structs.
//
// Configuration is described with github.com/caarlos0/env struct tags and
// loaded with the generic Load function. A .env file is loaded once per
// process before the first parse, which keeps local development close to the
// production twelve-factor setup:
//
//	type AppConfig struct {
//		Addr string `env:"HTTP_ADDR" envDefault:":8080"`
//	}
//
//	var cfg AppConfig
//	if err := config.Load(&cfg); err != nil {
//		// handle error
//	}
package config
