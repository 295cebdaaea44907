// Package config loads typed configuration from the environment.
//
// Each package owns an env-tagged struct (httpserver.Config, mongo.Config,
// dispatcher.Config, ...) and the service composes them:
//
//	type Config struct {
//	    Env         string `env:"APP_ENV" envDefault:"development"`
//	    StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"`
//	    HTTP        httpserver.Config
//	}
//
//	var cfg Config
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//
// A .env file in the working directory is read once before the first parse;
// variables already set in the process environment win. Each configuration
// type is parsed once and cached for the lifetime of the process. Types that
// implement Validator are validated after parsing.
package config
