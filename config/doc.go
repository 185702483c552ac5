// Package config loads service configuration with Viper.
//
// Values come from a YAML file, an optional .env file and the process
// environment, in increasing order of precedence. Environment variables may
// carry the RUNFLOW_ prefix and use underscores for nesting, so
// RUNFLOW_STORE_DRIVER sets store.driver.
//
//	var cfg app.Config
//	err := config.LoadConfig("runflow", &cfg, config.WithConfigFile(path))
package config
