// Package config loads and validates Mortal Core configuration.
//
// Values are layered: hardcoded defaults, then the YAML file, then
// MORTAL_* environment variables. The JWT secret has no default and must be
// supplied, normally through MORTAL_JWT_SECRET or a .env file loaded by main.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.API.Port)
package config
