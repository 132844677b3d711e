// Package config provides centralized configuration management for the
// InvestPilot runtime, covering storage drivers, the approval queue, market
// data access, settlement networks and the monitoring loop. Configuration is
// loaded from a JSON file with sensible defaults applied for omitted fields.
package config
