// Package logger provides component-scoped structured logging for mirrorresolve.
//
// Entries carry a level (TRACE, DEBUG, INFO, WARN, ERROR), a component and a field map,
// and are written as text, JSON or colored text. Each component is switched on or off
// separately, so a noisy unpacker trace does not drown out the orchestrator.
//
//	log := logger.WithComponent(logger.ComponentProvider)
//	log.Debug("embed page fetched", map[string]interface{}{
//		"url":   embedURL,
//		"bytes": len(body),
//	})
//
//	config := logger.DefaultConfig()
//	config.Level = logger.DEBUG
//	config.Components[logger.ComponentUnpack] = true
//	logger.SetGlobalLogger(logger.New(config))
//
// Components:
//   - ComponentApp: CLI and facade
//   - ComponentClient: HTTP transport
//   - ComponentUnpack: packed-script unpacker
//   - ComponentCipher: envelope codec and key reconstruction
//   - ComponentProvider: per-provider resolvers
//   - ComponentOrchestrator: mirror selection, retries and fallbacks
package logger
