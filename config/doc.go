// Package config loads the beamletd configuration.
//
// A Loader starts from Default, decodes each file layer over the result in the order the
// layers were added, applies BEAMLET_* environment overrides and finally validates the
// merged Config. A layer only replaces the fields it names, so a site file can change the
// NATS servers without repeating the buffer geometry.
//
// Layers may be YAML (.yaml, .yml) or JSON (.json). Both accept durations as strings such
// as "100ms". Unknown fields are rejected so that a misspelt key does not silently fall
// back to its default.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/beamletd.yaml")
//	loader.AddLayer("configs/site.json") // overrides the base file
//
//	cfg, err := loader.Load()
//	if err != nil {
//	    return err
//	}
//
// # Environment Overrides
//
//	BEAMLET_NATS_URLS                 comma-separated server list
//	BEAMLET_NATS_USERNAME             NATS user
//	BEAMLET_NATS_PASSWORD             NATS password
//	BEAMLET_NATS_TOKEN                NATS token
//	BEAMLET_INPUT_BIND                UDP bind address
//	BEAMLET_INPUT_PORT                UDP port
//	BEAMLET_BUFFER_SYNCHRONOUS        true for synchronous flow control
//	BEAMLET_BUFFER_MAX_NETWORK_DELAY  writer wait bound, e.g. "200ms"
//	BEAMLET_OUTPUT_SUBJECT            subject prefix of published windows
//	BEAMLET_WEBSOCKET_ENABLED         serve the live websocket feed
//	BEAMLET_WEBSOCKET_PORT            websocket feed port
//	BEAMLET_METRICS_ENABLED           serve Prometheus metrics
//	BEAMLET_METRICS_PORT              metrics port
//	BEAMLET_LOG_LEVEL                 debug, info, warn or error
//	BEAMLET_LOG_FORMAT                json or text
//
// # TLS
//
// nats.tls trusts extra CAs on top of the system pool and may present a client
// certificate. websocket.tls serves the feed as wss:// and can require client
// certificates signed by client_ca_files, optionally restricted to allowed_client_cns.
//
//	nats:
//	  urls: ["tls://cep2:4222"]
//	  tls:
//	    ca_files: [/etc/beamletd/ca.pem]
//	    cert_file: /etc/beamletd/station.pem
//	    key_file: /etc/beamletd/station-key.pem
//
// # Security
//
// Config paths must stay inside the working directory unless absolute, may not exceed
// 10MB and must carry a config extension. Config.String redacts the NATS password and
// token, and SaveToFile writes with mode 0600.
package config
