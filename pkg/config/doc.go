// Package config provides configuration types and loading for mockstage.
//
// This package defines:
//   - ServerConfig: per-protocol listener settings (port, thread bounds,
//     timeout, TLS, auto start/refresh and native properties)
//   - CertConfig: where the certificate authority keeps its keystores
//   - EngineFile: the YAML or JSON file the CLI serves from, holding a
//     certificate section, a servers list and a definitions list
//
// File-based Configuration:
//
// LoadFromFile reads an engine file. The format is chosen by extension:
// .yaml and .yml are YAML, anything else is JSON.
//
//	certificates:
//	  dir: ./certs
//	  name: mockstage
//	servers:
//	  - protocol: http
//	    port: 8001
//	    autoStart: true
//	    nativeProperties:
//	      ENABLE_CORS: "true"
//	definitions:
//	  - protocol: http
//	    method: GET
//	    path: /status
//	    type: single
//	    response:
//	      status: 200
//	      body: '{"ok":true}'
package config
