// Package security holds the TLS settings of the HTTP API.
//
//	server:
//	  tls:
//	    cert_file: /etc/runflow/tls/cert.pem
//	    key_file: /etc/runflow/tls/key.pem
//	    client_ca_file: /etc/runflow/tls/ca.pem  # optional, enables mTLS
//
// The same struct builds the client side for callers and tests.
package security
