// Package openapi embeds the OpenAPI description of the globe query API.
package openapi

import _ "embed"

// GlobeAPISpec is the OpenAPI 3 document served at /api/v1/openapi.json.
//
//go:embed globe-api.json
var GlobeAPISpec []byte

// Spec returns a copy of the embedded document.
func Spec() []byte {
	return append([]byte(nil), GlobeAPISpec...)
}
