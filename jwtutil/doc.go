// Package jwtutil holds client helpers for services that consume tokens
// issued by a jwt mount: a signing key lookup for verifiers, a JWKS
// validator and an oauth2 token source for callers.
package jwtutil
