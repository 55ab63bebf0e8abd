// Package jwt issues and decodes the HMAC-signed access and refresh tokens
// used by the gate. Decoding is a pure local operation: algorithm and
// signature are checked before the validity window, and every token carries
// a kind claim so a refresh token can never stand in for an access token.
package jwt
