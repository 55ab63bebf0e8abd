// Package httpapi exposes the gate over HTTP with a gorilla/mux router.
package httpapi
