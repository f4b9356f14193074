package main

import (
	"net/http"

	"github.com/imrishuroy/go-product-relay/internal/aws"
	"github.com/imrishuroy/go-product-relay/internal/reconcile"
	"github.com/imrishuroy/go-product-relay/internal/relay"
	"github.com/imrishuroy/go-product-relay/internal/syncstore"
)

// app is the assembled relay process.
type app struct {
	relay    *relay.Relay
	trigger  *reconcile.Trigger // nil when the daily sweep is disabled
	consumer *aws.Consumer      // nil when deliveries arrive over HTTP
	server   *http.Server
	store    syncstore.Store
}
