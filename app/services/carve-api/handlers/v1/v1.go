// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"
	"time"

	"github.com/carvexyz/carve/app/services/carve-api/handlers/v1/admingrp"
	"github.com/carvexyz/carve/app/services/carve-api/handlers/v1/carvegrp"
	"github.com/carvexyz/carve/app/services/carve-api/handlers/v1/paygrp"
	"github.com/carvexyz/carve/business/core/carving"
	"github.com/carvexyz/carve/business/core/order"
	"github.com/carvexyz/carve/business/sys/params"
	"github.com/carvexyz/carve/business/web/mid"
	"github.com/carvexyz/carve/foundation/events"
	"github.com/carvexyz/carve/foundation/web"
	"go.uber.org/zap"
)

const version = "v1"

// lookupWindow is the period the lookup rate limit applies to.
const lookupWindow = time.Minute

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log            *zap.SugaredLogger
	Carving        *carving.Core
	Pipeline       *order.Pipeline
	Syncer         admingrp.Syncer
	Orders         admingrp.Orders
	Params         *params.Provider
	Limiter        mid.Limiter
	TrustedProxies int
	Evts           *events.Events
}

// Routes binds all the version 1 routes.
func Routes(app *web.App, cfg Config) {
	cgh := carvegrp.Handlers{
		Log:     cfg.Log,
		Carving: cfg.Carving,
		Evts:    cfg.Evts,
	}

	limit := func() int { return cfg.Params.Current().LookupRateLimit }
	rateLimit := mid.RateLimit(cfg.Log, cfg.Limiter, limit, lookupWindow, cfg.TrustedProxies)

	app.Handle(http.MethodGet, version, "/carvings/:id", cgh.QueryByID)
	app.Handle(http.MethodPost, version, "/carvings/lookup", cgh.Lookup, rateLimit)
	app.Handle(http.MethodGet, version, "/peruse", cgh.Peruse)
	app.Handle(http.MethodGet, version, "/events", cgh.Events)

	pgh := paygrp.Handlers{
		Log:      cfg.Log,
		Pipeline: cfg.Pipeline,
	}

	app.Handle(http.MethodPost, version, "/payments/events", pgh.Events)

	agh := admingrp.Handlers{
		Log:     cfg.Log,
		Carving: cfg.Carving,
		Syncer:  cfg.Syncer,
		Orders:  cfg.Orders,
	}

	adminKey := mid.AdminKey(func() string { return cfg.Params.Current().AdminKey })

	app.Handle(http.MethodPost, version, "/admin/carvings/:id/scratch", agh.Scratch, adminKey)
	app.Handle(http.MethodPost, version, "/admin/sync", agh.Sync, adminKey)
	app.Handle(http.MethodGet, version, "/admin/orders/flagged", agh.Flagged, adminKey)
}
