// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"context"
	"net/http"

	"github.com/ardanlabs/attendance/app/services/attendance-api/handlers/v1/attendgrp"
	"github.com/ardanlabs/attendance/app/services/attendance-api/handlers/v1/ledgergrp"
	"github.com/ardanlabs/attendance/app/services/attendance-api/handlers/v1/teachergrp"
	"github.com/ardanlabs/attendance/business/core/attendance"
	"github.com/ardanlabs/attendance/business/core/teacher"
	"github.com/ardanlabs/attendance/foundation/events"
	"github.com/ardanlabs/attendance/foundation/ledger"
	"github.com/ardanlabs/attendance/foundation/web"
	"go.uber.org/zap"
)

const version = "v1"

// Ledger describes the network the service is bound to.
type Ledger interface {
	NetworkInfo(ctx context.Context) (ledger.NetworkInfo, error)
}

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log        *zap.SugaredLogger
	Attendance *attendance.Core
	Teacher    *teacher.Core
	Ledger     Ledger
	Evts       *events.Events
}

// Routes binds all the version 1 routes.
func Routes(app *web.App, cfg Config) {
	agh := attendgrp.Handlers{
		Attendance: cfg.Attendance,
	}

	app.Handle(http.MethodPost, version, "/attendance/mark-attendance", agh.MarkAttendance)
	app.Handle(http.MethodGet, version, "/attendance/records", agh.QueryRecords)
	app.Handle(http.MethodGet, version, "/attendance/record/:id", agh.QueryByID)

	tgh := teachergrp.Handlers{
		Teacher: cfg.Teacher,
	}

	app.Handle(http.MethodPost, version, "/attendance/add-teacher", tgh.Add)
	app.Handle(http.MethodGet, version, "/attendance/teachers/:address", tgh.Verify)

	lgh := ledgergrp.Handlers{
		Log:    cfg.Log,
		Ledger: cfg.Ledger,
		Evts:   cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/attendance/network-info", lgh.NetworkInfo)
	app.Handle(http.MethodGet, version, "/events", lgh.Events)
}
