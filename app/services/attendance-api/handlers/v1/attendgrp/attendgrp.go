// Package attendgrp maintains the group of handlers for attendance access.
package attendgrp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ardanlabs/attendance/business/core/attendance"
	"github.com/ardanlabs/attendance/business/web/errs"
	"github.com/ardanlabs/attendance/foundation/validate"
	"github.com/ardanlabs/attendance/foundation/web"
)

// Handlers manages the set of attendance endpoints.
type Handlers struct {
	Attendance *attendance.Core
}

// MarkAttendance submits the attendance sheet of a class to the ledger.
func (h Handlers) MarkAttendance(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var app AppSheet
	if err := web.Decode(r, &app); err != nil {
		if validate.IsFieldErrors(err) {
			return err
		}
		return errs.NewTrustedMessage(err, http.StatusBadRequest, "Missing required fields")
	}

	br, err := h.Attendance.SubmitBatch(ctx, app.TeacherAddress, app.Course, app.Class, toCoreEntries(app.Students))
	if err != nil {
		if errors.Is(err, attendance.ErrUnauthorized) {
			return errs.NewTrustedMessage(err, http.StatusForbidden, "Teacher not authorized")
		}
		return fmt.Errorf("submit: teacher[%s]: %w", app.TeacherAddress, err)
	}

	return web.Respond(ctx, w, toAppBatchResult(br), http.StatusOK)
}

// QueryRecords returns a page of attendance records from the audit store.
func (h Handlers) QueryRecords(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	page, err := web.QueryInt(r, "page", 1)
	if err != nil {
		return err
	}

	limit, err := web.QueryInt(r, "limit", 10)
	if err != nil {
		return err
	}

	if page < 1 || page > attendance.MaxPageNumber {
		return validate.NewFieldsError("page", fmt.Errorf("must be between 1 and %d", attendance.MaxPageNumber))
	}
	if limit < 1 || limit > attendance.MaxRowsPerPage {
		return validate.NewFieldsError("limit", fmt.Errorf("must be between 1 and %d", attendance.MaxRowsPerPage))
	}

	var filter attendance.QueryFilter
	if v := r.URL.Query().Get("teacherAddress"); v != "" {
		filter.TeacherAddress = &v
	}
	if v := r.URL.Query().Get("studentName"); v != "" {
		filter.StudentName = &v
	}
	if v := r.URL.Query().Get("subject"); v != "" {
		filter.Subject = &v
	}

	recs, total, err := h.Attendance.QueryRecords(ctx, filter, page, limit)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	resp := struct {
		Success    bool          `json:"success"`
		Data       []AppRecord   `json:"data"`
		Pagination AppPagination `json:"pagination"`
	}{
		Success: true,
		Data:    toAppRecords(recs),
		Pagination: AppPagination{
			Page:  page,
			Limit: limit,
			Total: total,
		},
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// QueryByID reads an attendance record back from the ledger.
func (h Handlers) QueryByID(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id, err := strconv.ParseUint(web.Param(r, "id"), 10, 64)
	if err != nil {
		return validate.NewFieldsError("id", errors.New("must be a positive integer"))
	}

	teacherAddress := r.URL.Query().Get("teacherAddress")
	if teacherAddress == "" {
		return errs.NewTrustedMessage(errors.New("missing teacherAddress"), http.StatusBadRequest, "Teacher address is required")
	}
	if err := validate.CheckAddress("teacherAddress", teacherAddress); err != nil {
		return err
	}

	lr, err := h.Attendance.QueryByID(ctx, id, teacherAddress)
	if err != nil {
		if errors.Is(err, attendance.ErrNotFound) {
			return errs.NewTrustedMessage(err, http.StatusNotFound, "Attendance record not found")
		}
		return fmt.Errorf("query: id[%d]: %w", id, err)
	}

	resp := struct {
		Success bool            `json:"success"`
		Data    AppLedgerRecord `json:"data"`
	}{
		Success: true,
		Data:    toAppLedgerRecord(lr),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}
