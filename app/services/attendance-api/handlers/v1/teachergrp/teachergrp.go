// Package teachergrp maintains the group of handlers for teacher access.
package teachergrp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ardanlabs/attendance/business/core/teacher"
	"github.com/ardanlabs/attendance/business/web/errs"
	"github.com/ardanlabs/attendance/foundation/validate"
	"github.com/ardanlabs/attendance/foundation/web"
)

// Handlers manages the set of teacher endpoints.
type Handlers struct {
	Teacher *teacher.Core
}

// Add registers a teacher on the ledger.
func (h Handlers) Add(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var nt teacher.NewTeacher
	if err := web.Decode(r, &nt); err != nil {
		if validate.IsFieldErrors(err) {
			return err
		}
		return errs.NewTrustedMessage(err, http.StatusBadRequest, "Teacher address and name are required")
	}

	res, err := h.Teacher.Add(ctx, nt)
	if err != nil {
		return fmt.Errorf("add: teacher[%s]: %w", nt.Address, err)
	}

	resp := struct {
		Success bool              `json:"success"`
		Message string            `json:"message"`
		Data    teacher.AddResult `json:"data"`
	}{
		Success: true,
		Message: "Teacher added successfully",
		Data:    res,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Verify reports what the ledger knows about a teacher.
func (h Handlers) Verify(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address := web.Param(r, "address")

	st, err := h.Teacher.Verify(ctx, address)
	if err != nil {
		return fmt.Errorf("verify: teacher[%s]: %w", address, err)
	}

	resp := struct {
		Success bool           `json:"success"`
		Data    teacher.Status `json:"data"`
	}{
		Success: true,
		Data:    st,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}
