package attendgrp

import (
	"fmt"
	"time"

	"github.com/ardanlabs/attendance/business/core/attendance"
)

// AppStudent is one line of the attendance sheet. A status of P marks the
// student present, anything else absent.
type AppStudent struct {
	Number int    `json:"number" validate:"gte=1"`
	Status string `json:"status"`
}

// AppSheet is the attendance sheet for a class.
type AppSheet struct {
	TeacherAddress string       `json:"teacherAddress" validate:"required"`
	Course         string       `json:"course" validate:"required"`
	Class          string       `json:"class" validate:"required"`
	Students       []AppStudent `json:"students" validate:"required,dive"`
}

func toCoreEntries(students []AppStudent) []attendance.Entry {
	entries := make([]attendance.Entry, len(students))
	for i, s := range students {
		entries[i] = attendance.Entry{
			SequenceNumber: s.Number,
			Present:        s.Status == "P",
		}
	}
	return entries
}

// =============================================================================

// AppSummary counts the outcomes of a sheet.
type AppSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// AppSuccess is a student recorded on the ledger.
type AppSuccess struct {
	StudentID       string `json:"studentId"`
	TransactionHash string `json:"transactionHash"`
}

// AppFailure is a student that could not be recorded.
type AppFailure struct {
	StudentID string `json:"studentId"`
	Error     string `json:"error"`
}

// AppResults holds the per student outcomes.
type AppResults struct {
	Successful []AppSuccess `json:"successful"`
	Failed     []AppFailure `json:"failed"`
}

// AppBatchResult is the response for a submitted sheet.
type AppBatchResult struct {
	Success   bool       `json:"success"`
	Timestamp string     `json:"timestamp"`
	Course    string     `json:"course"`
	Class     string     `json:"class"`
	Summary   AppSummary `json:"summary"`
	Message   string     `json:"message"`
	Results   AppResults `json:"results"`
}

func toAppBatchResult(br attendance.BatchResult) AppBatchResult {
	block := "N/A"
	if n, ok := br.FirstBlockNumber(); ok {
		block = fmt.Sprint(n)
	}

	res := AppResults{
		Successful: make([]AppSuccess, len(br.Successful)),
		Failed:     make([]AppFailure, len(br.Failed)),
	}
	for i, o := range br.Successful {
		res.Successful[i] = AppSuccess{StudentID: o.StudentID, TransactionHash: o.TransactionHash}
	}
	for i, o := range br.Failed {
		res.Failed[i] = AppFailure{StudentID: o.StudentID, Error: o.Err}
	}

	return AppBatchResult{
		Success:   true,
		Timestamp: br.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
		Course:    br.Course,
		Class:     br.Class,
		Summary: AppSummary{
			Total:      br.Total,
			Successful: len(br.Successful),
			Failed:     len(br.Failed),
		},
		Message: fmt.Sprintf("Block #%s has been added to the blockchain!", block),
		Results: res,
	}
}

// =============================================================================

// AppRecord is an attendance record from the audit store.
type AppRecord struct {
	ID                  int64  `json:"id"`
	BlockchainID        uint64 `json:"blockchainId"`
	StudentName         string `json:"studentName"`
	Subject             string `json:"subject"`
	TeacherAddress      string `json:"teacherAddress"`
	IsPresent           bool   `json:"isPresent"`
	BlockchainTimestamp string `json:"blockchainTimestamp"`
	TransactionHash     string `json:"transactionHash"`
	BlockHash           string `json:"blockHash"`
	Nonce               uint64 `json:"nonce"`
	DateCreated         string `json:"createdAt"`
}

func toAppRecords(recs []attendance.Record) []AppRecord {
	items := make([]AppRecord, len(recs))
	for i, r := range recs {
		items[i] = AppRecord{
			ID:                  r.ID,
			BlockchainID:        r.BlockchainID,
			StudentName:         r.StudentName,
			Subject:             r.Subject,
			TeacherAddress:      r.TeacherAddress,
			IsPresent:           r.IsPresent,
			BlockchainTimestamp: r.BlockchainTimestamp.Format(time.RFC3339),
			TransactionHash:     r.TransactionHash,
			BlockHash:           r.BlockHash,
			Nonce:               r.Nonce,
			DateCreated:         r.DateCreated.Format(time.RFC3339),
		}
	}
	return items
}

// AppPagination describes the page returned. Total counts every record
// matching the filter.
type AppPagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// AppLedgerRecord is an attendance record read from the ledger.
type AppLedgerRecord struct {
	Timestamp string `json:"timestamp"`
	Student   string `json:"student"`
	Subject   string `json:"subject"`
	Present   bool   `json:"present"`
}

func toAppLedgerRecord(lr attendance.LedgerRecord) AppLedgerRecord {
	return AppLedgerRecord{
		Timestamp: lr.Timestamp.Format("2006-01-02T15:04:05.000Z"),
		Student:   lr.Student,
		Subject:   lr.Subject,
		Present:   lr.Present,
	}
}
