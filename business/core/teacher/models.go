package teacher

import (
	"errors"
	"time"
)

// ErrInvalidAddress is returned when a value is not a ledger address.
var ErrInvalidAddress = errors.New("invalid teacher address")

// Status is what the ledger knows about a teacher.
type Status struct {
	Exists   bool   `json:"exists"`
	IsActive bool   `json:"isActive"`
	Name     string `json:"name,omitempty"`
}

// NewTeacher contains the information needed to register a teacher.
type NewTeacher struct {
	Address string `json:"teacherAddress" validate:"required,eth_addr"`
	Name    string `json:"teacherName" validate:"required"`
}

// AddResult is the outcome of registering a teacher.
type AddResult struct {
	TransactionHash string `json:"transactionHash"`
	TeacherAddress  string `json:"teacherAddress"`
	BlockNumber     uint64 `json:"blockNumber"`
}

// Teacher is the audit store mirror of a teacher.
type Teacher struct {
	Address     string
	Name        string
	IsActive    bool
	DateUpdated time.Time
}
