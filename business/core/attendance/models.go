package attendance

import (
	"fmt"
	"time"
)

// Entry is one student line of a class attendance sheet.
type Entry struct {
	SequenceNumber int
	Present        bool
}

// StudentID derives the identity recorded on the ledger for a student.
func StudentID(course string, className string, number int) string {
	return fmt.Sprintf("%s-%s-%02d", course, className, number)
}

// Outcome is the result of submitting a single entry. Err is empty when the
// entry was recorded on the ledger.
type Outcome struct {
	StudentID       string
	TransactionHash string
	BlockchainID    uint64
	BlockNumber     uint64
	BlockHash       string
	Nonce           uint64
	Err             string
}

// Success reports whether the entry was recorded on the ledger.
func (o Outcome) Success() bool {
	return o.Err == ""
}

// BatchResult is the aggregate result of submitting a sheet. The length of
// Successful plus the length of Failed is always Total.
type BatchResult struct {
	Course     string
	Class      string
	Total      int
	Successful []Outcome
	Failed     []Outcome
	Timestamp  time.Time
}

// FirstBlockNumber returns the block number of the first recorded entry.
func (br BatchResult) FirstBlockNumber() (uint64, bool) {
	if len(br.Successful) == 0 {
		return 0, false
	}
	return br.Successful[0].BlockNumber, true
}

// Record is an attendance fact mirrored into the audit store.
type Record struct {
	ID                  int64
	BlockchainID        uint64
	StudentName         string
	Subject             string
	TeacherAddress      string
	IsPresent           bool
	BlockchainTimestamp time.Time
	TransactionHash     string
	BlockHash           string
	Nonce               uint64
	DateCreated         time.Time
}

// QueryFilter holds the available fields a query can be filtered on.
// Student and subject match on substrings.
type QueryFilter struct {
	TeacherAddress *string
	StudentName    *string
	Subject        *string
}

// LedgerRecord is an attendance fact read back from the ledger.
type LedgerRecord struct {
	ID        uint64
	Timestamp time.Time
	Student   string
	Subject   string
	Present   bool
}
