// Package attendance provides the core business API for submitting class
// attendance to the ledger and reading it back.
package attendance

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ardanlabs/attendance/business/core/teacher"
	"github.com/ardanlabs/attendance/business/sys/metrics"
	"github.com/ardanlabs/attendance/foundation/ledger"
	"github.com/ardanlabs/attendance/foundation/stamp"
	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Set of error variables for the attendance core.
var (
	ErrUnauthorized = errors.New("teacher not authorized")
	ErrNotFound     = errors.New("attendance record not found")
)

// Set of defaults for submitting a sheet.
const (
	DefaultSubBatchSize = 5
	DefaultPause        = time.Second
	DefaultDifficulty   = 4
)

// Set of bounds for paging through the audit store.
const (
	MaxRowsPerPage = 100
	MaxPageNumber  = 1_000_000
)

// EventHandler defines a function that is called when events
// occur while a sheet is being submitted.
type EventHandler func(v string, args ...any)

// Ledger is the set of contract calls this package needs.
type Ledger interface {
	Invoke(ctx context.Context, call ledger.Call) (ledger.Receipt, error)
	Query(ctx context.Context, call ledger.Call) (map[string]any, error)
}

// Verifier checks the authority of a teacher.
type Verifier interface {
	Verify(ctx context.Context, address string) (teacher.Status, error)
}

// Storer interface declares the behavior this package needs to mirror
// attendance into the audit store.
type Storer interface {
	Create(ctx context.Context, rec Record) error
	Query(ctx context.Context, filter QueryFilter, pageNumber int, rowsPerPage int) ([]Record, error)
	Count(ctx context.Context, filter QueryFilter) (int, error)
}

// Config represents the collaborators and settings for the core.
type Config struct {
	Log          *zap.SugaredLogger
	Ledger       Ledger
	Verifier     Verifier
	Storer       Storer
	Difficulty   int
	SubBatchSize int
	Pause        time.Duration
	EvHandler    EventHandler
}

// Core manages the set of APIs for attendance access.
type Core struct {
	log          *zap.SugaredLogger
	ledger       Ledger
	verifier     Verifier
	storer       Storer
	difficulty   int
	subBatchSize int
	pause        time.Duration
	ev           EventHandler
}

// NewCore constructs a core for attendance api access.
func NewCore(cfg Config) *Core {
	if cfg.Difficulty == 0 {
		cfg.Difficulty = DefaultDifficulty
	}
	if cfg.SubBatchSize <= 0 {
		cfg.SubBatchSize = DefaultSubBatchSize
	}
	if cfg.Pause < 0 {
		cfg.Pause = 0
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	return &Core{
		log:          cfg.Log,
		ledger:       cfg.Ledger,
		verifier:     cfg.Verifier,
		storer:       cfg.Storer,
		difficulty:   cfg.Difficulty,
		subBatchSize: cfg.SubBatchSize,
		pause:        cfg.Pause,
		ev:           ev,
	}
}

// SubmitBatch records the attendance sheet for a class on the ledger. The
// teacher must be active or nothing is processed. Entries are submitted in
// sub-batches: the entries of a sub-batch run concurrently and the next
// sub-batch starts after a pause. A failing entry never stops its siblings.
// Once the sheet is being processed, cancelling ctx has no effect.
func (c *Core) SubmitBatch(ctx context.Context, teacherAddress string, course string, className string, entries []Entry) (BatchResult, error) {
	st, err := c.verifier.Verify(ctx, teacherAddress)
	if err != nil {
		return BatchResult{}, fmt.Errorf("verify teacher: %w", err)
	}

	if !st.Exists || !st.IsActive {
		return BatchResult{}, fmt.Errorf("%w: %s", ErrUnauthorized, teacherAddress)
	}

	ctx = context.WithoutCancel(ctx)

	// Stored and stamped in checksummed form so audit lookups match.
	teacherAddress = common.HexToAddress(teacherAddress).Hex()

	br := BatchResult{
		Course:     course,
		Class:      className,
		Total:      len(entries),
		Successful: []Outcome{},
		Failed:     []Outcome{},
	}

	subBatches := lo.Chunk(entries, c.subBatchSize)

	for i, sb := range subBatches {
		c.ev("attendance: SubmitBatch: sub-batch[%d/%d]: started: entries[%d]", i+1, len(subBatches), len(sb))

		for _, o := range c.submitSubBatch(ctx, teacherAddress, course, className, sb) {
			metrics.RecordSubmission(o.Success())

			if o.Success() {
				br.Successful = append(br.Successful, o)
				continue
			}
			br.Failed = append(br.Failed, o)
		}

		c.ev("attendance: SubmitBatch: sub-batch[%d/%d]: completed: successful[%d]: failed[%d]", i+1, len(subBatches), len(br.Successful), len(br.Failed))

		if i < len(subBatches)-1 && c.pause > 0 {
			time.Sleep(c.pause)
		}
	}

	br.Timestamp = time.Now().UTC()

	return br, nil
}

// submitSubBatch submits the entries concurrently and returns the outcomes
// in the order the entries finished.
func (c *Core) submitSubBatch(ctx context.Context, teacherAddress string, course string, className string, entries []Entry) []Outcome {
	ch := make(chan Outcome, len(entries))

	var g errgroup.Group
	g.SetLimit(c.subBatchSize)

	for _, e := range entries {
		e := e
		g.Go(func() error {
			ch <- c.submit(ctx, teacherAddress, course, className, e)
			return nil
		})
	}

	g.Wait()
	close(ch)

	outcomes := make([]Outcome, 0, len(entries))
	for o := range ch {
		outcomes = append(outcomes, o)
	}

	return outcomes
}

// submit stamps a single entry, writes it to the ledger and mirrors the
// result into the audit store.
func (c *Core) submit(ctx context.Context, teacherAddress string, course string, className string, e Entry) Outcome {
	studentID := StudentID(course, className, e.SequenceNumber)
	now := time.Now()

	payload := stamp.Payload{
		TeacherAddress: teacherAddress,
		StudentName:    studentID,
		Subject:        course,
		IsPresent:      e.Present,
		Timestamp:      now.Unix(),
	}

	blk, stats, err := stamp.Stamp(stamp.NewBlock(payload, now), c.difficulty, stamp.EventHandler(c.ev))
	if err != nil {
		c.log.Errorw("submit attendance", "status", "stamping", "studentid", studentID, "ERROR", err)
		return Outcome{StudentID: studentID, Err: fmt.Sprintf("stamping: %s", err)}
	}
	metrics.RecordStamp(stats.Attempts)

	call := ledger.Call{
		From:   common.HexToAddress(teacherAddress),
		Method: "markAttendance",
		Args:   []any{studentID, course, e.Present},
		Memo:   memo(blk),
	}

	rcpt, err := c.ledger.Invoke(ctx, call)
	if err != nil {
		c.log.Errorw("submit attendance", "status", "ledger write", "studentid", studentID, "ERROR", err)
		return Outcome{StudentID: studentID, Err: err.Error()}
	}

	id, err := recordID(rcpt)
	if err != nil {
		c.log.Errorw("submit attendance", "status", "reading receipt", "studentid", studentID, "txhash", rcpt.TxHash, "ERROR", err)
		return Outcome{StudentID: studentID, Err: err.Error()}
	}

	o := Outcome{
		StudentID:       studentID,
		TransactionHash: rcpt.TxHash,
		BlockchainID:    id,
		BlockNumber:     rcpt.BlockNumber,
		BlockHash:       blk.Digest,
		Nonce:           blk.Nonce,
	}

	if c.storer != nil {
		rec := Record{
			BlockchainID:        id,
			StudentName:         studentID,
			Subject:             course,
			TeacherAddress:      teacherAddress,
			IsPresent:           e.Present,
			BlockchainTimestamp: time.Unix(payload.Timestamp, 0).UTC(),
			TransactionHash:     rcpt.TxHash,
			BlockHash:           blk.Digest,
			Nonce:               blk.Nonce,
		}

		if err := c.storer.Create(ctx, rec); err != nil {
			metrics.RecordPersistFailure()
			c.log.Errorw("submit attendance", "status", "mirror to audit store", "studentid", studentID, "txhash", rcpt.TxHash, "ERROR", err)
		}
	}

	return o
}

// =============================================================================

// QueryRecords retrieves a page of the attendance mirrored in the audit store
// along with the number of records matching the filter. Paging values are
// clamped to [1, MaxPageNumber] and [1, MaxRowsPerPage].
func (c *Core) QueryRecords(ctx context.Context, filter QueryFilter, pageNumber int, rowsPerPage int) ([]Record, int, error) {
	if c.storer == nil {
		return nil, 0, errors.New("audit store not configured")
	}

	pageNumber = min(max(pageNumber, 1), MaxPageNumber)
	rowsPerPage = min(max(rowsPerPage, 1), MaxRowsPerPage)

	if filter.TeacherAddress != nil && common.IsHexAddress(*filter.TeacherAddress) {
		addr := common.HexToAddress(*filter.TeacherAddress).Hex()
		filter.TeacherAddress = &addr
	}

	recs, err := c.storer.Query(ctx, filter, pageNumber, rowsPerPage)
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}

	total, err := c.storer.Count(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	return recs, total, nil
}

// QueryByID reads an attendance record from the ledger on behalf of the
// teacher.
func (c *Core) QueryByID(ctx context.Context, id uint64, teacherAddress string) (LedgerRecord, error) {
	call := ledger.Call{
		From:   common.HexToAddress(teacherAddress),
		Method: "getAttendance",
		Args:   []any{new(big.Int).SetUint64(id)},
	}

	fields, err := c.ledger.Query(ctx, call)
	if err != nil {
		if ledger.IsRejected(err) {
			return LedgerRecord{}, fmt.Errorf("%w: id[%d]: %w", ErrNotFound, id, err)
		}
		return LedgerRecord{}, fmt.Errorf("query id[%d]: %w", id, err)
	}

	ts, _ := fields["timestamp"].(*big.Int)
	if ts == nil || ts.Sign() == 0 {
		return LedgerRecord{}, fmt.Errorf("%w: id[%d]", ErrNotFound, id)
	}

	student, _ := fields["student"].(string)
	subject, _ := fields["subject"].(string)
	present, _ := fields["present"].(bool)

	lr := LedgerRecord{
		ID:        id,
		Timestamp: time.Unix(ts.Int64(), 0).UTC(),
		Student:   student,
		Subject:   subject,
		Present:   present,
	}

	return lr, nil
}

// =============================================================================

// memo encodes the digest and nonce of the stamped block so they travel
// with the ledger write.
func memo(blk stamp.Block) []byte {
	m := common.FromHex(blk.Digest)
	return binary.BigEndian.AppendUint64(m, blk.Nonce)
}

// recordID returns the id the contract assigned to the attendance record.
func recordID(rcpt ledger.Receipt) (uint64, error) {
	ev, exists := rcpt.Event("AttendanceMarked")
	if !exists {
		return 0, fmt.Errorf("tx %s: no AttendanceMarked event in receipt", rcpt.TxHash)
	}

	id, ok := ev.Fields["id"].(*big.Int)
	if !ok || !id.IsUint64() {
		return 0, fmt.Errorf("tx %s: AttendanceMarked event has no usable id", rcpt.TxHash)
	}

	return id.Uint64(), nil
}
