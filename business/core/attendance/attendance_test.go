package attendance_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ardanlabs/attendance/business/core/attendance"
	"github.com/ardanlabs/attendance/business/core/teacher"
	"github.com/ardanlabs/attendance/foundation/ledger"
	"github.com/ardanlabs/attendance/foundation/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const teacherA1 = "0x00000000000000000000000000000000000000A1"

// fakeVerifier reports the same status for every teacher.
type fakeVerifier struct {
	status teacher.Status
	err    error
	calls  int
}

func (f *fakeVerifier) Verify(ctx context.Context, address string) (teacher.Status, error) {
	f.calls++
	return f.status, f.err
}

// fakeLedger records markAttendance writes and fails the students listed
// in fail.
type fakeLedger struct {
	mu       sync.Mutex
	fail     map[string]bool
	calls    []ledger.Call
	inFlight int
	maxIn    int
	nextID   int64
	records  map[uint64]map[string]any
}

func newFakeLedger(fail ...string) *fakeLedger {
	f := fakeLedger{
		fail:    make(map[string]bool),
		records: make(map[uint64]map[string]any),
	}
	for _, s := range fail {
		f.fail[s] = true
	}
	return &f
}

func (f *fakeLedger) Invoke(ctx context.Context, call ledger.Call) (ledger.Receipt, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.inFlight++
	if f.inFlight > f.maxIn {
		f.maxIn = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--

	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, &ledger.Error{Kind: ledger.KindTransport, Method: call.Method, Err: err}
	}

	student := call.Args[0].(string)
	if f.fail[student] {
		return ledger.Receipt{}, &ledger.Error{Kind: ledger.KindRejected, Method: call.Method, Err: errors.New("execution reverted: Not an active teacher")}
	}

	f.nextID++
	rcpt := ledger.Receipt{
		TxHash:      fmt.Sprintf("0x%064x", f.nextID),
		BlockNumber: uint64(100 + f.nextID),
		Events: []ledger.Event{
			{Name: "AttendanceMarked", Fields: map[string]any{"id": big.NewInt(f.nextID)}},
		},
	}

	return rcpt, nil
}

func (f *fakeLedger) Query(ctx context.Context, call ledger.Call) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := call.Args[0].(*big.Int).Uint64()
	fields, exists := f.records[id]
	if !exists {
		return map[string]any{"timestamp": big.NewInt(0), "student": "", "subject": "", "present": false}, nil
	}
	return fields, nil
}

func (f *fakeLedger) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeStore records the rows mirrored into the audit store and the paging
// values of the last query.
type fakeStore struct {
	mu     sync.Mutex
	rows   []attendance.Record
	err    error
	filter attendance.QueryFilter
	page   int
	limit  int
}

func (f *fakeStore) Create(ctx context.Context, rec attendance.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, rec)
	return nil
}

func (f *fakeStore) Query(ctx context.Context, filter attendance.QueryFilter, pageNumber int, rowsPerPage int) ([]attendance.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.filter = filter
	f.page = pageNumber
	f.limit = rowsPerPage

	return f.rows[:min(len(f.rows), rowsPerPage)], nil
}

func (f *fakeStore) Count(ctx context.Context, filter attendance.QueryFilter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows), nil
}

func newCore(v attendance.Verifier, l attendance.Ledger, s attendance.Storer) *attendance.Core {
	return attendance.NewCore(attendance.Config{
		Log:        logger.NewTest(),
		Ledger:     l,
		Verifier:   v,
		Storer:     s,
		Difficulty: 1,
		Pause:      time.Millisecond,
	})
}

func activeTeacher() *fakeVerifier {
	return &fakeVerifier{status: teacher.Status{Exists: true, IsActive: true, Name: "Ada"}}
}

func sheet(n int) []attendance.Entry {
	entries := make([]attendance.Entry, n)
	for i := range entries {
		entries[i] = attendance.Entry{SequenceNumber: i + 1, Present: i%2 == 0}
	}
	return entries
}

func ids(outcomes []attendance.Outcome) []string {
	s := make([]string, len(outcomes))
	for i, o := range outcomes {
		s[i] = o.StudentID
	}
	sort.Strings(s)
	return s
}

// =============================================================================

func Test_SubmitScenario(t *testing.T) {
	t.Log("Given the need to submit a two student sheet for CS101 class X.")
	{
		fl := newFakeLedger()
		fs := &fakeStore{}
		core := newCore(activeTeacher(), fl, fs)

		entries := []attendance.Entry{
			{SequenceNumber: 1, Present: true},
			{SequenceNumber: 2, Present: false},
		}

		br, err := core.SubmitBatch(context.Background(), teacherA1, "CS101", "X", entries)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to submit the sheet: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to submit the sheet.", success)

		if br.Total != 2 || len(br.Successful) != 2 || len(br.Failed) != 0 {
			t.Fatalf("\t%s\tShould record both students: total[%d] successful[%d] failed[%d]", failed, br.Total, len(br.Successful), len(br.Failed))
		}
		t.Logf("\t%s\tShould record both students.", success)

		present := make(map[string]bool)
		for _, call := range fl.calls {
			if call.Method != "markAttendance" {
				t.Fatalf("\t%s\tShould call markAttendance: %s", failed, call.Method)
			}
			if call.From != common.HexToAddress(teacherA1) {
				t.Fatalf("\t%s\tShould write on behalf of the teacher: %s", failed, call.From)
			}
			if call.Args[1].(string) != "CS101" {
				t.Fatalf("\t%s\tShould use the course as the subject: %v", failed, call.Args[1])
			}
			present[call.Args[0].(string)] = call.Args[2].(bool)
		}

		if p, ok := present["CS101-X-01"]; !ok || !p {
			t.Fatalf("\t%s\tShould record CS101-X-01 as present: %v", failed, present)
		}
		if p, ok := present["CS101-X-02"]; !ok || p {
			t.Fatalf("\t%s\tShould record CS101-X-02 as absent: %v", failed, present)
		}
		t.Logf("\t%s\tShould derive the student ids and presence.", success)

		if len(fs.rows) != 2 {
			t.Fatalf("\t%s\tShould mirror both records: %d", failed, len(fs.rows))
		}
		t.Logf("\t%s\tShould mirror both records.", success)
	}
}

func Test_SubmitStampMemo(t *testing.T) {
	t.Log("Given the need to carry the stamp along with the ledger write.")
	{
		fl := newFakeLedger()
		fs := &fakeStore{}
		core := newCore(activeTeacher(), fl, fs)

		br, err := core.SubmitBatch(context.Background(), teacherA1, "CS101", "X", sheet(1))
		if err != nil {
			t.Fatalf("\t%s\tShould be able to submit the sheet: %v", failed, err)
		}

		o := br.Successful[0]
		if !strings.HasPrefix(o.BlockHash, "0") || len(o.BlockHash) != 64 {
			t.Fatalf("\t%s\tShould get back a stamped digest: %s", failed, o.BlockHash)
		}
		t.Logf("\t%s\tShould get back a stamped digest.", success)

		memo := fl.calls[0].Memo
		if len(memo) != 40 {
			t.Fatalf("\t%s\tShould attach digest and nonce as memo: %d bytes", failed, len(memo))
		}
		if common.Bytes2Hex(memo[:32]) != o.BlockHash || binary.BigEndian.Uint64(memo[32:]) != o.Nonce {
			t.Fatalf("\t%s\tShould attach the digest and nonce of the outcome.", failed)
		}
		t.Logf("\t%s\tShould attach digest and nonce as memo.", success)

		row := fs.rows[0]
		if row.BlockHash != o.BlockHash || row.Nonce != o.Nonce || row.TransactionHash != o.TransactionHash {
			t.Fatalf("\t%s\tShould mirror the stamp and transaction: %+v", failed, row)
		}
		if row.BlockchainID != o.BlockchainID || row.BlockchainID == 0 {
			t.Fatalf("\t%s\tShould mirror the ledger record id: %d", failed, row.BlockchainID)
		}
		if row.StudentName != "CS101-X-01" || row.Subject != "CS101" || row.TeacherAddress != common.HexToAddress(teacherA1).Hex() {
			t.Fatalf("\t%s\tShould mirror the student, subject and teacher: %+v", failed, row)
		}
		t.Logf("\t%s\tShould mirror the stamp, transaction and record id.", success)
	}
}

func Test_SubmitPartitions(t *testing.T) {
	t.Log("Given the need to submit a twelve student sheet in sub-batches.")
	{
		fl := newFakeLedger()
		core := newCore(activeTeacher(), fl, &fakeStore{})

		br, err := core.SubmitBatch(context.Background(), teacherA1, "CS101", "X", sheet(12))
		if err != nil {
			t.Fatalf("\t%s\tShould be able to submit the sheet: %v", failed, err)
		}

		if br.Total != 12 || len(br.Successful) != 12 {
			t.Fatalf("\t%s\tShould record all students: total[%d] successful[%d]", failed, br.Total, len(br.Successful))
		}
		t.Logf("\t%s\tShould record all students.", success)

		groups := [][]attendance.Outcome{br.Successful[:5], br.Successful[5:10], br.Successful[10:]}
		exp := [][]string{sheetIDs(1, 5), sheetIDs(6, 10), sheetIDs(11, 12)}

		for i := range groups {
			got := ids(groups[i])
			if strings.Join(got, ",") != strings.Join(exp[i], ",") {
				t.Logf("\t\tgot: %v", got)
				t.Logf("\t\texp: %v", exp[i])
				t.Fatalf("\t%s\tShould keep sub-batch %d together.", failed, i+1)
			}
		}
		t.Logf("\t%s\tShould keep the sub-batch boundaries in order.", success)

		if fl.maxIn > attendance.DefaultSubBatchSize {
			t.Fatalf("\t%s\tShould never have more than %d writes in flight: %d", failed, attendance.DefaultSubBatchSize, fl.maxIn)
		}
		t.Logf("\t%s\tShould never have more than %d writes in flight.", success, attendance.DefaultSubBatchSize)
	}
}

func Test_SubmitSparseSheet(t *testing.T) {
	t.Log("Given the need to submit a sheet with gaps, duplicates and no order.")
	{
		fl := newFakeLedger()
		core := newCore(activeTeacher(), fl, &fakeStore{})

		numbers := []int{7, 2, 30, 2, 11, 1}
		entries := make([]attendance.Entry, len(numbers))
		for i, n := range numbers {
			entries[i] = attendance.Entry{SequenceNumber: n, Present: true}
		}

		br, err := core.SubmitBatch(context.Background(), teacherA1, "CS101", "X", entries)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to submit the sheet: %v", failed, err)
		}

		if br.Total != len(numbers) || len(br.Successful)+len(br.Failed) != br.Total {
			t.Fatalf("\t%s\tShould account for every entry: total[%d] successful[%d] failed[%d]", failed, br.Total, len(br.Successful), len(br.Failed))
		}
		if fl.writes() != len(numbers) {
			t.Fatalf("\t%s\tShould write every entry including duplicates: %d", failed, fl.writes())
		}
		t.Logf("\t%s\tShould account for every entry.", success)

		exp := make([]string, len(numbers))
		for i, n := range numbers {
			exp[i] = attendance.StudentID("CS101", "X", n)
		}

		groups := [][]attendance.Outcome{br.Successful[:5], br.Successful[5:]}
		expGroups := [][]string{exp[:5], exp[5:]}

		for i := range groups {
			want := append([]string(nil), expGroups[i]...)
			sort.Strings(want)

			got := ids(groups[i])
			if strings.Join(got, ",") != strings.Join(want, ",") {
				t.Logf("\t\tgot: %v", got)
				t.Logf("\t\texp: %v", want)
				t.Fatalf("\t%s\tShould cut sub-batch %d by input position.", failed, i+1)
			}
		}
		t.Logf("\t%s\tShould cut the sub-batches by input position.", success)

		if exp[2] != "CS101-X-30" || exp[5] != "CS101-X-01" {
			t.Fatalf("\t%s\tShould derive the ids from the sequence numbers: %v", failed, exp)
		}
		t.Logf("\t%s\tShould derive the ids from the sequence numbers.", success)
	}
}

func Test_SubmitChecksumAddress(t *testing.T) {
	t.Log("Given the need to mirror the teacher address in one form.")
	{
		fl := newFakeLedger()
		fs := &fakeStore{}
		core := newCore(activeTeacher(), fl, fs)

		const typed = "0x5b1869d9a4c187f2eaa108f3062412ecf0526b24"
		const exp = "0x5b1869D9A4C187F2EAa108f3062412ecf0526b24"

		if _, err := core.SubmitBatch(context.Background(), typed, "CS101", "X", sheet(1)); err != nil {
			t.Fatalf("\t%s\tShould be able to submit the sheet: %v", failed, err)
		}

		if fs.rows[0].TeacherAddress != exp {
			t.Fatalf("\t%s\tShould mirror the checksummed address: %s", failed, fs.rows[0].TeacherAddress)
		}
		t.Logf("\t%s\tShould mirror the checksummed address.", success)

		filter := attendance.QueryFilter{TeacherAddress: lo.ToPtr(strings.ToUpper(typed[2:]))}
		if _, _, err := core.QueryRecords(context.Background(), filter, 1, 10); err != nil {
			t.Fatalf("\t%s\tShould be able to query the records: %v", failed, err)
		}

		if *fs.filter.TeacherAddress != exp {
			t.Fatalf("\t%s\tShould filter by the checksummed address: %s", failed, *fs.filter.TeacherAddress)
		}
		t.Logf("\t%s\tShould filter by the checksummed address.", success)
	}
}

func Test_QueryRecordsPaging(t *testing.T) {
	tt := []struct {
		page      int
		limit     int
		expPage   int
		expLimit  int
		expLength int
	}{
		{page: 1, limit: 10, expPage: 1, expLimit: 10, expLength: 10},
		{page: 0, limit: 0, expPage: 1, expLimit: 1, expLength: 1},
		{page: math.MaxInt, limit: math.MaxInt, expPage: attendance.MaxPageNumber, expLimit: attendance.MaxRowsPerPage, expLength: 100},
	}

	t.Log("Given the need to page through the audit store.")
	{
		fs := &fakeStore{rows: make([]attendance.Record, 150)}
		core := newCore(activeTeacher(), newFakeLedger(), fs)

		for testID, tst := range tt {
			recs, total, err := core.QueryRecords(context.Background(), attendance.QueryFilter{}, tst.page, tst.limit)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to query the records: %v", failed, testID, err)
			}

			if fs.page != tst.expPage || fs.limit != tst.expLimit {
				t.Fatalf("\t%s\tTest %d:\tShould clamp the paging values: page[%d] limit[%d]", failed, testID, fs.page, fs.limit)
			}
			t.Logf("\t%s\tTest %d:\tShould clamp the paging values.", success, testID)

			if len(recs) != tst.expLength || total != 150 {
				t.Fatalf("\t%s\tTest %d:\tShould report the page and the matching total: len[%d] total[%d]", failed, testID, len(recs), total)
			}
			t.Logf("\t%s\tTest %d:\tShould report the page and the matching total.", success, testID)
		}
	}
}

func sheetIDs(from, to int) []string {
	var s []string
	for i := from; i <= to; i++ {
		s = append(s, attendance.StudentID("CS101", "X", i))
	}
	sort.Strings(s)
	return s
}

func Test_SubmitEmpty(t *testing.T) {
	t.Log("Given the need to submit an empty sheet.")
	{
		fl := newFakeLedger()
		core := newCore(activeTeacher(), fl, &fakeStore{})

		br, err := core.SubmitBatch(context.Background(), teacherA1, "CS101", "X", nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to submit the sheet: %v", failed, err)
		}

		if br.Total != 0 || br.Successful == nil || br.Failed == nil || len(br.Successful)+len(br.Failed) != 0 {
			t.Fatalf("\t%s\tShould get back empty outcomes: %+v", failed, br)
		}
		t.Logf("\t%s\tShould get back empty outcomes.", success)

		if fl.writes() != 0 {
			t.Fatalf("\t%s\tShould not write to the ledger: %d", failed, fl.writes())
		}
		t.Logf("\t%s\tShould not write to the ledger.", success)
	}
}

func Test_SubmitUnauthorized(t *testing.T) {
	tt := []struct {
		name   string
		status teacher.Status
	}{
		{name: "missing", status: teacher.Status{}},
		{name: "inactive", status: teacher.Status{Exists: true, IsActive: false, Name: "Bob"}},
	}

	t.Log("Given the need to refuse sheets from teachers that can't record.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				fl := newFakeLedger()
				fs := &fakeStore{}
				core := newCore(&fakeVerifier{status: tst.status}, fl, fs)

				_, err := core.SubmitBatch(context.Background(), teacherA1, "CS101", "X", sheet(7))
				if !errors.Is(err, attendance.ErrUnauthorized) {
					t.Fatalf("\t%s\tTest %d:\tShould get back ErrUnauthorized: %v", failed, testID, err)
				}
				t.Logf("\t%s\tTest %d:\tShould get back ErrUnauthorized.", success, testID)

				if fl.writes() != 0 || len(fs.rows) != 0 {
					t.Fatalf("\t%s\tTest %d:\tShould have no side effects: ledger[%d] store[%d]", failed, testID, fl.writes(), len(fs.rows))
				}
				t.Logf("\t%s\tTest %d:\tShould have no side effects.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_SubmitVerifyFailure(t *testing.T) {
	t.Log("Given the need to report a ledger that can't verify the teacher.")
	{
		fl := newFakeLedger()
		v := &fakeVerifier{err: &ledger.Error{Kind: ledger.KindTransport, Method: "teachers", Err: errors.New("connection refused")}}
		core := newCore(v, fl, &fakeStore{})

		_, err := core.SubmitBatch(context.Background(), teacherA1, "CS101", "X", sheet(3))
		if err == nil || errors.Is(err, attendance.ErrUnauthorized) {
			t.Fatalf("\t%s\tShould get back the transport error: %v", failed, err)
		}
		t.Logf("\t%s\tShould get back the transport error.", success)

		if fl.writes() != 0 {
			t.Fatalf("\t%s\tShould not write to the ledger: %d", failed, fl.writes())
		}
		t.Logf("\t%s\tShould not write to the ledger.", success)
	}
}

func Test_SubmitPartialFailure(t *testing.T) {
	t.Log("Given the need to isolate a failing entry from its siblings.")
	{
		fl := newFakeLedger("CS101-X-03")
		fs := &fakeStore{}
		core := newCore(activeTeacher(), fl, fs)

		br, err := core.SubmitBatch(context.Background(), teacherA1, "CS101", "X", sheet(5))
		if err != nil {
			t.Fatalf("\t%s\tShould be able to submit the sheet: %v", failed, err)
		}

		if len(br.Successful) != 4 || len(br.Failed) != 1 || br.Total != 5 {
			t.Fatalf("\t%s\tShould get four successes and one failure: %d/%d", failed, len(br.Successful), len(br.Failed))
		}
		t.Logf("\t%s\tShould get four successes and one failure.", success)

		if br.Failed[0].StudentID != "CS101-X-03" || !strings.Contains(br.Failed[0].Err, "reverted") {
			t.Fatalf("\t%s\tShould report the failing student: %+v", failed, br.Failed[0])
		}
		t.Logf("\t%s\tShould report the failing student.", success)

		if len(fs.rows) != 4 {
			t.Fatalf("\t%s\tShould only mirror the successes: %d", failed, len(fs.rows))
		}
		t.Logf("\t%s\tShould only mirror the successes.", success)
	}
}

func Test_SubmitPersistFailure(t *testing.T) {
	t.Log("Given the need to keep ledger successes when the audit store fails.")
	{
		fl := newFakeLedger()
		fs := &fakeStore{err: errors.New("connection refused")}
		core := newCore(activeTeacher(), fl, fs)

		br, err := core.SubmitBatch(context.Background(), teacherA1, "CS101", "X", sheet(3))
		if err != nil {
			t.Fatalf("\t%s\tShould be able to submit the sheet: %v", failed, err)
		}

		if len(br.Successful) != 3 || len(br.Failed) != 0 {
			t.Fatalf("\t%s\tShould keep every outcome successful: %d/%d", failed, len(br.Successful), len(br.Failed))
		}
		t.Logf("\t%s\tShould keep every outcome successful.", success)
	}
}

func Test_SubmitIgnoresCancel(t *testing.T) {
	t.Log("Given the need to finish a sheet once it has started.")
	{
		fl := newFakeLedger()
		core := newCore(activeTeacher(), fl, &fakeStore{})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		br, err := core.SubmitBatch(ctx, teacherA1, "CS101", "X", sheet(6))
		if err != nil {
			t.Fatalf("\t%s\tShould be able to submit the sheet: %v", failed, err)
		}

		if len(br.Successful) != 6 {
			t.Fatalf("\t%s\tShould record every student: %d", failed, len(br.Successful))
		}
		t.Logf("\t%s\tShould record every student.", success)
	}
}

func Test_QueryByID(t *testing.T) {
	t.Log("Given the need to read attendance back from the ledger.")
	{
		fl := newFakeLedger()
		fl.records[42] = map[string]any{
			"timestamp": big.NewInt(1700000000),
			"student":   "CS101-X-01",
			"subject":   "CS101",
			"present":   true,
		}
		core := newCore(activeTeacher(), fl, &fakeStore{})

		lr, err := core.QueryByID(context.Background(), 42, teacherA1)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to read the record: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to read the record.", success)

		exp := attendance.LedgerRecord{ID: 42, Timestamp: time.Unix(1700000000, 0).UTC(), Student: "CS101-X-01", Subject: "CS101", Present: true}
		if lr != exp {
			t.Logf("\t\tgot: %+v", lr)
			t.Logf("\t\texp: %+v", exp)
			t.Fatalf("\t%s\tShould get back the record.", failed)
		}
		t.Logf("\t%s\tShould get back the record.", success)

		if _, err := core.QueryByID(context.Background(), 7, teacherA1); !errors.Is(err, attendance.ErrNotFound) {
			t.Fatalf("\t%s\tShould get back ErrNotFound for an unknown id: %v", failed, err)
		}
		t.Logf("\t%s\tShould get back ErrNotFound for an unknown id.", success)
	}
}

func Test_StudentID(t *testing.T) {
	tt := map[int]string{1: "CS101-X-01", 9: "CS101-X-09", 10: "CS101-X-10", 123: "CS101-X-123"}

	t.Log("Given the need to derive student ids.")
	{
		for n, exp := range tt {
			if got := attendance.StudentID("CS101", "X", n); got != exp {
				t.Fatalf("\t%s\tShould derive %s for %d: %s", failed, exp, n, got)
			}
		}
		t.Logf("\t%s\tShould pad the sequence number to two digits.", success)
	}
}
