package teacher_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ardanlabs/attendance/business/core/teacher"
	"github.com/ardanlabs/attendance/foundation/ledger"
	"github.com/ardanlabs/attendance/foundation/logger"
	"github.com/ethereum/go-ethereum/common"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	active   = "0x00000000000000000000000000000000000000A1"
	inactive = "0x00000000000000000000000000000000000000B2"
	unknown  = "0x00000000000000000000000000000000000000C3"
)

// fakeLedger holds teachers by address and counts the calls made.
type fakeLedger struct {
	mu       sync.Mutex
	teachers map[common.Address]teacher.Status
	queryErr error
	invokes  []ledger.Call
	queries  int
}

func (f *fakeLedger) Query(ctx context.Context, call ledger.Call) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries++
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	st := f.teachers[call.Args[0].(common.Address)]
	return map[string]any{"name": st.Name, "isActive": st.IsActive}, nil
}

func (f *fakeLedger) Invoke(ctx context.Context, call ledger.Call) (ledger.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.invokes = append(f.invokes, call)
	if call.Method == "addTeacher" {
		f.teachers[call.Args[0].(common.Address)] = teacher.Status{Exists: true, IsActive: true, Name: call.Args[1].(string)}
	}
	return ledger.Receipt{TxHash: "0xfeed", BlockNumber: 7}, nil
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		teachers: map[common.Address]teacher.Status{
			common.HexToAddress(active):   {Exists: true, IsActive: true, Name: "Ada"},
			common.HexToAddress(inactive): {Exists: true, IsActive: false, Name: "Bob"},
		},
	}
}

// fakeStore records the teachers mirrored into the audit store.
type fakeStore struct {
	rows []teacher.Teacher
	err  error
}

func (f *fakeStore) Upsert(ctx context.Context, t teacher.Teacher) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, t)
	return nil
}

// =============================================================================

func Test_Verify(t *testing.T) {
	type table struct {
		name    string
		address string
		exp     teacher.Status
	}

	tt := []table{
		{name: "active", address: active, exp: teacher.Status{Exists: true, IsActive: true, Name: "Ada"}},
		{name: "inactive", address: inactive, exp: teacher.Status{Exists: true, IsActive: false, Name: "Bob"}},
		{name: "unknown", address: unknown, exp: teacher.Status{}},
		{name: "malformed", address: "0xA1", exp: teacher.Status{}},
	}

	t.Log("Given the need to verify teachers against the ledger.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				core := teacher.NewCore(logger.NewTest(), newFakeLedger(), nil)

				st, err := core.Verify(context.Background(), tst.address)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to verify the teacher: %v", failed, testID, err)
				}
				t.Logf("\t%s\tTest %d:\tShould be able to verify the teacher.", success, testID)

				if st != tst.exp {
					t.Logf("\t\tTest %d:\tgot: %+v", testID, st)
					t.Logf("\t\tTest %d:\texp: %+v", testID, tst.exp)
					t.Fatalf("\t%s\tTest %d:\tShould get back the expected status.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould get back the expected status.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_VerifyErrors(t *testing.T) {
	t.Log("Given the need to tell a missing teacher from a broken ledger.")
	{
		t.Logf("\tTest 0:\tWhen the ledger can't be reached.")
		{
			fl := newFakeLedger()
			fl.queryErr = &ledger.Error{Kind: ledger.KindTransport, Method: "teachers", Err: errors.New("connection refused")}

			core := teacher.NewCore(logger.NewTest(), fl, nil)

			if _, err := core.Verify(context.Background(), active); !ledger.IsTransport(err) {
				t.Fatalf("\t%s\tTest 0:\tShould get back a transport error: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould get back a transport error.", success)
		}

		t.Logf("\tTest 1:\tWhen the ledger refuses the read.")
		{
			fl := newFakeLedger()
			fl.queryErr = &ledger.Error{Kind: ledger.KindRejected, Method: "teachers", Err: errors.New("execution reverted")}

			core := teacher.NewCore(logger.NewTest(), fl, nil)

			st, err := core.Verify(context.Background(), active)
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould not get back an error: %v", failed, err)
			}
			if st.Exists || st.IsActive {
				t.Fatalf("\t%s\tTest 1:\tShould report the teacher as missing: %+v", failed, st)
			}
			t.Logf("\t%s\tTest 1:\tShould report the teacher as missing.", success)
		}
	}
}

func Test_EnsureExists(t *testing.T) {
	t.Log("Given the need to make sure a teacher can record attendance.")
	{
		t.Logf("\tTest 0:\tWhen the teacher is already active.")
		{
			fl := newFakeLedger()
			core := teacher.NewCore(logger.NewTest(), fl, nil)

			ok, err := core.EnsureExists(context.Background(), active, "Ada")
			if err != nil || !ok {
				t.Fatalf("\t%s\tTest 0:\tShould report the teacher as active: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould report the teacher as active.", success)

			if len(fl.invokes) != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould not write to the ledger: %d", failed, len(fl.invokes))
			}
			t.Logf("\t%s\tTest 0:\tShould not write to the ledger.", success)
		}

		for testID, address := range []string{inactive, unknown} {
			t.Logf("\tTest %d:\tWhen the teacher %s is not active.", testID+1, address)
			{
				fl := newFakeLedger()
				fs := &fakeStore{}
				core := teacher.NewCore(logger.NewTest(), fl, fs)

				ok, err := core.EnsureExists(context.Background(), address, "Cy")
				if err != nil || !ok {
					t.Fatalf("\t%s\tTest %d:\tShould report the teacher as active: %v", failed, testID+1, err)
				}
				t.Logf("\t%s\tTest %d:\tShould report the teacher as active.", success, testID+1)

				if len(fl.invokes) != 1 || fl.invokes[0].Method != "addTeacher" {
					t.Fatalf("\t%s\tTest %d:\tShould write addTeacher once: %+v", failed, testID+1, fl.invokes)
				}
				if fl.invokes[0].From != (common.Address{}) {
					t.Fatalf("\t%s\tTest %d:\tShould write from the admin account: %s", failed, testID+1, fl.invokes[0].From)
				}
				t.Logf("\t%s\tTest %d:\tShould write addTeacher once from the admin account.", success, testID+1)

				if len(fs.rows) != 1 || !fs.rows[0].IsActive || fs.rows[0].Name != "Cy" {
					t.Fatalf("\t%s\tTest %d:\tShould mirror the teacher: %+v", failed, testID+1, fs.rows)
				}
				t.Logf("\t%s\tTest %d:\tShould mirror the teacher.", success, testID+1)
			}
		}
	}
}

func Test_AddMirrorFailure(t *testing.T) {
	t.Log("Given the need to add a teacher when the audit store is down.")
	{
		fl := newFakeLedger()
		fs := &fakeStore{err: errors.New("connection refused")}
		core := teacher.NewCore(logger.NewTest(), fl, fs)

		res, err := core.Add(context.Background(), teacher.NewTeacher{Address: unknown, Name: "Cy"})
		if err != nil {
			t.Fatalf("\t%s\tShould be able to add the teacher: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to add the teacher.", success)

		if res.TransactionHash != "0xfeed" || res.BlockNumber != 7 {
			t.Fatalf("\t%s\tShould get back the ledger receipt: %+v", failed, res)
		}
		t.Logf("\t%s\tShould get back the ledger receipt.", success)

		if _, err := core.Add(context.Background(), teacher.NewTeacher{Address: "nope", Name: "Cy"}); !errors.Is(err, teacher.ErrInvalidAddress) {
			t.Fatalf("\t%s\tShould reject a malformed address: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject a malformed address.", success)
	}
}
