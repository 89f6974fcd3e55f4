// Package teacher provides the core business API for checking and granting
// the authority of a teacher to record attendance on the ledger.
package teacher

import (
	"context"
	"fmt"
	"time"

	"github.com/ardanlabs/attendance/foundation/ledger"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Ledger is the set of contract calls this package needs.
type Ledger interface {
	Invoke(ctx context.Context, call ledger.Call) (ledger.Receipt, error)
	Query(ctx context.Context, call ledger.Call) (map[string]any, error)
}

// Storer interface declares the behavior this package needs to mirror
// teachers into the audit store.
type Storer interface {
	Upsert(ctx context.Context, t Teacher) error
}

// Core manages the set of APIs for teacher access.
type Core struct {
	log    *zap.SugaredLogger
	ledger Ledger
	storer Storer
}

// NewCore constructs a core for teacher api access. The storer is optional.
func NewCore(log *zap.SugaredLogger, ldg Ledger, storer Storer) *Core {
	return &Core{
		log:    log,
		ledger: ldg,
		storer: storer,
	}
}

// Verify reports the status the ledger holds for the address. An address
// the ledger doesn't know, or that isn't a valid address, is reported as
// not existing. Transport failures are returned as errors.
func (c *Core) Verify(ctx context.Context, address string) (Status, error) {
	if !common.IsHexAddress(address) {
		return Status{}, nil
	}

	call := ledger.Call{
		Method: "teachers",
		Args:   []any{common.HexToAddress(address)},
	}

	fields, err := c.ledger.Query(ctx, call)
	if err != nil {
		if ledger.IsRejected(err) {
			return Status{}, nil
		}
		return Status{}, fmt.Errorf("verify teacher[%s]: %w", address, err)
	}

	name, _ := fields["name"].(string)
	active, _ := fields["isActive"].(bool)

	// Unknown keys of a contract mapping read back as zero values.
	if name == "" && !active {
		return Status{}, nil
	}

	st := Status{
		Exists:   true,
		IsActive: active,
		Name:     name,
	}

	return st, nil
}

// EnsureExists adds the teacher to the ledger when it's missing or inactive
// and reports whether the teacher is active afterwards. Every call against
// a missing teacher is a ledger write.
func (c *Core) EnsureExists(ctx context.Context, address string, name string) (bool, error) {
	st, err := c.Verify(ctx, address)
	if err != nil {
		return false, err
	}

	if st.Exists && st.IsActive {
		return true, nil
	}

	c.log.Infow("ensure teacher", "status", "adding teacher", "address", address)

	if _, err := c.Add(ctx, NewTeacher{Address: address, Name: name}); err != nil {
		return false, err
	}

	return true, nil
}

// Add registers the teacher on the ledger using the admin account and
// mirrors the teacher into the audit store. A mirror failure is logged and
// does not fail the call.
func (c *Core) Add(ctx context.Context, nt NewTeacher) (AddResult, error) {
	if !common.IsHexAddress(nt.Address) {
		return AddResult{}, fmt.Errorf("add teacher: %w: %q", ErrInvalidAddress, nt.Address)
	}
	addr := common.HexToAddress(nt.Address)

	call := ledger.Call{
		Method: "addTeacher",
		Args:   []any{addr, nt.Name},
	}

	rcpt, err := c.ledger.Invoke(ctx, call)
	if err != nil {
		return AddResult{}, fmt.Errorf("add teacher[%s]: %w", addr, err)
	}

	c.log.Infow("add teacher", "address", addr.Hex(), "txhash", rcpt.TxHash, "block", rcpt.BlockNumber)

	if c.storer != nil {
		t := Teacher{
			Address:     addr.Hex(),
			Name:        nt.Name,
			IsActive:    true,
			DateUpdated: time.Now(),
		}

		if err := c.storer.Upsert(ctx, t); err != nil {
			c.log.Errorw("add teacher", "status", "mirror to audit store", "address", addr.Hex(), "ERROR", err)
		}
	}

	res := AddResult{
		TransactionHash: rcpt.TxHash,
		TeacherAddress:  addr.Hex(),
		BlockNumber:     rcpt.BlockNumber,
	}

	return res, nil
}
