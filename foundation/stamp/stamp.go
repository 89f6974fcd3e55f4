// Package stamp attaches a proof of work digest to an attendance record
// before it is sent to the ledger. The digest is tamper evident and can be
// recomputed by anyone holding the record fields. There is no chain: every
// block points at the same GenesisHash sentinel.
package stamp

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// GenesisHash is the previous hash used by every stamped block.
const GenesisHash = "0"

// warnAttempts is the number of attempts after which a stamping operation
// reports that it is taking unusually long. The search keeps going.
const warnAttempts = 10_000_000

// ErrInvalidDifficulty is returned when the difficulty can't be satisfied by
// the digest length.
var ErrInvalidDifficulty = errors.New("invalid difficulty")

// EventHandler defines a function that is called when events
// occur while a block is being stamped.
type EventHandler func(v string, args ...any)

// =============================================================================

// Payload is the attendance fact being stamped. The field order is part of
// the digest and must not change.
type Payload struct {
	TeacherAddress string `json:"teacherAddress"`
	StudentName    string `json:"studentName"`
	Subject        string `json:"subject"`
	IsPresent      bool   `json:"isPresent"`
	Timestamp      int64  `json:"timestamp"`
}

// Block wraps a payload with the values needed to solve the digest.
type Block struct {
	Index        int64   `json:"index"`
	PreviousHash string  `json:"previousHash"`
	Timestamp    int64   `json:"timestamp"`
	Payload      Payload `json:"data"`
	Nonce        uint64  `json:"nonce"`
	Digest       string  `json:"hash"`
}

// NewBlock constructs a block ready to be stamped for the specified payload.
func NewBlock(payload Payload, now time.Time) Block {
	return Block{
		Index:        now.UnixMilli(),
		PreviousHash: GenesisHash,
		Timestamp:    payload.Timestamp,
		Payload:      payload,
	}
}

// Stats provides advisory information about a stamping operation.
type Stats struct {
	Attempts uint64
	Duration time.Duration
}

// =============================================================================

// Stamp searches for the nonce that gives the block a digest starting with
// difficulty zeros. The nonce starts at 0 and is incremented by 1 until a
// solution is found.
func Stamp(b Block, difficulty int, ev EventHandler) (Block, Stats, error) {
	if ev == nil {
		ev = func(string, ...any) {}
	}

	if err := checkDifficulty(difficulty); err != nil {
		return Block{}, Stats{}, err
	}

	prefix, err := hashPrefix(b)
	if err != nil {
		return Block{}, Stats{}, err
	}

	ev("stamp: Stamp: started: index[%d]: difficulty[%d]", b.Index, difficulty)
	start := time.Now()

	var attempts uint64
	for b.Nonce = 0; ; b.Nonce++ {
		attempts++
		if attempts == warnAttempts {
			ev("stamp: Stamp: WARNING: index[%d]: attempts[%d]: still searching", b.Index, attempts)
		}

		digest := sum(prefix, b.Nonce)
		if !isSolved(difficulty, digest) {
			continue
		}

		b.Digest = digest
		break
	}

	stats := Stats{
		Attempts: attempts,
		Duration: time.Since(start),
	}

	ev("stamp: Stamp: SOLVED: index[%d]: digest[%s]: attempts[%d]: took[%s]", b.Index, b.Digest, stats.Attempts, stats.Duration)

	return b, stats, nil
}

// Hash returns the digest for the block using its current nonce.
func Hash(b Block) (string, error) {
	prefix, err := hashPrefix(b)
	if err != nil {
		return "", err
	}

	return sum(prefix, b.Nonce), nil
}

// Verify recomputes the digest of a stamped block and checks it against the
// stored digest and the difficulty.
func Verify(b Block, difficulty int) error {
	if err := checkDifficulty(difficulty); err != nil {
		return err
	}

	digest, err := Hash(b)
	if err != nil {
		return err
	}

	if digest != b.Digest {
		return fmt.Errorf("digest mismatch, got %s, exp %s", b.Digest, digest)
	}

	if !isSolved(difficulty, digest) {
		return fmt.Errorf("digest %s does not satisfy difficulty %d", digest, difficulty)
	}

	return nil
}

// =============================================================================

// hashPrefix builds the part of the hash input that doesn't change while
// the nonce is being searched.
func hashPrefix(b Block) ([]byte, error) {
	data, err := canonical(b.Payload)
	if err != nil {
		return nil, err
	}

	prefix := strconv.AppendInt(nil, b.Index, 10)
	prefix = append(prefix, b.PreviousHash...)
	prefix = strconv.AppendInt(prefix, b.Timestamp, 10)
	prefix = append(prefix, data...)

	return prefix, nil
}

// canonical encodes the payload the way JSON.stringify does. HTML characters
// and the U+2028/U+2029 separators are written raw.
func canonical(p Payload) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}

	data := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != '\\' || i+1 >= len(data) {
			out = append(out, data[i])
			continue
		}

		if i+5 < len(data) {
			switch string(data[i+1 : i+6]) {
			case "u2028":
				out = append(out, "\u2028"...)
				i += 5
				continue
			case "u2029":
				out = append(out, "\u2029"...)
				i += 5
				continue
			}
		}

		// Keep the escape pair together so an escaped backslash is never
		// read as the start of a new escape.
		out = append(out, data[i], data[i+1])
		i++
	}

	return out, nil
}

// sum hashes the prefix with the nonce appended in decimal form.
func sum(prefix []byte, nonce uint64) string {
	h := sha256.New()
	h.Write(prefix)
	h.Write(strconv.AppendUint(nil, nonce, 10))

	return hex.EncodeToString(h.Sum(nil))
}

// isSolved checks the digest has a difficulty number of leading 0's.
func isSolved(difficulty int, digest string) bool {
	const match = "0000000000000000000000000000000000000000000000000000000000000000"

	if len(digest) != sha256.Size*2 {
		return false
	}

	return digest[:difficulty] == match[:difficulty]
}

func checkDifficulty(difficulty int) error {
	if difficulty < 1 || difficulty >= sha256.Size*2 {
		return fmt.Errorf("%w: %d must be in [1, %d)", ErrInvalidDifficulty, difficulty, sha256.Size*2)
	}
	return nil
}
