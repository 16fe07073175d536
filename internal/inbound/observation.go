package inbound

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/notarynet/notary/crypto"
)

// ObservationCode classifies what a validator saw when it ran a claim query
// against the external chain. Only deterministic outcomes get a code:
// transport failures and not-yet-final conditions are retried instead, so
// they never leak into a vote.
type ObservationCode uint8

const (
	// ObservationOK means the query succeeded and Value holds the canonical
	// observed bytes.
	ObservationOK ObservationCode = iota + 1

	// ObservationNoTx means the chain has no receipt for the queried hash.
	ObservationNoTx

	// ObservationTxFailed means the transaction exists but reverted.
	ObservationTxFailed

	// ObservationNoMatchingLog means no receipt log carries the filter topic.
	ObservationNoMatchingLog

	// ObservationEmptyReturnData means the contract call returned no bytes.
	ObservationEmptyReturnData

	// ObservationReturnDataTooLarge means the return data exceeds
	// MaxReturnDataSize.
	ObservationReturnDataTooLarge

	// ObservationOutdated means the chain head moved more than the
	// look-behind window past the target block before the call could run.
	ObservationOutdated
)

func (c ObservationCode) String() string {
	switch c {
	case ObservationOK:
		return "ok"
	case ObservationNoTx:
		return "no_tx"
	case ObservationTxFailed:
		return "tx_failed"
	case ObservationNoMatchingLog:
		return "no_matching_log"
	case ObservationEmptyReturnData:
		return "empty_return_data"
	case ObservationReturnDataTooLarge:
		return "return_data_too_large"
	case ObservationOutdated:
		return "outdated"
	default:
		return fmt.Sprintf("ObservationCode(%d)", uint8(c))
	}
}

// MaxReturnDataSize caps the return data a ReturnDataAt observation will
// vote on. Valid ABI-encoded return data is word-aligned, so the cap is a
// multiple of 32.
const MaxReturnDataSize = 1024

// Observation is the outcome of one claim query. For ObservationOK, Value
// holds the canonical observed bytes (the matched log for TxExists, the
// return data for ReturnDataAt) and Block the deterministic block the
// observation is anchored to. Failure observations carry neither, so every
// honest validator hitting the same failure produces the same hash.
type Observation struct {
	Code  ObservationCode
	Value []byte
	Block uint64
}

func okObservation(value []byte, block uint64) Observation {
	return Observation{Code: ObservationOK, Value: value, Block: block}
}

func failObservation(code ObservationCode) Observation {
	return Observation{Code: code}
}

// Hash returns the observed value hash validators vote with:
// sha256(claim_id || code || block || value), integers big-endian.
func (o Observation) Hash(claimID uint64) []byte {
	buf := make([]byte, 8+1+8, 8+1+8+len(o.Value))
	binary.BigEndian.PutUint64(buf[0:8], claimID)
	buf[8] = byte(o.Code)
	binary.BigEndian.PutUint64(buf[9:17], o.Block)
	buf = append(buf, o.Value...)
	return crypto.Sha256(buf)
}

// FailureHash precomputes the hash honest validators vote when their
// observation of claimID ends in code. An accepted hash equal to one of
// these sentinels means the set agreed the query failed that way, not that
// it agreed on a value.
func FailureHash(claimID uint64, code ObservationCode) []byte {
	return failObservation(code).Hash(claimID)
}

// matchLog returns the first log whose topics contain filter, in receipt
// order.
func matchLog(logs []TxLog, filter []byte) *TxLog {
	for i := range logs {
		for _, topic := range logs[i].Topics {
			if bytes.Equal(topic, filter) {
				return &logs[i]
			}
		}
	}
	return nil
}

// canonicalLog flattens a matched log so its hash pins the emitting
// contract, the topics, and the data: address || n_topics || topics || data.
func canonicalLog(l *TxLog) []byte {
	size := len(l.Address) + 1 + len(l.Data)
	for _, t := range l.Topics {
		size += len(t)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, l.Address...)
	buf = append(buf, byte(len(l.Topics)))
	for _, t := range l.Topics {
		buf = append(buf, t...)
	}
	return append(buf, l.Data...)
}
