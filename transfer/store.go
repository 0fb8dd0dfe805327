// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transfer

import (
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"

	"github.com/luxfi/bridge/attestation"
)

// transferRecord is the storage form of a Transfer. Timestamps are kept
// as unix seconds so the record round-trips through the linear codec.
type transferRecord struct {
	ID          ids.ID `serialize:"true"`
	SourceChain ids.ID `serialize:"true"`
	DestChain   ids.ID `serialize:"true"`
	Sender      []byte `serialize:"true"`
	Recipient   []byte `serialize:"true"`
	Amount      uint64 `serialize:"true"`
	Nonce       uint64 `serialize:"true"`

	Status       uint8               `serialize:"true"`
	Attestations []attestationRecord `serialize:"true"`

	CreatedAt         int64 `serialize:"true"`
	ExpiresAt         int64 `serialize:"true"`
	RefundAvailableAt int64 `serialize:"true"`

	MintTxID     ids.ID `serialize:"true"`
	FeeAmount    uint64 `serialize:"true"`
	DisputedFrom uint8  `serialize:"true"`
}

type attestationRecord struct {
	ValidatorID ids.NodeID `serialize:"true"`
	Digest      ids.ID     `serialize:"true"`
	Signature   []byte     `serialize:"true"`
	Timestamp   int64      `serialize:"true"`
}

func toRecord(t *Transfer) *transferRecord {
	rec := &transferRecord{
		ID:           t.ID,
		SourceChain:  t.SourceChain,
		DestChain:    t.DestChain,
		Sender:       t.Sender,
		Recipient:    t.Recipient,
		Amount:       t.Amount,
		Nonce:        t.Nonce,
		Status:       uint8(t.Status),
		CreatedAt:    t.CreatedAt.Unix(),
		ExpiresAt:    t.ExpiresAt.Unix(),
		MintTxID:     t.MintTxID,
		FeeAmount:    t.FeeAmount,
		DisputedFrom: uint8(t.DisputedFrom),
	}
	if !t.RefundAvailableAt.IsZero() {
		rec.RefundAvailableAt = t.RefundAvailableAt.Unix()
	}
	for _, att := range t.Attestations {
		rec.Attestations = append(rec.Attestations, attestationRecord{
			ValidatorID: att.ValidatorID,
			Digest:      att.Digest,
			Signature:   att.Signature,
			Timestamp:   att.Timestamp.Unix(),
		})
	}
	return rec
}

func fromRecord(rec *transferRecord) *Transfer {
	t := &Transfer{
		ID:           rec.ID,
		SourceChain:  rec.SourceChain,
		DestChain:    rec.DestChain,
		Sender:       rec.Sender,
		Recipient:    rec.Recipient,
		Amount:       rec.Amount,
		Nonce:        rec.Nonce,
		Status:       Status(rec.Status),
		CreatedAt:    time.Unix(rec.CreatedAt, 0),
		ExpiresAt:    time.Unix(rec.ExpiresAt, 0),
		MintTxID:     rec.MintTxID,
		FeeAmount:    rec.FeeAmount,
		DisputedFrom: Status(rec.DisputedFrom),
	}
	if rec.RefundAvailableAt != 0 {
		t.RefundAvailableAt = time.Unix(rec.RefundAvailableAt, 0)
	}
	// Only attestations over the canonical payload are ever attached, so
	// the stored digest always corresponds to the transfer's own payload.
	payload := t.Payload()
	for _, att := range rec.Attestations {
		t.Attestations = append(t.Attestations, &attestation.Attestation{
			ValidatorID: att.ValidatorID,
			TransferID:  rec.ID,
			Payload:     payload,
			Digest:      att.Digest,
			Signature:   att.Signature,
			Timestamp:   time.Unix(att.Timestamp, 0),
		})
	}
	return t
}

// putTransfer persists a transfer record.
func putTransfer(db database.Database, t *Transfer) error {
	bytes, err := Codec.Marshal(codecVersion, toRecord(t))
	if err != nil {
		return err
	}
	return db.Put(t.ID[:], bytes)
}

// getTransfer loads a transfer record; database.ErrNotFound when absent.
func getTransfer(db database.Database, transferID ids.ID) (*Transfer, error) {
	bytes, err := db.Get(transferID[:])
	if err != nil {
		return nil, err
	}
	rec := &transferRecord{}
	if _, err := Codec.Unmarshal(bytes, rec); err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}
