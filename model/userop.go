package model

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/oklog/ulid/v2"
)

type UserOperationStatus string

const (
	// submitted to the bundler, no receipt seen yet
	StatusPending UserOperationStatus = "pending"
	// a receipt with a transaction hash was returned
	StatusMined UserOperationStatus = "mined"
	// a drop-and-replace resubmission took its nonce
	StatusReplaced UserOperationStatus = "replaced"
	// the wait loop gave up
	StatusNotFound UserOperationStatus = "not_found"
)

type UserOperationRecord struct {
	// a unique, time sorted id for this record
	ID string `json:"id"`

	Hash       common.Hash    `json:"hash"`
	Sender     common.Address `json:"sender"`
	EntryPoint common.Address `json:"entry_point"`
	Version    string         `json:"version"`

	// The signed request exactly as it was sent, so it can be dropped and
	// replaced later
	Request json.RawMessage `json:"request"`

	Status          UserOperationStatus `json:"status"`
	TransactionHash *common.Hash        `json:"transaction_hash,omitempty"`
	ReplacedBy      *common.Hash        `json:"replaced_by,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Generate a sorted uuid
func GenerateRecordID() string {
	return ulid.Make().String()
}

func NewUserOperationRecord(hash common.Hash, sender, entryPoint common.Address, version string, request json.RawMessage) *UserOperationRecord {
	now := time.Now().UnixMilli()
	return &UserOperationRecord{
		ID:         GenerateRecordID(),
		Hash:       hash,
		Sender:     sender,
		EntryPoint: entryPoint,
		Version:    version,
		Request:    request,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Return a compact json ready to persist to storage
func (r *UserOperationRecord) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

func (r *UserOperationRecord) FromStorageData(body []byte) error {
	return json.Unmarshal(body, r)
}

func (r *UserOperationRecord) Touch() {
	r.UpdatedAt = time.Now().UnixMilli()
}
