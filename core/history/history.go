// Package history keeps a local record of every user operation a client
// submitted, so pending operations can be listed, awaited again or dropped
// and replaced after a restart.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ap-aa/model"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
	"github.com/AvaProtocol/ap-aa/pkg/logger"
	"github.com/AvaProtocol/ap-aa/storage"
	"github.com/AvaProtocol/ap-aa/storage/schema"
)

var ErrNotFound = errors.New("user operation not found in history")

type Store struct {
	db     storage.Storage
	logger logger.Logger
}

func NewStore(db storage.Storage, log logger.Logger) *Store {
	return &Store{db: db, logger: logger.For(log, "history")}
}

// RecordSent stores a freshly submitted operation as pending.
func (s *Store) RecordSent(_ context.Context, hash common.Hash, entryPoint common.Address, req userop.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	rec := model.NewUserOperationRecord(hash, req.GetSender(), entryPoint, string(req.Version()), body)
	data, err := rec.ToJSON()
	if err != nil {
		return err
	}

	key := schema.UserOpStorageKey(rec.Sender, rec.ID)
	updates := map[string][]byte{
		string(key):                            data,
		string(schema.UserOpHashIndexKey(hash)): key,
	}
	if err := s.db.BatchWrite(updates); err != nil {
		return fmt.Errorf("persist user operation %s: %w", hash.Hex(), err)
	}
	s.logger.Debug("recorded user operation", "hash", hash.Hex(), "sender", rec.Sender.Hex())
	return nil
}

// MarkMined attaches the transaction that included the operation.
func (s *Store) MarkMined(_ context.Context, hash, txHash common.Hash) error {
	return s.update(hash, func(rec *model.UserOperationRecord) {
		rec.Status = model.StatusMined
		rec.TransactionHash = &txHash
	})
}

// MarkReplaced links a dropped operation to the one that replaced it.
func (s *Store) MarkReplaced(_ context.Context, hash, replacement common.Hash) error {
	return s.update(hash, func(rec *model.UserOperationRecord) {
		rec.Status = model.StatusReplaced
		rec.ReplacedBy = &replacement
	})
}

// MarkNotFound flags an operation the wait loop gave up on. It stays
// replaceable.
func (s *Store) MarkNotFound(_ context.Context, hash common.Hash) error {
	return s.update(hash, func(rec *model.UserOperationRecord) {
		if rec.Status == model.StatusPending {
			rec.Status = model.StatusNotFound
		}
	})
}

func (s *Store) Get(hash common.Hash) (*model.UserOperationRecord, error) {
	key, err := s.db.GetKey(schema.UserOpHashIndexKey(hash))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.load(key)
}

// ListBySender returns every record of sender, oldest first.
func (s *Store) ListBySender(sender common.Address) ([]*model.UserOperationRecord, error) {
	items, err := s.db.GetByPrefix(schema.UserOpBySenderPrefix(sender))
	if err != nil {
		return nil, err
	}
	records := make([]*model.UserOperationRecord, 0, len(items))
	for _, item := range items {
		rec := &model.UserOperationRecord{}
		if err := rec.FromStorageData(item.Value); err != nil {
			s.logger.Warn("skipping corrupted history record", "key", string(item.Key), "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// CountBySender counts the records of sender without decoding them.
func (s *Store) CountBySender(sender common.Address) (int64, error) {
	return s.db.CountKeysByPrefix(schema.UserOpBySenderPrefix(sender))
}

// Request decodes the signed request stored with rec.
func Request(rec *model.UserOperationRecord) (userop.Request, error) {
	return userop.DecodeRequest(rec.Request)
}

func (s *Store) load(key []byte) (*model.UserOperationRecord, error) {
	data, err := s.db.GetKey(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec := &model.UserOperationRecord{}
	if err := rec.FromStorageData(data); err != nil {
		return nil, fmt.Errorf("decode history record: %w", err)
	}
	return rec, nil
}

func (s *Store) update(hash common.Hash, fn func(rec *model.UserOperationRecord)) error {
	key, err := s.db.GetKey(schema.UserOpHashIndexKey(hash))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	rec, err := s.load(key)
	if err != nil {
		return err
	}
	fn(rec)
	rec.Touch()
	data, err := rec.ToJSON()
	if err != nil {
		return err
	}
	return s.db.Set(key, data)
}
