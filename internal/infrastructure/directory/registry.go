// Package directory is the in-memory asset directory, fed by device status
// reports and queried by the engine for liveness and composition.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
	"github.com/hashicorp/go-memdb"
)

const (
	tableAssets = "assets"
	tableLinks  = "links"
)

type assetRow struct {
	TypeID  string
	AssetID string
	State   domain.AssetState
}

// linkRow ties a sub-asset to the device that owns it.
type linkRow struct {
	TypeID       string
	AssetID      string
	OwnerTypeID  string
	OwnerAssetID string
}

func keyIndex(prefix string) *memdb.CompoundIndex {
	return &memdb.CompoundIndex{
		Indexes: []memdb.Indexer{
			&memdb.StringFieldIndex{Field: prefix + "TypeID"},
			&memdb.StringFieldIndex{Field: prefix + "AssetID"},
		},
	}
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableAssets: {
				Name: tableAssets,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: keyIndex("")},
				},
			},
			tableLinks: {
				Name: tableLinks,
				Indexes: map[string]*memdb.IndexSchema{
					"id":    {Name: "id", Unique: true, Indexer: keyIndex("")},
					"owner": {Name: "owner", Indexer: keyIndex("Owner")},
				},
			},
		},
	}
}

// Registry implements ports.AssetRegistry.
type Registry struct {
	db  *memdb.MemDB
	log *logger.Logger
}

func NewRegistry(log *logger.Logger) (ports.AssetRegistry, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, err
	}
	return &Registry{db: db, log: log}, nil
}

func validate(state domain.AssetState) error {
	if state.Key.TypeID == "" || state.Key.AssetID == "" {
		return fmt.Errorf("%w: type_id and asset_id are required", ports.ErrInvalidAsset)
	}
	if !state.Liveness.Valid() {
		return fmt.Errorf("%w: unknown status %q", ports.ErrInvalidAsset, state.Liveness)
	}
	for _, sub := range state.SubAssets {
		if sub.Key.TypeID == "" || sub.Key.AssetID == "" {
			return fmt.Errorf("%w: sub-asset type_id and asset_id are required", ports.ErrInvalidAsset)
		}
		if sub.Key == state.Key {
			return fmt.Errorf("%w: asset %s lists itself as sub-asset", ports.ErrInvalidAsset, state.Key)
		}
		if !sub.Liveness.Valid() {
			return fmt.Errorf("%w: unknown sub-asset status %q", ports.ErrInvalidAsset, sub.Liveness)
		}
	}
	return nil
}

// Upsert replaces the snapshot of a device and its owner links.
func (r *Registry) Upsert(ctx context.Context, state domain.AssetState) error {
	if err := validate(state); err != nil {
		return err
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	state.SubAssets = append([]domain.SubAssetState(nil), state.SubAssets...)

	tx := r.db.Txn(true)
	defer tx.Abort()

	if err := tx.Insert(tableAssets, &assetRow{TypeID: state.Key.TypeID, AssetID: state.Key.AssetID, State: state}); err != nil {
		return fmt.Errorf("asset insert failed: %v", err)
	}
	if _, err := tx.DeleteAll(tableLinks, "owner", state.Key.TypeID, state.Key.AssetID); err != nil {
		return fmt.Errorf("link cleanup failed: %v", err)
	}
	for _, sub := range state.SubAssets {
		link := &linkRow{
			TypeID:       sub.Key.TypeID,
			AssetID:      sub.Key.AssetID,
			OwnerTypeID:  state.Key.TypeID,
			OwnerAssetID: state.Key.AssetID,
		}
		if err := tx.Insert(tableLinks, link); err != nil {
			return fmt.Errorf("link insert failed: %v", err)
		}
	}
	tx.Commit()

	r.log.Debugw("directory_upsert_ok", "asset", state.Key.String(), "status", state.Liveness, "sub_assets", len(state.SubAssets))
	return nil
}

func (r *Registry) ResolveOwnerOrSelf(ctx context.Context, key domain.AssetKey) (domain.AssetKey, error) {
	tx := r.db.Txn(false)
	defer tx.Abort()

	raw, err := tx.First(tableLinks, "id", key.TypeID, key.AssetID)
	if err != nil {
		return domain.AssetKey{}, err
	}
	if raw != nil {
		link := raw.(*linkRow)
		return domain.AssetKey{TypeID: link.OwnerTypeID, AssetID: link.OwnerAssetID}, nil
	}

	raw, err = tx.First(tableAssets, "id", key.TypeID, key.AssetID)
	if err != nil {
		return domain.AssetKey{}, err
	}
	if raw == nil {
		return domain.AssetKey{}, ports.ErrAssetUnknown
	}
	return key, nil
}

func (r *Registry) GetAssetStatus(ctx context.Context, key domain.AssetKey) (*domain.AssetState, error) {
	tx := r.db.Txn(false)
	defer tx.Abort()

	raw, err := tx.First(tableAssets, "id", key.TypeID, key.AssetID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ports.ErrAssetUnknown
	}
	state := copyState(raw.(*assetRow).State)
	return &state, nil
}

// GetMany returns the known states among keys, in key order.
func (r *Registry) GetMany(ctx context.Context, keys []domain.AssetKey) ([]domain.AssetState, error) {
	tx := r.db.Txn(false)
	defer tx.Abort()

	out := make([]domain.AssetState, 0, len(keys))
	for _, key := range keys {
		raw, err := tx.First(tableAssets, "id", key.TypeID, key.AssetID)
		if err != nil {
			return nil, err
		}
		if raw != nil {
			out = append(out, copyState(raw.(*assetRow).State))
		}
	}
	return out, nil
}

func copyState(s domain.AssetState) domain.AssetState {
	s.SubAssets = append([]domain.SubAssetState(nil), s.SubAssets...)
	return s
}

type subAssetReport struct {
	TypeID  string `json:"type_id"`
	AssetID string `json:"asset_id"`
	Status  string `json:"status"`
}

type statusReport struct {
	TypeID    string           `json:"type_id"`
	AssetID   string           `json:"asset_id"`
	Status    string           `json:"status"`
	SubAssets []subAssetReport `json:"sub_assets"`
}

// DecodeStatusReport parses a device status report into a directory state.
// fallback supplies the key when the payload omits it, as with reports whose
// topic already names the device.
func DecodeStatusReport(payload []byte, fallback domain.AssetKey) (domain.AssetState, error) {
	var rep statusReport
	if err := json.Unmarshal(payload, &rep); err != nil {
		return domain.AssetState{}, fmt.Errorf("%w: %v", ports.ErrInvalidAsset, err)
	}
	state := domain.AssetState{
		Key:      domain.AssetKey{TypeID: rep.TypeID, AssetID: rep.AssetID},
		Liveness: domain.Liveness(rep.Status),
	}
	if state.Key.IsZero() {
		state.Key = fallback
	}
	for _, s := range rep.SubAssets {
		state.SubAssets = append(state.SubAssets, domain.SubAssetState{
			Key:      domain.AssetKey{TypeID: s.TypeID, AssetID: s.AssetID},
			Liveness: domain.Liveness(s.Status),
		})
	}
	return state, validate(state)
}
