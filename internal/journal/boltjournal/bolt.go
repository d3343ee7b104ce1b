// Package boltjournal is the concrete, optional C9 journal adapter:
// a BoltDB-backed append-only store for telemetry, dispatches,
// heartbeats, events, and session transitions, plus the late-binding
// and bounded-history queries the core needs from it.
//
// Schema (BoltDB bucket layout):
//
//	/telemetry
//	    key:   asset_id + 0x1f + RFC3339Nano      [sortable per asset]
//	    value: JSON Telemetry
//
//	/dispatches
//	    key:   dispatch_id
//	    value: JSON Dispatch
//
//	/dispatch_by_asset
//	    key:   asset_id + 0x1f + RFC3339Nano(submitted_at) + 0x1f + dispatch_id
//	    value: dispatch_id
//
//	/dispatch_by_time
//	    key:   RFC3339Nano(submitted_at) + 0x1f + dispatch_id
//	    value: dispatch_id
//
//	/heartbeats
//	    key:   asset_id + 0x1f + RFC3339Nano
//	    value: (empty — the key carries the timestamp)
//
//	/events
//	    key:   asset_id + 0x1f + RFC3339Nano + 0x1f + event_id
//	    value: JSON Event
//
//	/sessions_open
//	    key:   asset_id
//	    value: JSON AgentSession (DisconnectedAt always nil)
//
//	/sessions_closed
//	    key:   asset_id + 0x1f + RFC3339Nano(connected_at)
//	    value: JSON AgentSession
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model mirrors a single-writer embedded store: every write
// is one ACID bbolt transaction; reads use read-only transactions.
package boltjournal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/der-control/headend/internal/domain"
)

const (
	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	bucketTelemetry       = "telemetry"
	bucketDispatches      = "dispatches"
	bucketDispatchByAsset = "dispatch_by_asset"
	bucketDispatchByTime  = "dispatch_by_time"
	bucketHeartbeats      = "heartbeats"
	bucketEvents          = "events"
	bucketSessionsOpen    = "sessions_open"
	bucketSessionsClosed  = "sessions_closed"
	bucketMeta            = "meta"
)

var allBuckets = []string{
	bucketTelemetry, bucketDispatches, bucketDispatchByAsset, bucketDispatchByTime,
	bucketHeartbeats, bucketEvents, bucketSessionsOpen, bucketSessionsClosed, bucketMeta,
}

const sep = "\x1f"

// DB is the BoltDB-backed Journal implementation.
type DB struct {
	db *bolt.DB
}

// Open opens (or creates) the BoltDB file at path and initialises all
// required buckets. Returns an error if the database is corrupt or the
// schema version is incompatible — callers should treat this as fatal.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("journal initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketMeta)).Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf("journal schema mismatch: database has %q, headend requires %q", v, SchemaVersion)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

// keyTimeLayout is RFC3339 with a fixed nine-digit fraction. Unlike
// time.RFC3339Nano it never trims trailing zeros, so keys for one asset
// sort lexicographically in time order.
const keyTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func rfc(t time.Time) string { return t.UTC().Format(keyTimeLayout) }

func telemetryKey(assetID string, ts time.Time) []byte {
	return []byte(assetID + sep + rfc(ts))
}

func heartbeatKey(assetID string, ts time.Time) []byte {
	return []byte(assetID + sep + rfc(ts))
}

func eventKey(assetID string, ts time.Time, eventID string) []byte {
	return []byte(assetID + sep + rfc(ts) + sep + eventID)
}

func dispatchByAssetKey(assetID string, submittedAt time.Time, dispatchID string) []byte {
	return []byte(assetID + sep + rfc(submittedAt) + sep + dispatchID)
}

func dispatchByTimeKey(submittedAt time.Time, dispatchID string) []byte {
	return []byte(rfc(submittedAt) + sep + dispatchID)
}

// seekLastWithPrefix returns the lexicographically last key/value with
// the given prefix, or (nil, nil) if none exists. Used throughout for
// "latest by asset" lookups against sortable RFC3339Nano keys.
func seekLastWithPrefix(c *bolt.Cursor, prefix []byte) (k, v []byte) {
	upper := append(append([]byte{}, prefix...), 0xff)
	k, v = c.Seek(upper)
	if k == nil {
		k, v = c.Last()
	} else {
		k, v = c.Prev()
	}
	if k == nil || !bytes.HasPrefix(k, prefix) {
		return nil, nil
	}
	return k, v
}

// AppendTelemetry implements journal.Journal.
func (d *DB) AppendTelemetry(_ context.Context, t domain.Telemetry) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("AppendTelemetry marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketTelemetry)).Put(telemetryKey(t.AssetID, t.Timestamp), data)
	})
}

// AppendDispatch implements journal.Journal.
func (d *DB) AppendDispatch(_ context.Context, dispatch domain.Dispatch) error {
	data, err := json.Marshal(dispatch)
	if err != nil {
		return fmt.Errorf("AppendDispatch marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bucketDispatches)).Put([]byte(dispatch.ID), data); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(bucketDispatchByAsset)).Put(
			dispatchByAssetKey(dispatch.AssetID, dispatch.SubmittedAt, dispatch.ID), []byte(dispatch.ID)); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketDispatchByTime)).Put(
			dispatchByTimeKey(dispatch.SubmittedAt, dispatch.ID), []byte(dispatch.ID))
	})
}

// UpdateDispatchAck implements journal.Journal.
func (d *DB) UpdateDispatchAck(_ context.Context, dispatchID string, status domain.AckStatus, ackedAt time.Time, reason string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketDispatches))
		raw := b.Get([]byte(dispatchID))
		if raw == nil {
			return fmt.Errorf("UpdateDispatchAck: dispatch %q not found", dispatchID)
		}
		var dispatch domain.Dispatch
		if err := json.Unmarshal(raw, &dispatch); err != nil {
			return fmt.Errorf("UpdateDispatchAck unmarshal: %w", err)
		}
		dispatch.AckStatus = &status
		dispatch.AckedAt = &ackedAt
		dispatch.AckReason = reason
		data, err := json.Marshal(dispatch)
		if err != nil {
			return fmt.Errorf("UpdateDispatchAck marshal: %w", err)
		}
		return b.Put([]byte(dispatchID), data)
	})
}

// AppendHeartbeat implements journal.Journal.
func (d *DB) AppendHeartbeat(_ context.Context, assetID string, ts time.Time) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketHeartbeats)).Put(heartbeatKey(assetID, ts), []byte{})
	})
}

// AppendEvent implements journal.Journal.
func (d *DB) AppendEvent(_ context.Context, e domain.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("AppendEvent marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketEvents)).Put(eventKey(e.AssetID, e.Timestamp, e.ID), data)
	})
}

// AppendSessionOpen implements journal.Journal. Idempotent: it closes
// any still-open session for the same asset first.
func (d *DB) AppendSessionOpen(_ context.Context, s domain.AgentSession) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := closeOpenSessionTx(tx, s.AssetID, s.ConnectedAt); err != nil {
			return err
		}
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("AppendSessionOpen marshal: %w", err)
		}
		return tx.Bucket([]byte(bucketSessionsOpen)).Put([]byte(s.AssetID), data)
	})
}

// CloseOpenSession implements journal.Journal. A no-op if there is no
// open session for assetID.
func (d *DB) CloseOpenSession(_ context.Context, assetID string, disconnectedAt time.Time) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return closeOpenSessionTx(tx, assetID, disconnectedAt)
	})
}

func closeOpenSessionTx(tx *bolt.Tx, assetID string, disconnectedAt time.Time) error {
	open := tx.Bucket([]byte(bucketSessionsOpen))
	raw := open.Get([]byte(assetID))
	if raw == nil {
		return nil
	}
	var s domain.AgentSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("closeOpenSessionTx unmarshal: %w", err)
	}
	dc := disconnectedAt
	s.DisconnectedAt = &dc
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("closeOpenSessionTx marshal: %w", err)
	}
	if err := tx.Bucket([]byte(bucketSessionsClosed)).Put(
		[]byte(assetID+sep+rfc(s.ConnectedAt)), data); err != nil {
		return err
	}
	return open.Delete([]byte(assetID))
}

// LatestTelemetryByAsset implements journal.Journal.
func (d *DB) LatestTelemetryByAsset(_ context.Context, assetID string) (domain.Telemetry, bool, error) {
	var t domain.Telemetry
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketTelemetry)).Cursor()
		_, v := seekLastWithPrefix(c, []byte(assetID+sep))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &t)
	})
	return t, found, err
}

// LatestDispatchByAsset implements journal.Journal.
func (d *DB) LatestDispatchByAsset(_ context.Context, assetID string) (domain.Dispatch, bool, error) {
	var dispatch domain.Dispatch
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket([]byte(bucketDispatchByAsset)).Cursor()
		_, dispatchID := seekLastWithPrefix(idx, []byte(assetID+sep))
		if dispatchID == nil {
			return nil
		}
		raw := tx.Bucket([]byte(bucketDispatches)).Get(dispatchID)
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &dispatch)
	})
	return dispatch, found, err
}

// LatestTelemetryAll implements journal.Journal: one row per asset, for
// startup hydration. Scans the whole telemetry bucket once, keeping the
// last-seen row per asset id prefix (cheap relative to process startup
// cadence; not called on any hot path).
func (d *DB) LatestTelemetryAll(_ context.Context) ([]domain.Telemetry, error) {
	latest := make(map[string]domain.Telemetry)
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketTelemetry)).ForEach(func(k, v []byte) error {
			assetID := assetIDFromKey(k)
			var t domain.Telemetry
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			latest[assetID] = t // ForEach iterates in key order; last write wins
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Telemetry, 0, len(latest))
	for _, t := range latest {
		out = append(out, t)
	}
	return out, nil
}

func assetIDFromKey(k []byte) string {
	if i := bytes.IndexByte(k, sep[0]); i >= 0 {
		return string(k[:i])
	}
	return string(k)
}

// TelemetryHistory implements journal.Journal: a bounded range query
// over one asset's telemetry between start and end (inclusive).
func (d *DB) TelemetryHistory(_ context.Context, assetID string, start, end time.Time) ([]domain.Telemetry, error) {
	var out []domain.Telemetry
	lower := []byte(assetID + sep + rfc(start))
	upper := []byte(assetID + sep + rfc(end) + "\xff")
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketTelemetry)).Cursor()
		for k, v := c.Seek(lower); k != nil && bytes.Compare(k, upper) <= 0; k, v = c.Next() {
			if !bytes.HasPrefix(k, []byte(assetID+sep)) {
				break
			}
			var t domain.Telemetry
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	return out, err
}

// DispatchHistory implements journal.Journal: the most recent `limit`
// dispatches across all assets.
func (d *DB) DispatchHistory(_ context.Context, limit int) ([]domain.Dispatch, error) {
	var ids [][]byte
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketDispatchByTime)).Cursor()
		for k, v := c.Last(); k != nil && len(ids) < limit; k, v = c.Prev() {
			idCopy := make([]byte, len(v))
			copy(idCopy, v)
			ids = append(ids, idCopy)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Dispatch, 0, len(ids))
	err = d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketDispatches))
		for _, id := range ids {
			raw := b.Get(id)
			if raw == nil {
				continue
			}
			var dispatch domain.Dispatch
			if err := json.Unmarshal(raw, &dispatch); err != nil {
				return err
			}
			out = append(out, dispatch)
		}
		return nil
	})
	return out, err
}

// EventHistory implements journal.Journal: the most recent `limit`
// events for one asset.
func (d *DB) EventHistory(_ context.Context, assetID string, limit int) ([]domain.Event, error) {
	var out []domain.Event
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketEvents)).Cursor()
		prefix := []byte(assetID + sep)
		upper := append(append([]byte{}, prefix...), 0xff)
		started := false
		k, v := c.Seek(upper)
		if k == nil {
			k, v = c.Last()
		}
		for ; k != nil; k, v = c.Prev() {
			if len(out) >= limit {
				break
			}
			if !bytes.HasPrefix(k, prefix) {
				if started {
					// Walked backward past the first key in this
					// asset's range — nothing more to find.
					break
				}
				// c.Seek(upper) landed past the asset's range (or at
				// end of bucket); keep stepping back until inside it.
				continue
			}
			started = true
			var e domain.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// LatestHeartbeat implements journal.Journal.
func (d *DB) LatestHeartbeat(_ context.Context, assetID string) (time.Time, bool, error) {
	var ts time.Time
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketHeartbeats)).Cursor()
		k, _ := seekLastWithPrefix(c, []byte(assetID+sep))
		if k == nil {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, string(k[len(assetID)+1:]))
		if err != nil {
			return err
		}
		ts = parsed
		found = true
		return nil
	})
	return ts, found, err
}

// HeartbeatHistory implements journal.Journal.
func (d *DB) HeartbeatHistory(_ context.Context, assetID string, limit int) ([]time.Time, error) {
	var out []time.Time
	prefix := []byte(assetID + sep)
	upper := append(append([]byte{}, prefix...), 0xff)
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketHeartbeats)).Cursor()
		started := false
		k, _ := c.Seek(upper)
		if k == nil {
			k, _ = c.Last()
		}
		for ; k != nil && len(out) < limit; k, _ = c.Prev() {
			if !bytes.HasPrefix(k, prefix) {
				if started {
					break
				}
				continue
			}
			started = true
			ts, err := time.Parse(time.RFC3339Nano, string(k[len(prefix):]))
			if err != nil {
				return err
			}
			out = append(out, ts)
		}
		return nil
	})
	return out, err
}
