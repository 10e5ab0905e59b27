package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleStore keeps records in an embedded pebble database. Keys are laid
// out so one session's records of one kind form a contiguous range:
//
//	trade/<session>/<executedAt ns>/<trade id>
//	order/<session>/<order id>
//	grant/<session>/<seq>
type PebbleStore struct {
	db *pebble.DB
}

func OpenPebble(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func (p *PebbleStore) Close() error {
	return p.db.Close()
}

func (p *PebbleStore) SaveTrade(_ context.Context, t TradeRecord) error {
	key := fmt.Sprintf("trade/%s/%020d/%s", t.SessionID, t.ExecutedAt.UnixNano(), t.TradeID)
	return p.put(key, t)
}

func (p *PebbleStore) SaveOrder(_ context.Context, o OrderRecord) error {
	return p.put(fmt.Sprintf("order/%s/%s", o.SessionID, o.OrderID), o)
}

func (p *PebbleStore) SaveGrant(_ context.Context, g GrantRecord) error {
	return p.put(fmt.Sprintf("grant/%s/%020d", g.SessionID, g.Seq), g)
}

func (p *PebbleStore) Trades(_ context.Context, sessionID string) ([]TradeRecord, error) {
	return scan[TradeRecord](p.db, "trade/"+sessionID+"/")
}

func (p *PebbleStore) Orders(_ context.Context, sessionID string) ([]OrderRecord, error) {
	return scan[OrderRecord](p.db, "order/"+sessionID+"/")
}

func (p *PebbleStore) Grants(_ context.Context, sessionID string) ([]GrantRecord, error) {
	return scan[GrantRecord](p.db, "grant/"+sessionID+"/")
}

func (p *PebbleStore) put(key string, v any) error {
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return p.db.Set([]byte(key), val, pebble.Sync)
}

func scan[T any](db *pebble.DB, prefix string) ([]T, error) {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "~"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []T
	for iter.First(); iter.Valid(); iter.Next() {
		var rec T
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}
