package consul

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/adammck/rover/pkg/api"
	capi "github.com/hashicorp/consul/api"
	"github.com/rs/zerolog/log"
)

// kvAPI is the subset of the Consul KV API which the persister uses.
type kvAPI interface {
	List(prefix string, q *capi.QueryOptions) (capi.KVPairs, *capi.QueryMeta, error)
	Get(key string, q *capi.QueryOptions) (*capi.KVPair, *capi.QueryMeta, error)
	Txn(txn capi.KVTxnOps, q *capi.QueryOptions) (bool, *capi.KVTxnResponse, *capi.QueryMeta, error)
}

type Persister struct {
	kv     kvAPI
	prefix string

	// keep track of the last ModifyIndex for each unit, so that writes are
	// CAS'd against what we last read or wrote. A mismatch means that another
	// registry is writing to the same prefix, which is a deployment error.
	modifyIndex map[api.UnitID]uint64

	// guards modifyIndex
	sync.Mutex
}

func New(client *capi.Client, prefix string) *Persister {
	return newPersister(client.KV(), prefix)
}

func newPersister(kv kvAPI, prefix string) *Persister {
	return &Persister{
		kv:          kv,
		prefix:      strings.Trim(prefix, "/"),
		modifyIndex: map[api.UnitID]uint64{},
	}
}

// record is the JSON representation of api.Record in Consul.
type record struct {
	Unit    string `json:"unit"`
	Host    string `json:"host"`
	Version uint64 `json:"version"`
}

func (cp *Persister) key(id api.UnitID) string {
	return fmt.Sprintf("%s/units/%s", cp.prefix, id)
}

func (cp *Persister) GetRecords() ([]api.Record, error) {
	pairs, _, err := cp.kv.List(cp.prefix+"/units/", nil)
	if err != nil {
		return nil, err
	}

	out := []api.Record{}

	cp.Lock()
	defer cp.Unlock()

	for _, kv := range pairs {
		s := strings.Split(kv.Key, "/")
		id := api.UnitID(s[len(s)-1])

		r := record{}
		if err := json.Unmarshal(kv.Value, &r); err != nil {
			log.Warn().Err(err).Str("key", kv.Key).Msg("invalid record in consul")
			continue
		}

		if api.UnitID(r.Unit) != id {
			log.Warn().Str("key", kv.Key).Str("unit", r.Unit).Msg("mismatch between consul key and encoded record")
			continue
		}

		cp.modifyIndex[id] = kv.ModifyIndex

		out = append(out, api.Record{
			Unit: id,
			Handle: api.Handle{
				Unit: id,
				Host: api.HostID(r.Host),
			},
			Version: api.Version(r.Version),
		})
	}

	return out, nil
}

func (cp *Persister) PutRecord(rec api.Record) error {
	cp.Lock()
	defer cp.Unlock()

	v, err := json.Marshal(record{
		Unit:    string(rec.Unit),
		Host:    string(rec.Handle.Host),
		Version: uint64(rec.Version),
	})
	if err != nil {
		return err
	}

	// Index zero means that the key must not exist yet.
	op := &capi.KVTxnOp{
		Verb:  capi.KVCAS,
		Key:   cp.key(rec.Unit),
		Value: v,
		Index: cp.modifyIndex[rec.Unit],
	}

	ok, res, _, err := cp.kv.Txn(capi.KVTxnOps{op}, nil)
	if err != nil {
		// The txn might have been applied anyway.
		cp.refresh(rec.Unit)
		return err
	}
	if !ok {
		msgs := make([]string, len(res.Errors))
		for i, e := range res.Errors {
			msgs[i] = e.What
		}
		cp.refresh(rec.Unit)
		return fmt.Errorf("consul txn rejected: %s", strings.Join(msgs, "; "))
	}
	if len(res.Results) != 1 {
		return fmt.Errorf("expected 1 result from Txn, got %d", len(res.Results))
	}

	cp.modifyIndex[rec.Unit] = res.Results[0].ModifyIndex

	return nil
}

// refresh re-reads the current ModifyIndex of the given unit's key after a
// write failed, so that the next write is CAS'd against what's really there.
// Caller must hold the lock.
func (cp *Persister) refresh(id api.UnitID) {
	pair, _, err := cp.kv.Get(cp.key(id), nil)
	if err != nil {
		log.Warn().Err(err).Str("unit", id.String()).Msg("error refreshing modify index")
		return
	}

	if pair == nil {
		delete(cp.modifyIndex, id)
		return
	}

	cp.modifyIndex[id] = pair.ModifyIndex
}
