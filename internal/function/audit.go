package function

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cumulusfn/cumulus/internal/config"
	"github.com/cumulusfn/cumulus/utils"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/net/context"
)

// Outcome of a dispatch, recorded in the audit log and counted in metrics.
type Outcome string

const (
	OutcomeSuccess       Outcome = "Success"
	OutcomeHandledError  Outcome = "HandledError"
	OutcomeTimeout       Outcome = "Timeout"
	OutcomeThrottled     Outcome = "Throttled"
	OutcomeNotFound      Outcome = "NotFound"
	OutcomeInternalError Outcome = "InternalError"
)

// ExecutionRecord is the audit entry written for every dispatch, regardless
// of outcome.
type ExecutionRecord struct {
	ReqId            string
	Function         string
	Version          string
	StartTime        time.Time
	EndTime          time.Time
	DurationMs       int64
	BilledDurationMs int64
	Outcome          Outcome
	ColdStart        bool
}

// AuditSink receives one ExecutionRecord per dispatch.
type AuditSink interface {
	RecordExecution(rec ExecutionRecord) error
}

// EtcdAuditSink stores audit records in etcd under a lease, so old entries
// expire on their own.
type EtcdAuditSink struct{}

func (s *EtcdAuditSink) RecordExecution(rec ExecutionRecord) error {
	cli, err := utils.GetEtcdClient()
	if err != nil {
		return err
	}
	ctx := context.Background()

	ttl := int64(config.GetInt(config.AUDIT_TTL, 3600))
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("could not grant audit lease: %v", err)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("could not marshal execution record: %v", err)
	}

	key := fmt.Sprintf("/execution/%s/%s", rec.Function, rec.ReqId)
	_, err = cli.Put(ctx, key, string(payload), clientv3.WithLease(lease.ID))
	return err
}

// ListExecutions returns the retained audit records of a function.
func ListExecutions(funcName string) ([]ExecutionRecord, error) {
	cli, err := utils.GetEtcdClient()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := cli.Get(ctx, fmt.Sprintf("/execution/%s/", funcName), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	records := make([]ExecutionRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var rec ExecutionRecord
		if err = json.Unmarshal(kv.Value, &rec); err != nil {
			log.Warnf("Skipping corrupted execution record %s: %v", kv.Key, err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// MemoryAuditSink retains records in memory. Used by tests and as a fallback
// when etcd is unreachable at startup.
type MemoryAuditSink struct {
	mu      sync.Mutex
	Records []ExecutionRecord
}

func (s *MemoryAuditSink) RecordExecution(rec ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Records = append(s.Records, rec)
	return nil
}

// Snapshot returns a copy of the retained records.
func (s *MemoryAuditSink) Snapshot() []ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ExecutionRecord, len(s.Records))
	copy(out, s.Records)
	return out
}
