package scheduling

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/net/context"

	"github.com/cumulusfn/cumulus/internal/config"
	"github.com/cumulusfn/cumulus/internal/function"
	"github.com/cumulusfn/cumulus/utils"
)

// PublishAsyncResponse stores the result of an async invocation under a
// lease, so unclaimed results expire on their own.
func PublishAsyncResponse(reqId string, response function.Response) {
	etcdClient, err := utils.GetEtcdClient()
	if err != nil {
		log.Errorf("etcd client not available: %v", err)
		return
	}

	ctx := context.Background()

	ttl := int64(config.GetInt(config.ASYNC_RESULT_TTL, 1800))
	resp, err := etcdClient.Grant(ctx, ttl)
	if err != nil {
		log.Errorf("Could not grant async result lease: %v", err)
		return
	}

	key := fmt.Sprintf("async/%s", reqId)
	payload, err := json.Marshal(response)
	if err != nil {
		log.Errorf("Could not marshal response: %v", err)
		return
	}

	_, err = etcdClient.Put(ctx, key, string(payload), clientv3.WithLease(resp.ID))
	if err != nil {
		log.Errorf("Could not store async result: %v", err)
	}
}
