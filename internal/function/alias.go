package function

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cumulusfn/cumulus/utils"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/net/context"
)

// An Alias is a mutable name pointing at a published version of a function.
type Alias struct {
	Name        string
	Function    string
	Version     string
	Description string
}

func aliasPrefix(funcName string) string {
	return fmt.Sprintf("/alias/%s", funcName)
}

func getAliasEtcdKey(funcName, alias string) string {
	return fmt.Sprintf("%s/%s", aliasPrefix(funcName), alias)
}

// Save creates or updates the alias. The target version must exist.
func (a *Alias) Save() error {
	if _, ok := GetVersion(a.Function, a.Version); !ok {
		return fmt.Errorf("version '%s' of function '%s' does not exist", a.Version, a.Function)
	}

	cli, err := utils.GetEtcdClient()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(*a)
	if err != nil {
		return fmt.Errorf("could not marshal alias: %v", err)
	}
	_, err = cli.Put(context.TODO(), getAliasEtcdKey(a.Function, a.Name), string(payload))
	if err != nil {
		return fmt.Errorf("failed Put: %v", err)
	}
	return nil
}

// DeleteAlias removes an alias of a function.
func DeleteAlias(funcName, alias string) error {
	cli, err := utils.GetEtcdClient()
	if err != nil {
		return err
	}
	dresp, err := cli.Delete(context.TODO(), getAliasEtcdKey(funcName, alias))
	if err != nil {
		return fmt.Errorf("failed Delete: %v", err)
	}
	if dresp.Deleted != 1 {
		return fmt.Errorf("no alias '%s' for function '%s'", alias, funcName)
	}
	return nil
}

// GetAlias retrieves an alias of a function.
func GetAlias(funcName, alias string) (*Alias, bool) {
	cli, err := utils.GetEtcdClient()
	if err != nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := cli.Get(ctx, getAliasEtcdKey(funcName, alias))
	if err != nil || len(resp.Kvs) < 1 {
		return nil, false
	}

	var a Alias
	if err = json.Unmarshal(resp.Kvs[0].Value, &a); err != nil {
		return nil, false
	}
	return &a, true
}

// ListAliases returns all aliases of a function.
func ListAliases(funcName string) ([]Alias, error) {
	cli, err := utils.GetEtcdClient()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := cli.Get(ctx, aliasPrefix(funcName)+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	aliases := make([]Alias, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var a Alias
		if err = json.Unmarshal(kv.Value, &a); err != nil {
			return nil, fmt.Errorf("corrupted alias record %s: %v", kv.Key, err)
		}
		aliases = append(aliases, a)
	}
	return aliases, nil
}

// SetReservedConcurrency updates the per-function reserved ceiling.
// Pass ReservedUnset to remove the reservation. A reservation of 0 is not
// representable (0 decodes as "field absent"); delete the function instead of
// blocking it.
func SetReservedConcurrency(funcName string, reserved int) error {
	if reserved != ReservedUnset && reserved < 1 {
		return fmt.Errorf("reserved concurrency must be >= 1")
	}
	f, ok := GetFunction(funcName)
	if !ok {
		return fmt.Errorf("function '%s' does not exist", funcName)
	}
	f.ReservedConcurrency = reserved
	return f.SaveToEtcd()
}
