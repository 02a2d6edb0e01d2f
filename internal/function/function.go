package function

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cumulusfn/cumulus/internal/cache"
	"github.com/cumulusfn/cumulus/utils"
	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/net/context"
)

// LatestVersion is the implicit mutable version every function has.
const LatestVersion = "$LATEST"

// ReservedUnset marks a function without a reserved concurrency ceiling.
const ReservedUnset = -1

// A serverless Function.
type Function struct {
	FunctionID          uuid.UUID
	Name                string
	Runtime             string  // example: python310
	MemoryMB            int64   // MB
	CPUDemand           float64 // 1.0 -> 1 core
	TimeoutSec          int     // max execution time for one invocation
	Handler             string  // example: "module.function_name"
	TarFunctionCode     string  // base64-encoded tar of the code artifact
	CodeSha256          string  // content hash of the decoded code artifact
	CustomImage         string  // used if custom runtime is chosen
	Env                 map[string]string
	ReservedConcurrency int // per-function ceiling; ReservedUnset if not configured
}

func (f *Function) getEtcdKey() string {
	return getEtcdKey(f.Name)
}

func getEtcdKey(funcName string) string {
	return fmt.Sprintf("/function/%s", funcName)
}

func (f *Function) String() string {
	return f.Name
}

// ComputeCodeSha256 hashes the decoded code artifact. The hash identifies
// published versions, so it must be stable across re-encodings of the tar.
func (f *Function) ComputeCodeSha256() string {
	decoded, err := base64.StdEncoding.DecodeString(f.TarFunctionCode)
	if err != nil {
		decoded = []byte(f.TarFunctionCode)
	}
	return fmt.Sprintf("%x", sha256.Sum256(decoded))
}

// GetFunction retrieves a Function given its name. If it doesn't exist, returns false
func GetFunction(name string) (*Function, bool) {
	val, found := getFromCache(name)
	if !found {
		// cache miss
		f, response := getFromEtcd(name)
		if !response {
			return nil, false
		}
		//insert a new element to the cache
		cache.GetCacheInstance().Set(name, f, cache.DefaultExp)
		return f, true
	}

	return val, true
}

func getFromCache(name string) (*Function, bool) {
	localCache := cache.GetCacheInstance()
	f, found := localCache.Get(name)
	if !found {
		return nil, false
	}
	//cache hit
	//return a safe copy of the function previously obtained
	function := *f.(*Function)
	return &function, true
}

func getFromEtcd(name string) (*Function, bool) {
	cli, err := utils.GetEtcdClient()
	if err != nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	getResponse, err := cli.Get(ctx, getEtcdKey(name))
	if err != nil || len(getResponse.Kvs) < 1 {
		return nil, false
	}

	var f Function
	err = json.Unmarshal(getResponse.Kvs[0].Value, &f)
	if err != nil {
		return nil, false
	}

	return &f, true
}

// SaveToEtcd registers the function to Etcd
func (f *Function) SaveToEtcd() error {
	cli, err := utils.GetEtcdClient()
	if err != nil {
		return err
	}
	ctx := context.TODO()

	if f.FunctionID == uuid.Nil {
		f.FunctionID = uuid.New()
	}
	if f.ReservedConcurrency == 0 {
		f.ReservedConcurrency = ReservedUnset
	}
	f.CodeSha256 = f.ComputeCodeSha256()

	payload, err := json.Marshal(*f)
	if err != nil {
		return fmt.Errorf("could not marshal function: %v", err)
	}
	_, err = cli.Put(ctx, f.getEtcdKey(), string(payload))
	if err != nil {
		return fmt.Errorf("failed Put: %v", err)
	}

	// Add the function to the local cache
	cache.GetCacheInstance().Set(f.Name, f, cache.DefaultExp)

	return nil
}

// Delete removes a function, all its published versions and aliases from Etcd
// and the local cache.
func (f *Function) Delete() error {
	cli, err := utils.GetEtcdClient()
	if err != nil {
		return err
	}
	ctx := context.TODO()

	dresp, err := cli.Delete(ctx, f.getEtcdKey())
	if err != nil {
		return fmt.Errorf("failed Delete: %v", err)
	} else if dresp.Deleted != 1 {
		return fmt.Errorf("no function with key '%s' exists", f.getEtcdKey())
	}

	// versions and aliases are owned by the function and die with it; both
	// deletes are attempted before reporting the first failure
	_, verr := cli.Delete(ctx, versionPrefix(f.Name), clientv3.WithPrefix())
	_, aerr := cli.Delete(ctx, aliasPrefix(f.Name), clientv3.WithPrefix())
	if err := utils.ReturnNonNilErr(verr, aerr); err != nil {
		return fmt.Errorf("failed cleanup Delete: %v", err)
	}

	// Remove the function from the local cache
	cache.GetCacheInstance().Delete(f.Name)

	return nil
}

func (f *Function) Equals(f2 *Function) bool {
	if f == nil || f2 == nil {
		return f == f2
	}
	return f.Name == f2.Name &&
		f.CustomImage == f2.CustomImage &&
		f.CPUDemand == f2.CPUDemand &&
		f.Runtime == f2.Runtime &&
		f.Handler == f2.Handler &&
		f.MemoryMB == f2.MemoryMB &&
		f.TimeoutSec == f2.TimeoutSec &&
		f.CodeSha256 == f2.CodeSha256
}

// Exists checks if the function is already saved to Etcd
func (f *Function) Exists() bool {
	savedFunction, ok := GetFunction(f.Name)
	return ok && f.Equals(savedFunction)
}

// GetAll returns all function names
func GetAll() ([]string, error) {
	return GetAllWithPrefix("/function")
}

// GetAllWithPrefix returns the keys under a given etcd prefix, stripped of it.
func GetAllWithPrefix(prefix string) ([]string, error) {
	cli, err := utils.GetEtcdClient()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.TODO(), 10*time.Second)
	defer cancel()

	resp, err := cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	functions := make([]string, len(resp.Kvs))
	for i, s := range resp.Kvs {
		functions[i] = string(s.Key)[len(prefix+"/"):]
	}

	return functions, ctx.Err()
}
