package function

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cumulusfn/cumulus/utils"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/net/context"
)

// A FunctionVersion is an immutable, content-addressed snapshot of a function
// taken at publish time. Invocations may target it directly by number or
// through an Alias. It is never mutated and is deleted only with the owning
// function.
type FunctionVersion struct {
	Function    // configuration snapshot at publish time
	Version     string
	PublishedAt time.Time
}

func versionPrefix(funcName string) string {
	return fmt.Sprintf("/version/%s", funcName)
}

func getVersionEtcdKey(funcName, version string) string {
	return fmt.Sprintf("%s/%s", versionPrefix(funcName), version)
}

// Publish snapshots the current configuration and code of f as a new
// immutable version. Version names are increasing integers starting at 1.
// Publishing identical code twice returns the existing version instead of
// minting a new one.
func (f *Function) Publish() (*FunctionVersion, error) {
	versions, err := ListVersions(f.Name)
	if err != nil {
		return nil, err
	}

	sha := f.ComputeCodeSha256()
	next := 1
	for _, v := range versions {
		if v.CodeSha256 == sha && v.Function.Equals(f) {
			return &v, nil
		}
		n, err := strconv.Atoi(v.Version)
		if err == nil && n >= next {
			next = n + 1
		}
	}

	fv := &FunctionVersion{
		Function:    *f,
		Version:     strconv.Itoa(next),
		PublishedAt: time.Now(),
	}
	fv.CodeSha256 = sha

	cli, err := utils.GetEtcdClient()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(*fv)
	if err != nil {
		return nil, fmt.Errorf("could not marshal version: %v", err)
	}
	_, err = cli.Put(context.TODO(), getVersionEtcdKey(f.Name, fv.Version), string(payload))
	if err != nil {
		return nil, fmt.Errorf("failed Put: %v", err)
	}
	return fv, nil
}

// GetVersion retrieves a published version of a function.
func GetVersion(funcName, version string) (*FunctionVersion, bool) {
	cli, err := utils.GetEtcdClient()
	if err != nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := cli.Get(ctx, getVersionEtcdKey(funcName, version))
	if err != nil || len(resp.Kvs) < 1 {
		return nil, false
	}

	var fv FunctionVersion
	if err = json.Unmarshal(resp.Kvs[0].Value, &fv); err != nil {
		return nil, false
	}
	return &fv, true
}

// ListVersions returns all published versions of a function, oldest first.
func ListVersions(funcName string) ([]FunctionVersion, error) {
	cli, err := utils.GetEtcdClient()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := cli.Get(ctx, versionPrefix(funcName)+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	versions := make([]FunctionVersion, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var fv FunctionVersion
		if err = json.Unmarshal(kv.Value, &fv); err != nil {
			return nil, fmt.Errorf("corrupted version record %s: %v", kv.Key, err)
		}
		versions = append(versions, fv)
	}
	sort.Slice(versions, func(i, j int) bool {
		a, _ := strconv.Atoi(versions[i].Version)
		b, _ := strconv.Atoi(versions[j].Version)
		return a < b
	})
	return versions, nil
}

// Resolve maps a qualifier (empty, "$LATEST", a version number or an alias
// name) to the function snapshot an invocation should run against. The
// returned label is the concrete version the invocation executed
// ("$LATEST" or a number), reported back to the caller.
func Resolve(funcName, qualifier string) (*Function, string, bool) {
	if qualifier == "" || qualifier == LatestVersion {
		f, ok := GetFunction(funcName)
		return f, LatestVersion, ok
	}

	versionLabel := qualifier
	if _, err := strconv.Atoi(qualifier); err != nil {
		alias, ok := GetAlias(funcName, qualifier)
		if !ok {
			return nil, "", false
		}
		versionLabel = alias.Version
	}

	fv, ok := GetVersion(funcName, versionLabel)
	if !ok {
		return nil, "", false
	}
	current, _ := GetFunction(funcName)
	return withLiveConcurrency(fv.Function, current), fv.Version, true
}

// withLiveConcurrency applies the function-scoped reserved ceiling to a
// published snapshot. Versions freeze code and configuration, but the
// reserved ceiling belongs to the function and follows its live record, so
// every qualifier shares one concurrency budget.
func withLiveConcurrency(snapshot Function, current *Function) *Function {
	if current != nil {
		snapshot.ReservedConcurrency = current.ReservedConcurrency
	}
	return &snapshot
}
