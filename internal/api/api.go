package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/cumulusfn/cumulus/internal/config"
	"github.com/cumulusfn/cumulus/internal/container"
	"github.com/cumulusfn/cumulus/internal/function"
	"github.com/cumulusfn/cumulus/internal/node"
	"github.com/cumulusfn/cumulus/internal/scheduling"
	"github.com/cumulusfn/cumulus/utils"
)

// Response headers set on invocation results.
const (
	HeaderExecutedVersion = "X-Amz-Executed-Version"
	HeaderFunctionError   = "X-Amz-Function-Error"
)

var requestsPool = sync.Pool{
	New: func() any {
		return new(function.Request)
	},
}

// GetFunctions handles a request to list the functions available in the system.
func GetFunctions(c echo.Context) error {
	list, err := function.GetAll()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "")
	}
	return c.JSON(http.StatusOK, list)
}

// InvokeFunction handles a function invocation request. The optional
// qualifier selects a published version or alias; without one, $LATEST runs.
//
// Timeouts and handled function errors still return 200: the invocation
// itself worked, the failure belongs to the function and is flagged through
// the function error header.
func InvokeFunction(c echo.Context) error {
	funcName := c.Param("fun")

	var invocationRequest function.InvocationRequest
	err := json.NewDecoder(c.Request().Body).Decode(&invocationRequest)
	if err != nil && err != io.EOF {
		log.Debugf("Could not parse request: %v", err)
		return c.String(http.StatusBadRequest, "could not parse request")
	}

	arrival := time.Now()
	reqId := shortuuid.New()

	fun, version, ok := function.Resolve(funcName, invocationRequest.Qualifier)
	if !ok {
		log.Debugf("Dropping request for unknown function '%s' (qualifier %q)",
			funcName, invocationRequest.Qualifier)
		scheduling.RecordRejection(reqId, funcName, invocationRequest.Qualifier,
			arrival, function.OutcomeNotFound)
		return c.JSON(http.StatusNotFound, "")
	}

	timeoutSec := fun.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = config.GetInt(config.DEFAULT_FUNCTION_TIMEOUT, 30)
	}

	var r *function.Request
	if invocationRequest.Async {
		// async requests outlive the handler, so they cannot come from the pool
		r = new(function.Request)
	} else {
		r = requestsPool.Get().(*function.Request)
		defer requestsPool.Put(r)
	}
	r.ReqId = reqId
	r.Fun = fun
	r.Version = version
	r.Params = invocationRequest.Params
	r.Arrival = arrival
	r.Deadline = arrival.Add(time.Duration(timeoutSec) * time.Second)
	r.Async = invocationRequest.Async
	r.LogTail = invocationRequest.LogTail
	r.ExecReport = function.ExecutionReport{}

	if r.Async {
		scheduling.SubmitAsyncRequest(r)
		return c.JSON(http.StatusAccepted, function.AsyncResponse{ReqId: r.ReqId})
	}

	err = scheduling.SubmitRequest(r)

	switch {
	case err == nil:
		h := c.Response().Header()
		h.Set(HeaderExecutedVersion, r.ExecReport.ExecutedVersion)
		if r.ExecReport.FunctionError != "" {
			h.Set(HeaderFunctionError, r.ExecReport.FunctionError)
		}
		return c.JSON(http.StatusOK, function.Response{
			Success:         r.ExecReport.FunctionError == "",
			ExecutionReport: r.ExecReport,
		})
	case errors.Is(err, scheduling.ErrTimeout):
		h := c.Response().Header()
		h.Set(HeaderExecutedVersion, r.ExecReport.ExecutedVersion)
		h.Set(HeaderFunctionError, "Unhandled")
		return c.JSON(http.StatusOK, function.Response{
			Success:         false,
			ExecutionReport: r.ExecReport,
		})
	case errors.Is(err, scheduling.ErrThrottled), errors.Is(err, node.OutOfResourcesErr):
		return c.String(http.StatusTooManyRequests, "")
	case errors.Is(err, scheduling.ErrNotFound):
		return c.JSON(http.StatusNotFound, "")
	default:
		log.Errorf("Invocation %s failed: %v", reqId, err)
		return c.String(http.StatusInternalServerError, "")
	}
}

// PollAsyncResult checks for the result of an asynchronous invocation.
func PollAsyncResult(c echo.Context) error {
	reqId := c.Param("reqId")
	if reqId == "" {
		return c.JSON(http.StatusNotFound, "")
	}

	etcdClient, err := utils.GetEtcdClient()
	if err != nil {
		log.Errorf("Could not connect to etcd: %v", err)
		return c.JSON(http.StatusInternalServerError, "")
	}

	ctx := context.Background()

	key := fmt.Sprintf("async/%s", reqId)
	res, err := etcdClient.Get(ctx, key)
	if err != nil {
		log.Errorf("%v", err)
		return c.JSON(http.StatusInternalServerError, "")
	}

	if len(res.Kvs) == 1 {
		payload := res.Kvs[0].Value
		return c.JSONBlob(http.StatusOK, payload)
	}
	return c.JSON(http.StatusNotFound, "request not found")
}

// CreateFunction handles a function creation request.
func CreateFunction(c echo.Context) error {
	var f function.Function
	err := json.NewDecoder(c.Request().Body).Decode(&f)
	if err != nil && err != io.EOF {
		log.Debugf("Could not parse request: %v", err)
		return c.String(http.StatusBadRequest, "could not parse request")
	}

	_, ok := function.GetFunction(f.Name) // TODO: we would need a system-wide lock here...
	if ok {
		log.Debugf("Dropping request for already existing function '%s'", f.Name)
		return c.JSON(http.StatusConflict, "")
	}

	log.Infof("New request: creation of %s", f.Name)

	// Check that the selected runtime exists
	if f.Runtime != container.CUSTOM_RUNTIME {
		_, ok := container.RuntimeToInfo[f.Runtime]
		if !ok {
			return c.JSON(http.StatusNotFound, "Invalid runtime.")
		}
	}

	err = f.SaveToEtcd()
	if err != nil {
		log.Errorf("Failed creation: %v", err)
		return c.JSON(http.StatusServiceUnavailable, "")
	}
	response := struct{ Created string }{f.Name}
	return c.JSON(http.StatusOK, response)
}

// UpdateFunction replaces the stored $LATEST definition of a function.
func UpdateFunction(c echo.Context) error {
	var f function.Function
	err := json.NewDecoder(c.Request().Body).Decode(&f)
	if err != nil && err != io.EOF {
		return c.String(http.StatusBadRequest, "could not parse request")
	}

	old, ok := function.GetFunction(f.Name)
	if !ok {
		return c.JSON(http.StatusNotFound, "")
	}
	f.FunctionID = old.FunctionID
	f.ReservedConcurrency = old.ReservedConcurrency

	if err = f.SaveToEtcd(); err != nil {
		log.Errorf("Failed update: %v", err)
		return c.JSON(http.StatusServiceUnavailable, "")
	}

	// existing warm containers run stale code, drop them
	node.ShutdownWarmContainersFor(f.Name)

	response := struct{ Updated string }{f.Name}
	return c.JSON(http.StatusOK, response)
}

// DeleteFunction handles a function deletion request. Versions and aliases
// of the function are deleted with it.
func DeleteFunction(c echo.Context) error {
	var f function.Function
	err := json.NewDecoder(c.Request().Body).Decode(&f)
	if err != nil && err != io.EOF {
		log.Debugf("Could not parse request: %v", err)
		return c.String(http.StatusBadRequest, "could not parse request")
	}

	fun, ok := function.GetFunction(f.Name)
	if !ok {
		log.Debugf("Dropping request for non existing function '%s'", f.Name)
		return c.JSON(http.StatusNotFound, "")
	}

	log.Infof("New request: deleting %s", fun.Name)
	err = fun.Delete()
	if err != nil {
		log.Errorf("Failed deletion: %v", err)
		return c.JSON(http.StatusServiceUnavailable, "")
	}

	// Delete local warm containers
	node.ShutdownWarmContainersFor(fun.Name)

	response := struct{ Deleted string }{fun.Name}
	return c.JSON(http.StatusOK, response)
}

// PublishVersion snapshots the current $LATEST of a function as an immutable
// numbered version.
func PublishVersion(c echo.Context) error {
	funcName := c.Param("fun")
	fun, ok := function.GetFunction(funcName)
	if !ok {
		return c.JSON(http.StatusNotFound, "")
	}

	fv, err := fun.Publish()
	if err != nil {
		log.Errorf("Failed publish for %s: %v", funcName, err)
		return c.JSON(http.StatusServiceUnavailable, "")
	}
	return c.JSON(http.StatusOK, fv)
}

// ListVersions returns the published versions of a function.
func ListVersions(c echo.Context) error {
	funcName := c.Param("fun")
	if _, ok := function.GetFunction(funcName); !ok {
		return c.JSON(http.StatusNotFound, "")
	}
	versions, err := function.ListVersions(funcName)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, "")
	}
	return c.JSON(http.StatusOK, versions)
}

// CreateAlias points a named alias at a published version.
func CreateAlias(c echo.Context) error {
	funcName := c.Param("fun")
	var alias function.Alias
	err := json.NewDecoder(c.Request().Body).Decode(&alias)
	if err != nil && err != io.EOF {
		return c.String(http.StatusBadRequest, "could not parse request")
	}
	alias.Function = funcName

	if err := alias.Save(); err != nil {
		log.Debugf("Failed alias creation: %v", err)
		return c.JSON(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, alias)
}

// DeleteAlias removes an alias.
func DeleteAlias(c echo.Context) error {
	funcName := c.Param("fun")
	aliasName := c.Param("alias")
	if err := function.DeleteAlias(funcName, aliasName); err != nil {
		return c.JSON(http.StatusNotFound, "")
	}
	response := struct{ Deleted string }{aliasName}
	return c.JSON(http.StatusOK, response)
}

// ListAliases returns the aliases of a function.
func ListAliases(c echo.Context) error {
	funcName := c.Param("fun")
	aliases, err := function.ListAliases(funcName)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, "")
	}
	return c.JSON(http.StatusOK, aliases)
}

// SetConcurrency sets or clears the reserved concurrency of a function.
func SetConcurrency(c echo.Context) error {
	funcName := c.Param("fun")
	var req struct{ Reserved int }
	err := json.NewDecoder(c.Request().Body).Decode(&req)
	if err != nil && err != io.EOF {
		return c.String(http.StatusBadRequest, "could not parse request")
	}

	if err := function.SetReservedConcurrency(funcName, req.Reserved); err != nil {
		log.Debugf("Failed concurrency update: %v", err)
		return c.JSON(http.StatusBadRequest, err.Error())
	}
	response := struct {
		Function string
		Reserved int
	}{funcName, req.Reserved}
	return c.JSON(http.StatusOK, response)
}

// Prewarm starts warm containers for a function ahead of traffic.
func Prewarm(c echo.Context) error {
	var req struct {
		Function  string
		Qualifier string
		Count     int
	}
	err := json.NewDecoder(c.Request().Body).Decode(&req)
	if err != nil && err != io.EOF {
		return c.String(http.StatusBadRequest, "could not parse request")
	}
	if req.Count <= 0 {
		req.Count = 1
	}

	fun, version, ok := function.Resolve(req.Function, req.Qualifier)
	if !ok {
		return c.JSON(http.StatusNotFound, "")
	}

	created := scheduling.Prewarm(fun, version, req.Count)
	response := struct {
		Function string
		Created  int
	}{fun.Name, created}
	return c.JSON(http.StatusOK, response)
}

// Drain scales a function to zero, destroying its idle and stopped
// containers. Busy containers finish their current invocation.
func Drain(c echo.Context) error {
	funcName := c.Param("fun")
	if _, ok := function.GetFunction(funcName); !ok {
		return c.JSON(http.StatusNotFound, "")
	}
	removed := node.ShutdownWarmContainersFor(funcName)
	response := struct {
		Function string
		Removed  int
	}{funcName, removed}
	return c.JSON(http.StatusOK, response)
}

// GetPoolStatus reports the contents of the container pools.
func GetPoolStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, node.PoolSnapshot())
}

// GetExecutions returns the retained audit records of a function.
func GetExecutions(c echo.Context) error {
	funcName := c.Param("fun")
	records, err := function.ListExecutions(funcName)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, "")
	}
	return c.JSON(http.StatusOK, records)
}

// GetServerStatus simple api to check the current server status
func GetServerStatus(c echo.Context) error {
	warmStatus := node.WarmStatus()
	node.Resources.RLock()
	defer node.Resources.RUnlock()
	portNumber := config.GetInt(config.API_PORT, 1323)
	url := fmt.Sprintf("http://%s:%d", utils.GetIpAddress().String(), portNumber)
	response := StatusInformation{
		Url:                     url,
		AvailableWarmContainers: warmStatus,
		AvailableMemMB:          node.Resources.AvailableMemMB,
		AvailableCPUs:           node.Resources.AvailableCPUs,
		MaxMemMB:                node.Resources.MaxMemMB,
		MaxCPUs:                 node.Resources.MaxCPUs,
		RequestsCount:           node.Resources.RequestsCount,
	}

	return c.JSON(http.StatusOK, response)
}
