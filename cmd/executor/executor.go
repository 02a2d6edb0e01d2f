// The executor is the in-container runtime client. It long-polls the host's
// runtime API for invocations, runs the configured handler process for each
// one and posts the result back. It is kept dependency-free so it can be
// baked into minimal runtime images.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const resultFile = "/tmp/result.json"
const paramsFile = "/tmp/params.json"

func main() {
	apiURL := os.Getenv("RUNTIME_API")
	instanceID := os.Getenv("INSTANCE_ID")
	if apiURL == "" || instanceID == "" {
		log.Fatal("RUNTIME_API and INSTANCE_ID must be set")
	}

	client := &http.Client{} // no timeout: the next-invocation call long-polls

	for {
		inv, err := nextInvocation(client, apiURL, instanceID)
		if err != nil {
			log.Printf("poll failed: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if inv == nil {
			// long poll window elapsed without work
			continue
		}

		result, errorType := runHandler(inv)
		if errorType == "" {
			postResult(client, apiURL, inv.reqID, result)
		} else {
			postError(client, apiURL, inv.reqID, result, errorType)
		}
	}
}

type invocation struct {
	reqID      string
	deadlineMs int64
	handler    string
	handlerDir string
	payload    []byte
}

func nextInvocation(client *http.Client, apiURL, instanceID string) (*invocation, error) {
	req, err := http.NewRequest(http.MethodGet, apiURL+"/2018-06-01/runtime/invocation/next", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Instance-Id", instanceID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	deadlineMs, _ := strconv.ParseInt(resp.Header.Get("Lambda-Runtime-Deadline-Ms"), 10, 64)
	return &invocation{
		reqID:      resp.Header.Get("Lambda-Runtime-Aws-Request-Id"),
		deadlineMs: deadlineMs,
		handler:    resp.Header.Get("X-Handler"),
		handlerDir: resp.Header.Get("X-Handler-Dir"),
		payload:    payload,
	}, nil
}

// runHandler executes the handler process for one invocation. Returns the
// result body and an empty error type on success, or the error body and
// "Handled"/"Unhandled".
func runHandler(inv *invocation) (string, string) {
	if err := os.WriteFile(paramsFile, inv.payload, 0644); err != nil {
		return errorBody(err.Error(), "Runtime.ParamsWriteFailed"), "Unhandled"
	}
	os.Remove(resultFile)

	ctx := context.Background()
	if inv.deadlineMs > 0 {
		deadline := time.UnixMilli(inv.deadlineMs)
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	handlerPath := inv.handler
	if !strings.HasPrefix(handlerPath, "/") {
		handlerPath = inv.handlerDir + "/" + inv.handler
	}

	cmd := exec.CommandContext(ctx, handlerPath)
	cmd.Env = append(os.Environ(),
		"PARAMS_FILE="+paramsFile,
		"RESULT_FILE="+resultFile,
		"HANDLER="+inv.handler,
		"HANDLER_DIR="+inv.handlerDir,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		log.Printf("handler failed: %v\noutput:\n%s", err, string(out))
		if content, readErr := os.ReadFile(resultFile); readErr == nil && len(content) > 0 {
			// the function reported its own error before exiting
			return string(content), "Handled"
		}
		return errorBody(err.Error(), "Runtime.ExitError"), "Unhandled"
	}

	content, err := os.ReadFile(resultFile)
	if err != nil {
		return errorBody("handler produced no result", "Runtime.NoResult"), "Unhandled"
	}
	return string(content), ""
}

func errorBody(message, errorType string) string {
	return fmt.Sprintf(`{"errorMessage": %q, "errorType": %q}`, message, errorType)
}

func postResult(client *http.Client, apiURL, reqID, body string) {
	url := fmt.Sprintf("%s/2018-06-01/runtime/invocation/%s/response", apiURL, reqID)
	resp, err := client.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		log.Printf("could not post result: %v", err)
		return
	}
	resp.Body.Close()
}

func postError(client *http.Client, apiURL, reqID, body, errorType string) {
	url := fmt.Sprintf("%s/2018-06-01/runtime/invocation/%s/error", apiURL, reqID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Lambda-Runtime-Function-Error-Type", errorType)
	resp, err := client.Do(req)
	if err != nil {
		log.Printf("could not post error: %v", err)
		return
	}
	resp.Body.Close()
}
