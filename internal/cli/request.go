package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cumulusfn/cumulus/internal/function"
	"github.com/cumulusfn/cumulus/utils"
)

func invoke(cmd *cobra.Command, args []string) {
	if len(funcName) < 1 {
		fmt.Printf("Invalid function name.\n")
		cmd.Help()
		return
	}

	paramsMap := make(map[string]interface{})
	for _, rawParam := range params {
		tokens := strings.Split(rawParam, ":")
		if len(tokens) < 2 {
			cmd.Help()
			return
		}
		paramsMap[tokens[0]] = strings.Join(tokens[1:], ":")
	}

	// Prepare request
	request := function.InvocationRequest{
		Params:    paramsMap,
		Qualifier: qualifier,
		Async:     async,
		LogTail:   logTail,
	}
	invocationBody, err := json.Marshal(request)
	if err != nil {
		cmd.Help()
		return
	}

	// Send invocation request
	url := fmt.Sprintf("http://%s:%d/invoke/%s", ServerConfig.Host, ServerConfig.Port, funcName)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(invocationBody))
	if err != nil {
		fmt.Printf("Invocation failed: %v\n", err)
		os.Exit(2)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		fmt.Printf("Invocation failed: %v\n", resp.Status)
	}
	if verbose {
		if fnErr := resp.Header.Get("X-Amz-Function-Error"); fnErr != "" {
			fmt.Printf("Function error: %s\n", fnErr)
		}
		if version := resp.Header.Get("X-Amz-Executed-Version"); version != "" {
			fmt.Printf("Executed version: %s\n", version)
		}
	}
	utils.PrintJsonResponse(resp.Body)
}

func poll(cmd *cobra.Command, args []string) {
	url := fmt.Sprintf("http://%s:%d/poll/%s", ServerConfig.Host, ServerConfig.Port, args[0])
	resp, err := utils.GetJson(url)
	if err != nil {
		fmt.Printf("Poll failed: %v\n", err)
		os.Exit(2)
	}
	utils.PrintJsonResponse(resp.Body)
}
