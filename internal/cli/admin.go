package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/cumulusfn/cumulus/internal/function"
	"github.com/cumulusfn/cumulus/utils"
)

func publish(cmd *cobra.Command, args []string) {
	if funcName == "" {
		cmd.Help()
		os.Exit(1)
	}
	url := fmt.Sprintf("http://%s:%d/publish/%s", ServerConfig.Host, ServerConfig.Port, funcName)
	resp, err := utils.PostJson(url, nil)
	if err != nil {
		fmt.Printf("Publish failed: %v\n", err)
		os.Exit(2)
	}
	utils.PrintJsonResponse(resp.Body)
}

func versions(cmd *cobra.Command, args []string) {
	if funcName == "" {
		cmd.Help()
		os.Exit(1)
	}
	url := fmt.Sprintf("http://%s:%d/versions/%s", ServerConfig.Host, ServerConfig.Port, funcName)
	resp, err := utils.GetJson(url)
	if err != nil {
		fmt.Printf("Request failed: %v\n", err)
		os.Exit(2)
	}
	utils.PrintJsonResponse(resp.Body)
}

func createAlias(cmd *cobra.Command, args []string) {
	if funcName == "" || aliasName == "" || qualifier == "" {
		cmd.Help()
		os.Exit(1)
	}
	request := function.Alias{
		Name:        aliasName,
		Version:     qualifier,
		Description: description,
	}
	requestBody, err := json.Marshal(request)
	if err != nil {
		cmd.Help()
		os.Exit(1)
	}
	url := fmt.Sprintf("http://%s:%d/alias/%s", ServerConfig.Host, ServerConfig.Port, funcName)
	resp, err := utils.PostJson(url, requestBody)
	if err != nil {
		fmt.Printf("Alias creation failed: %v\n", err)
		os.Exit(2)
	}
	utils.PrintJsonResponse(resp.Body)
}

func listAliases(cmd *cobra.Command, args []string) {
	if funcName == "" {
		cmd.Help()
		os.Exit(1)
	}
	url := fmt.Sprintf("http://%s:%d/alias/%s", ServerConfig.Host, ServerConfig.Port, funcName)
	resp, err := utils.GetJson(url)
	if err != nil {
		fmt.Printf("Request failed: %v\n", err)
		os.Exit(2)
	}
	utils.PrintJsonResponse(resp.Body)
}

func deleteAlias(cmd *cobra.Command, args []string) {
	if funcName == "" || aliasName == "" {
		cmd.Help()
		os.Exit(1)
	}
	url := fmt.Sprintf("http://%s:%d/alias/%s/%s", ServerConfig.Host, ServerConfig.Port, funcName, aliasName)
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		os.Exit(2)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Alias deletion failed: %v\n", err)
		os.Exit(2)
	}
	utils.PrintJsonResponse(resp.Body)
}

func setConcurrency(cmd *cobra.Command, args []string) {
	if funcName == "" {
		cmd.Help()
		os.Exit(1)
	}
	request := struct{ Reserved int }{reserved}
	requestBody, err := json.Marshal(request)
	if err != nil {
		os.Exit(1)
	}
	url := fmt.Sprintf("http://%s:%d/concurrency/%s", ServerConfig.Host, ServerConfig.Port, funcName)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewBuffer(requestBody))
	if err != nil {
		os.Exit(2)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Concurrency update failed: %v\n", err)
		os.Exit(2)
	}
	utils.PrintJsonResponse(resp.Body)
}

func prewarm(cmd *cobra.Command, args []string) {
	if funcName == "" {
		cmd.Help()
		os.Exit(1)
	}
	request := struct {
		Function  string
		Qualifier string
		Count     int
	}{funcName, qualifier, count}
	requestBody, err := json.Marshal(request)
	if err != nil {
		os.Exit(1)
	}
	url := fmt.Sprintf("http://%s:%d/prewarm", ServerConfig.Host, ServerConfig.Port)
	resp, err := utils.PostJson(url, requestBody)
	if err != nil {
		fmt.Printf("Prewarm failed: %v\n", err)
		os.Exit(2)
	}
	utils.PrintJsonResponse(resp.Body)
}

func drain(cmd *cobra.Command, args []string) {
	if funcName == "" {
		cmd.Help()
		os.Exit(1)
	}
	url := fmt.Sprintf("http://%s:%d/drain/%s", ServerConfig.Host, ServerConfig.Port, funcName)
	resp, err := utils.PostJson(url, nil)
	if err != nil {
		fmt.Printf("Drain failed: %v\n", err)
		os.Exit(2)
	}
	utils.PrintJsonResponse(resp.Body)
}

func executions(cmd *cobra.Command, args []string) {
	if funcName == "" {
		cmd.Help()
		os.Exit(1)
	}
	url := fmt.Sprintf("http://%s:%d/executions/%s", ServerConfig.Host, ServerConfig.Port, funcName)
	resp, err := utils.GetJson(url)
	if err != nil {
		fmt.Printf("Request failed: %v\n", err)
		os.Exit(2)
	}
	utils.PrintJsonResponse(resp.Body)
}
