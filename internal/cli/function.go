package cli

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cumulusfn/cumulus/internal/function"
	"github.com/cumulusfn/cumulus/utils"
)

func create(cmd *cobra.Command, args []string) {
	doCreateOrUpdate(cmd, "/create")
}

func update(cmd *cobra.Command, args []string) {
	doCreateOrUpdate(cmd, "/update")
}

func doCreateOrUpdate(cmd *cobra.Command, path string) {
	if funcName == "" || runtimeName == "" {
		cmd.Help()
		os.Exit(1)
	}

	if runtimeName == "custom" && customImage == "" {
		cmd.Help()
		os.Exit(1)
	} else if runtimeName != "custom" && src == "" {
		cmd.Help()
		os.Exit(1)
	}

	var encoded string
	if runtimeName != "custom" {
		srcContent, err := readSourcesAsTar(src)
		if err != nil {
			fmt.Printf("%v\n", err)
			os.Exit(3)
		}
		encoded = base64.StdEncoding.EncodeToString(srcContent)
	}

	request := function.Function{
		Name:            funcName,
		Handler:         handler,
		Runtime:         runtimeName,
		MemoryMB:        memory,
		CPUDemand:       cpuDemand,
		TimeoutSec:      timeout,
		TarFunctionCode: encoded,
		CustomImage:     customImage,
	}
	requestBody, err := json.Marshal(request)
	if err != nil {
		cmd.Help()
		os.Exit(1)
	}

	url := fmt.Sprintf("http://%s:%d%s", ServerConfig.Host, ServerConfig.Port, path)
	resp, err := utils.PostJson(url, requestBody)
	if err != nil {
		fmt.Printf("Request failed: %v\n", err)
		os.Exit(2)
	}
	utils.PrintJsonResponse(resp.Body)
}

func deleteFunction(cmd *cobra.Command, args []string) {
	if funcName == "" {
		cmd.Help()
		os.Exit(1)
	}
	request := function.Function{Name: funcName}
	requestBody, err := json.Marshal(request)
	if err != nil {
		cmd.Help()
		os.Exit(1)
	}

	url := fmt.Sprintf("http://%s:%d/delete", ServerConfig.Host, ServerConfig.Port)
	resp, err := utils.PostJson(url, requestBody)
	if err != nil {
		fmt.Printf("Deletion request failed: %v\n", err)
		os.Exit(2)
	}
	utils.PrintJsonResponse(resp.Body)
}

func list(cmd *cobra.Command, args []string) {
	url := fmt.Sprintf("http://%s:%d/function", ServerConfig.Host, ServerConfig.Port)
	resp, err := http.Get(url)
	if err != nil {
		fmt.Printf("List request failed: %v\n", err)
		os.Exit(2)
	}
	utils.PrintJsonResponse(resp.Body)
}

func readSourcesAsTar(srcPath string) ([]byte, error) {
	fileInfo, err := os.Stat(srcPath)
	if err != nil {
		return nil, fmt.Errorf("missing source file")
	}

	var tarFileName string

	if fileInfo.IsDir() || !strings.HasSuffix(srcPath, ".tar") {
		file, err := os.CreateTemp("", "cumulussource")
		if err != nil {
			return nil, err
		}
		defer os.Remove(file.Name())

		if err = utils.Tar(srcPath, file); err != nil {
			return nil, err
		}
		tarFileName = file.Name()
	} else {
		// this is already a tar file
		tarFileName = srcPath
	}

	return os.ReadFile(tarFileName)
}
