package main

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/vultisig/payroll/api"
	"github.com/vultisig/payroll/config"
)

var rosterPath string
var action string
var configName string

// Reads a name,address,fiat_amount CSV and sends it to a running payroll
// server. "batch" only previews; "fund" and "disburse" ask for confirmation
// after showing the preview.
func main() {
	flag.StringVar(&rosterPath, "roster", "", "roster csv file")
	flag.StringVar(&action, "action", "batch", "batch, fund or disburse")
	flag.StringVar(&configName, "config", "config", "server config name")
	flag.Parse()

	if rosterPath == "" {
		panic("roster file is required")
	}
	if action != "batch" && action != "fund" && action != "disburse" {
		panic("action must be one of batch, fund, disburse")
	}

	serverConfig, err := config.ReadConfig(configName, ".")
	if err != nil {
		panic(err)
	}
	host := serverConfig.Server.Host
	if host == "" {
		host = "localhost"
	}
	serverHost := fmt.Sprintf("http://%s:%d", host, serverConfig.Server.Port)

	req, err := readRoster(rosterPath)
	if err != nil {
		panic(err)
	}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		panic(err)
	}

	fmt.Printf("Previewing %d roster rows on %s\n", len(req.Payees), serverHost)
	preview := post(serverHost+"/payroll/batch", reqBytes)
	fmt.Println(preview)
	if action == "batch" {
		return
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("Submit %s? [y/N]: ", action)
	answer, _ := reader.ReadString('\n')
	if strings.ToLower(strings.TrimSpace(answer)) != "y" {
		fmt.Println("Aborted")
		return
	}

	path := "/payroll/disburse"
	if action == "fund" {
		path = "/payroll/fund/roster"
	}
	fmt.Println(post(serverHost+path, reqBytes))
}

func readRoster(path string) (api.RosterRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return api.RosterRequest{}, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	req := api.RosterRequest{Payees: []api.PayeeRequest{}}
	for line := 1; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return api.RosterRequest{}, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 && len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "name") {
			continue
		}
		for len(row) < 3 {
			row = append(row, "")
		}
		req.Payees = append(req.Payees, api.PayeeRequest{
			Name:       row[0],
			Address:    row[1],
			FiatAmount: row[2],
		})
	}
	return req, nil
}

func post(url string, body []byte) string {
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(body))
	if err != nil {
		panic(err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		panic(err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		fmt.Fprintf(os.Stderr, "server returned %d: %s\n", resp.StatusCode, out)
		os.Exit(1)
	}
	return string(out)
}
