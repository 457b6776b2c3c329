package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func stateCmd(args []string) {
	adminCall("state", http.MethodGet, "/admin/v1/state", 5*time.Second, args)
}

// flushCmd asks a running farmerd to flush every cached farmer now.
func flushCmd(args []string) {
	adminCall("flush", http.MethodPost, "/admin/v1/flush", 40*time.Second, args)
}

func adminCall(name, method, path string, timeout time.Duration, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "farmerd base url")
	_ = fs.Parse(args)

	req, err := http.NewRequest(method, strings.TrimRight(strings.TrimSpace(*baseURL), "/")+path, nil)
	if err != nil {
		fail("request", err)
	}
	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		fail("request", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Print(string(b))
	if resp.StatusCode/100 != 2 {
		fmt.Fprintln(os.Stderr, "status:", resp.Status)
		os.Exit(1)
	}
}
