package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	adminRequest(http.MethodGet, *baseURL, "/admin/v1/state", nil)
}

func prefsCmd(args []string) {
	fs := flag.NewFlagSet("prefs", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	actor := fs.String("actor", "", "actor id or name (optional; lists all when empty)")
	_ = fs.Parse(args)

	q := url.Values{}
	if a := strings.TrimSpace(*actor); a != "" {
		q.Set("actor", a)
	}
	adminRequest(http.MethodGet, *baseURL, "/admin/v1/prefs", q)
}

func setCmd(args []string) {
	fs := flag.NewFlagSet("set", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	actor := fs.String("actor", "", "actor id or name (required)")
	mode := fs.String("mode", "", "on|off|toggle (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*actor) == "" || strings.TrimSpace(*mode) == "" {
		fmt.Fprintln(os.Stderr, "missing -actor or -mode")
		os.Exit(2)
	}
	q := url.Values{}
	q.Set("actor", strings.TrimSpace(*actor))
	q.Set("mode", strings.TrimSpace(*mode))
	adminRequest(http.MethodPost, *baseURL, "/admin/v1/prefs", q)
}

func reloadCmd(args []string) {
	fs := flag.NewFlagSet("reload", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	adminRequest(http.MethodPost, *baseURL, "/admin/v1/reload", nil)
}

// adminRequest prints the response body and exits non-zero on a non-2xx status.
func adminRequest(method, baseURL, path string, q url.Values) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(2)
	}
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
