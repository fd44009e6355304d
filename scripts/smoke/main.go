// Command smoke runs a post-deploy check against a running instance of the
// attendance API. It logs in with the provided teacher credentials, fires the
// configured requests, and exits nonzero when a critical check fails.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type check struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	WantStatus int    `json:"want_status"`
	Auth       bool   `json:"auth"`
	Critical   bool   `json:"critical"`
}

type checksFile struct {
	Checks []check `json:"checks"`
}

type result struct {
	Check    check
	Status   int
	Pass     bool
	Duration time.Duration
	Err      error
}

func main() {
	var (
		base       string
		checksPath string
		email      string
		password   string
		timeout    time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080", "API base URL")
	flag.StringVar(&checksPath, "checks", filepath.Join("scripts", "smoke", "checks.json"), "Path to JSON checks file")
	flag.StringVar(&email, "email", os.Getenv("SMOKE_EMAIL"), "Teacher email for authenticated checks")
	flag.StringVar(&password, "password", os.Getenv("SMOKE_PASSWORD"), "Teacher password for authenticated checks")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	checks, err := loadChecks(checksPath)
	if err != nil {
		log.Fatalf("failed to load checks: %v", err)
	}

	client := &http.Client{Timeout: timeout}

	var token string
	if needsAuth(checks) {
		token, err = login(client, base, email, password)
		if err != nil {
			log.Fatalf("login failed: %v", err)
		}
	}

	var (
		results  []result
		failures int
	)
	for _, c := range checks {
		res := run(client, base, token, c)
		if !res.Pass && c.Critical {
			failures++
		}
		results = append(results, res)
	}

	printReport(results)

	if failures > 0 {
		fmt.Printf("%d critical check(s) failed\n", failures)
		os.Exit(1)
	}
	fmt.Println("all critical checks passed")
}

func loadChecks(path string) ([]check, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f checksFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.Checks) == 0 {
		return nil, fmt.Errorf("no checks defined in %s", path)
	}
	return f.Checks, nil
}

func needsAuth(checks []check) bool {
	for _, c := range checks {
		if c.Auth {
			return true
		}
	}
	return false
}

func login(client *http.Client, base, email, password string) (string, error) {
	if email == "" || password == "" {
		return "", fmt.Errorf("email and password required for authenticated checks")
	}

	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}

	resp, err := client.Post(joinURL(base, "/api/v1/auth/login"), "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login returned status %d", resp.StatusCode)
	}

	var envelope struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", err
	}
	if envelope.Data.Token == "" {
		return "", fmt.Errorf("login response missing token")
	}
	return envelope.Data.Token, nil
}

func run(client *http.Client, base, token string, c check) result {
	res := result{Check: c}

	method := strings.ToUpper(strings.TrimSpace(c.Method))
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequest(method, joinURL(base, c.Path), nil)
	if err != nil {
		res.Err = err
		return res
	}
	if c.Auth {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := client.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		return res
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	res.Status = resp.StatusCode
	want := c.WantStatus
	if want == 0 {
		want = http.StatusOK
	}
	res.Pass = res.Status == want

	return res
}

func joinURL(base, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(base, "/") + path
}

func printReport(results []result) {
	fmt.Println("Smoke Check Report")
	fmt.Println("==================")
	for _, res := range results {
		status := "PASS"
		if res.Err != nil {
			status = "ERROR"
		} else if !res.Pass {
			status = "FAIL"
		}
		fmt.Printf("[%s] %s %s\n", status, res.Check.Method, res.Check.Path)
		if res.Err != nil {
			fmt.Printf("  Error: %v\n", res.Err)
			continue
		}
		fmt.Printf("  Status: %d (%s) | Critical: %t\n", res.Status, res.Duration, res.Check.Critical)
	}
}
