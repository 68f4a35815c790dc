package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// helperEnv selects a helper mode when the test binary is re-executed as the
// supervised server.
const helperEnv = "LINKGATE_SERVER_HELPER"

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelper(mode, os.Args[1:]))
	}
	goleak.VerifyTestMain(m)
}

func runHelper(mode string, args []string) int {
	dir, port := helperArgs(args)
	switch mode {
	case "serve":
		fmt.Println("warming up")
		time.Sleep(100 * time.Millisecond)
		if err := Serve(context.Background(), dir, port, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	case "noisy":
		return serveNoisy(dir, port)
	case "exit":
		fmt.Println("cannot bind")
		return 3
	case "silent":
		time.Sleep(time.Hour)
		return 0
	case "longline":
		fmt.Println(strings.Repeat("y", 200*1024))
		if err := Serve(context.Background(), dir, port, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	case "wrapper":
		return runWrapped(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown helper mode %q\n", mode)
		return 2
	}
}

// runWrapped starts a "serve" helper as its own child and waits for it, the
// way a shell script that does not exec its server behaves.
func runWrapped(args []string) int {
	child := exec.Command(os.Args[0], args...) //nolint:gosec // re-exec of the test binary
	child.Env = append(os.Environ(), helperEnv+"=serve")
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	if err := child.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// serveNoisy writes a large chunk to both output streams on every request
// before answering, as a chatty request logger would.
func serveNoisy(dir string, port int) int {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	chunk := []byte(strings.Repeat("x", 1023) + "\n")
	files := NewHandler(dir)
	srv := &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for i := 0; i < 256; i++ {
				_, _ = os.Stderr.Write(chunk)
				_, _ = os.Stdout.Write(chunk)
			}
			files.ServeHTTP(w, r)
		}),
	}
	fmt.Printf("Listening on http://%s\n", ln.Addr())
	if err := srv.Serve(ln); err != nil {
		return 1
	}
	return 0
}

func helperArgs(args []string) (string, int) {
	var dir string
	var port int
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "-helper.dir="):
			dir = strings.TrimPrefix(arg, "-helper.dir=")
		case strings.HasPrefix(arg, "-helper.port="):
			port, _ = strconv.Atoi(strings.TrimPrefix(arg, "-helper.port="))
		}
	}
	return dir, port
}

func helperConfig(mode string) Config {
	return Config{
		Command: []string{os.Args[0], "-test.run=^$", "-helper.dir={dir}", "-helper.port={port}"},
		Env:     []string{helperEnv + "=" + mode},
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func siteDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/index.html", []byte(`<html><body><h1 id="top">home</h1></body></html>`), 0o600))
	require.NoError(t, os.WriteFile(dir+"/guide.html", []byte(`<html><body>guide</body></html>`), 0o600))
	return dir
}

func newClient() *http.Client {
	return &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
}

func get(client *http.Client, port int, p string) (int, error) {
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, p))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
