package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/tinytelemetry/harmonic/internal/journal"
	"github.com/tinytelemetry/harmonic/internal/model"
	"github.com/tinytelemetry/harmonic/internal/pipe"
)

func TestServe_FIFOToStoreAndAPI(t *testing.T) {
	dir := t.TempDir()
	fifo := filepath.Join(dir, "ingest.fifo")
	if err := unix.Mkfifo(fifo, 0o600); err != nil {
		t.Skipf("mkfifo unavailable: %v", err)
	}

	cfg := appConfig{
		PipePath:       fifo,
		RequireFIFO:    true,
		MaxLineSize:    defaultMaxLineSize,
		Sinks:          []string{sinkDuckDB, sinkStdout},
		DBPath:         filepath.Join(dir, "graph.duckdb"),
		QueryTimeout:   5 * time.Second,
		JournalEnabled: true,
		JournalPath:    filepath.Join(dir, "ingest.journal"),
		APIEnabled:     true,
		APIAddr:        "127.0.0.1:0",
	}

	var stdout bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readyCh := make(chan runtimeInfo, 1)
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, &stdout, zerolog.Nop(), func(info runtimeInfo) { readyCh <- info })
	}()

	var info runtimeInfo
	select {
	case info = <-readyCh:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for serve to start")
	}
	if info.APIAddr == "" {
		t.Fatal("api did not start")
	}

	writeFIFO(t, fifo,
		`{"type":"Person","data":{"person_id":1,"name":"Ada Lovelace"}}`,
		`not json`,
		`{"type":"Company","data":{"company_id":10,"company_name":"Initech","headcount":12}}`,
	)
	// The first writer's close must be seen as end of stream, and the old
	// reader released, before the next writer connects.
	pollFor(t, "http://"+info.APIAddr+"/api/health", `"reconnects":1`)
	writeFIFO(t, fifo,
		`{"type":"PersonEmployment","data":{"company_id":10,"person_id":1,"employment_title":"CTO","start_date":"2020-01-02"}}`,
	)

	body := pollFor(t, "http://"+info.APIAddr+"/people/1/employers", "CTO")
	if !strings.Contains(body, `"employment_title":"CTO"`) || !strings.Contains(body, `"name":"Initech"`) {
		t.Fatalf("employers body = %s", body)
	}

	pollFor(t, "http://"+info.APIAddr+"/api/health", `"decode_errors":1`)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v, want nil on cancellation", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
	releaseAbandonedOpen(fifo)

	if got := strings.Count(stdout.String(), "received "); got != 3 {
		t.Fatalf("printer lines = %d, want 3:\n%s", got, stdout.String())
	}

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer j.Close()
	pending := 0
	if _, err := j.Replay(func(uint64, model.Message) error { pending++; return nil }); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if pending != 0 {
		t.Fatalf("uncommitted journal entries = %d, want 0", pending)
	}
}

func TestServe_MissingPipeIsFatal(t *testing.T) {
	cfg := appConfig{
		PipePath: filepath.Join(t.TempDir(), "missing.fifo"),
		Sinks:    []string{sinkStdout},
	}

	var stdout bytes.Buffer
	err := serve(context.Background(), cfg, &stdout, zerolog.Nop(), nil)

	var openErr *pipe.OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("serve err = %v, want *pipe.OpenError", err)
	}
	if stdout.Len() != 0 {
		t.Fatalf("sink received output: %q", stdout.String())
	}
}

func TestServe_APIWithoutStoreIsSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.jsonl")
	if err := os.WriteFile(path, []byte(`{"type":"Person","data":{"person_id":7,"name":"Grace"}}`+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := appConfig{
		PipePath:       path,
		Sinks:          []string{sinkStdout},
		APIEnabled:     true,
		APIAddr:        "127.0.0.1:0",
		ReopenDelay:    20 * time.Millisecond,
		MaxReopenDelay: 20 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var stdout bytes.Buffer
	var info runtimeInfo
	err := serve(ctx, cfg, &stdout, zerolog.Nop(), func(r runtimeInfo) { info = r })
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if info.APIAddr != "" {
		t.Fatalf("APIAddr = %q, want api skipped without a store", info.APIAddr)
	}
	if !strings.Contains(stdout.String(), `received {"type":"Person","data":{"person_id":7,"name":"Grace"}}`) {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

// writeFIFO opens the FIFO as a writer, which waits for the loop's reader,
// writes one session of lines and closes it.
func writeFIFO(t *testing.T, path string, lines ...string) {
	t.Helper()

	opened := make(chan error, 1)
	go func() {
		w, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			opened <- err
			return
		}
		_, err = io.WriteString(w, strings.Join(lines, "\n")+"\n")
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		opened <- err
	}()

	select {
	case err := <-opened:
		if err != nil {
			t.Fatalf("write fifo: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out writing to fifo")
	}
}

// releaseAbandonedOpen pairs a reader open left blocked by cancellation.
func releaseAbandonedOpen(path string) {
	if w, err := os.OpenFile(path, os.O_WRONLY|syscall.O_NONBLOCK, 0); err == nil {
		_ = w.Close()
	}
}

// pollFor polls url until it answers 200 with a body containing want.
func pollFor(t *testing.T, url, want string) string {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	var last string
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK && strings.Contains(string(data), want) {
				return string(data)
			}
			last = fmt.Sprintf("%d %s", resp.StatusCode, data)
		} else {
			last = err.Error()
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("GET %s never returned 200 with %q, last: %s", url, want, last)
	return ""
}
