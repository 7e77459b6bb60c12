// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jordan-wright/email"

	"github.com/bureau-foundation/sessionpack/lib/archive"
	"github.com/bureau-foundation/sessionpack/lib/clock"
	"github.com/bureau-foundation/sessionpack/lib/secret"
	"github.com/bureau-foundation/sessionpack/lib/session"
	"github.com/bureau-foundation/sessionpack/lib/testutil"
	"github.com/bureau-foundation/sessionpack/lib/version"
)

func writePackage(t *testing.T, contents string) *Package {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source"+archive.PackageExtension)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing package: %v", err)
	}
	return &Package{
		Path:        path,
		Caption:     "Loupe Checkout",
		Description: "1 session (0 with problems) from ana, 10 B",
		Stats:       archive.Stats{Sessions: 1, Fragments: 1},
		Size:        int64(len(contents)),
		SessionIDs:  []session.ID{session.MustParseID("3f0e8c2a-5b4d-4c6e-8f7a-9b1c2d3e4f50")},
	}
}

func TestFileDestinationTargets(t *testing.T) {
	destination := &FileDestination{Path: "/exports/out.spkg"}
	tests := map[int]string{
		0: "/exports/out.spkg",
		1: "/exports/out-2.spkg",
		4: "/exports/out-5.spkg",
	}
	for index, want := range tests {
		if got := destination.Target(index); got != want {
			t.Errorf("Target(%d) = %q, want %q", index, got, want)
		}
	}
}

func TestFileDestinationDeliver(t *testing.T) {
	directory := t.TempDir()
	destination := &FileDestination{Path: filepath.Join(directory, "out.spkg")}
	if err := destination.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	bound, err := destination.Bound()
	if err != nil {
		t.Fatalf("Bound: %v", err)
	}
	if bound <= 0 || bound > MaxFileBound {
		t.Errorf("Bound = %d, want within (0, %d]", bound, MaxFileBound)
	}

	for index, contents := range []string{"first package", "second package"} {
		pkg := writePackage(t, contents)
		pkg.Index = index
		outcome := destination.Deliver(context.Background(), pkg)
		if outcome.Result != session.ResultSuccess {
			t.Fatalf("Deliver %d: %+v", index, outcome)
		}
		if outcome.BytesDelivered != int64(len(contents)) {
			t.Errorf("BytesDelivered = %d, want %d", outcome.BytesDelivered, len(contents))
		}
		data, err := os.ReadFile(destination.Target(index))
		if err != nil {
			t.Fatalf("reading delivered file: %v", err)
		}
		if string(data) != contents {
			t.Errorf("delivered %q, want %q", data, contents)
		}
	}
}

func TestFileDestinationValidate(t *testing.T) {
	directory := t.TempDir()
	for name, destination := range map[string]*FileDestination{
		"empty":             {},
		"missing directory": {Path: filepath.Join(directory, "nope", "out.spkg")},
		"directory target":  {Path: directory},
	} {
		if err := destination.Validate(); err == nil {
			t.Errorf("%s: Validate should fail", name)
		}
	}
}

func TestFileDestinationFailureWrapsDeliveryFailure(t *testing.T) {
	destination := &FileDestination{Path: filepath.Join(t.TempDir(), "out.spkg")}
	pkg := writePackage(t, "contents")
	pkg.Path = filepath.Join(t.TempDir(), "vanished.spkg")
	outcome := destination.Deliver(context.Background(), pkg)
	if outcome.Result != session.ResultError {
		t.Fatalf("Result = %v, want Error", outcome.Result)
	}
	if !errors.Is(outcome.Err(), session.ErrDeliveryFailure) {
		t.Errorf("cause %v does not wrap ErrDeliveryFailure", outcome.Err())
	}
}

func TestMediaDestination(t *testing.T) {
	root := t.TempDir()
	destination := &MediaDestination{Root: root}
	if err := destination.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	pkg := writePackage(t, "media contents")
	outcome := destination.Deliver(context.Background(), pkg)
	if outcome.Result != session.ResultSuccess {
		t.Fatalf("Deliver: %+v", outcome)
	}
	want := filepath.Join(root, DefaultMediaFolder, "loupe-checkout-3f0e8c2a.spkg")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected %s: %v", want, err)
	}

	// Exporting the same session again keeps the first copy.
	if err := os.WriteFile(pkg.Path, []byte("second export"), 0o644); err != nil {
		t.Fatal(err)
	}
	if outcome := destination.Deliver(context.Background(), pkg); outcome.Result != session.ResultSuccess {
		t.Fatalf("second Deliver: %+v", outcome)
	}
	if data, err := os.ReadFile(want); err != nil || string(data) != "media contents" {
		t.Errorf("first export = %q, %v; want it untouched", data, err)
	}
	again := filepath.Join(root, DefaultMediaFolder, "loupe-checkout-3f0e8c2a-2.spkg")
	if data, err := os.ReadFile(again); err != nil || string(data) != "second export" {
		t.Errorf("second export = %q, %v", data, err)
	}

	missing := &MediaDestination{Root: filepath.Join(root, "unmounted")}
	if err := missing.Validate(); err == nil {
		t.Error("Validate should fail for a missing root")
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Loupe Checkout":     "loupe-checkout",
		"Multiple Products!": "multiple-products",
		"  ":                 "sessions",
		"Über/App 2":         "über-app-2",
	}
	for input, want := range tests {
		if got := slug(input); got != want {
			t.Errorf("slug(%q) = %q, want %q", input, got, want)
		}
	}
}

type recordingSender struct {
	mu       sync.Mutex
	messages []*email.Email
	err      error
}

func (s *recordingSender) Send(_ context.Context, message *email.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	return s.err
}

func newEmailDestination(sender Sender) *EmailDestination {
	return &EmailDestination{
		Server:        "smtp.example.com",
		Port:          587,
		From:          "agent@example.com",
		To:            []string{"support@example.com"},
		SubjectPrefix: "[sessions]",
		MaxMessageMB:  10,
		Sender:        sender,
	}
}

func TestEmailDestinationDeliver(t *testing.T) {
	sender := &recordingSender{}
	destination := newEmailDestination(sender)
	if err := destination.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if bound, _ := destination.Bound(); bound != 10*1024*1024 {
		t.Errorf("Bound = %d, want 10 MiB", bound)
	}

	pkg := writePackage(t, "attachment bytes")
	pkg.Problems = true
	pkg.Index = 1
	outcome := destination.Deliver(context.Background(), pkg)
	if outcome.Result != session.ResultSuccess {
		t.Fatalf("Deliver: %+v", outcome)
	}
	if len(sender.messages) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.messages))
	}
	message := sender.messages[0]
	if message.Subject != "[sessions] Loupe Checkout (package 2) [PROBLEMS]" {
		t.Errorf("Subject = %q", message.Subject)
	}
	if len(message.Attachments) != 1 || !bytes.Equal(message.Attachments[0].Content, []byte("attachment bytes")) {
		t.Errorf("attachment not carried: %+v", message.Attachments)
	}
	if !strings.Contains(string(message.Text), pkg.SessionIDs[0].String()) {
		t.Errorf("body does not list the session id: %s", message.Text)
	}
}

func TestEmailDestinationSendFailure(t *testing.T) {
	destination := newEmailDestination(&recordingSender{err: errors.New("connection refused")})
	outcome := destination.Deliver(context.Background(), writePackage(t, "x"))
	if outcome.Result != session.ResultError || !errors.Is(outcome.Err(), session.ErrDeliveryFailure) {
		t.Fatalf("outcome = %+v, want a delivery failure", outcome)
	}
}

func TestEmailDestinationValidateJoinsErrors(t *testing.T) {
	destination := &EmailDestination{From: "not an address", To: []string{"also bad"}}
	err := destination.Validate()
	if err == nil {
		t.Fatal("Validate should fail")
	}
	for _, fragment := range []string{"server is required", "port", "from address", "recipient", "max message size"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error %q does not mention %q", err, fragment)
		}
	}
}

func TestServerDestinationRetriesThenSucceeds(t *testing.T) {
	pkg := writePackage(t, "upload body")
	wantDigest, err := archive.HashPackageFile(pkg.Path)
	if err != nil {
		t.Fatalf("HashPackageFile: %v", err)
	}

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "upload body" {
			t.Errorf("server received %q", body)
		}
		if got := r.Header.Get(DigestHeader); got != "blake3="+wantDigest.String() {
			t.Errorf("%s = %q", DigestHeader, got)
		}
		if r.Header.Get("X-Session-Customer") != "acme" {
			t.Errorf("customer header = %q", r.Header.Get("X-Session-Customer"))
		}
		if got := r.Header.Get("Authorization"); got != "Bearer upload-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != version.UserAgent() {
			t.Errorf("User-Agent = %q", got)
		}
		if attempts.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	token, err := secret.NewFromBytes([]byte("upload-token"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer token.Close()

	fake := clock.Fake(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	destination := &ServerDestination{
		URL:        server.URL,
		Customer:   "acme",
		Token:      token,
		Client:     server.Client(),
		RetryDelay: time.Second,
		Clock:      fake,
	}
	if err := destination.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	done := make(chan session.Outcome, 1)
	go func() { done <- destination.Deliver(context.Background(), pkg) }()

	fake.WaitForTimers(1)
	fake.Advance(time.Second)
	fake.WaitForTimers(1)
	fake.Advance(2 * time.Second)

	outcome := testutil.RequireReceive(t, done, 5*time.Second, "waiting for upload")
	if outcome.Result != session.ResultSuccess {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.BytesDelivered != int64(len("upload body")) {
		t.Errorf("BytesDelivered = %d", outcome.BytesDelivered)
	}
	if attempts.Load() != 3 {
		t.Errorf("server saw %d attempts, want 3", attempts.Load())
	}
}

func TestServerDestinationClientErrorIsFinal(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "unknown customer", http.StatusForbidden)
	}))
	defer server.Close()

	destination := &ServerDestination{
		URL:      server.URL,
		Customer: "acme",
		Client:   server.Client(),
		Clock:    clock.Fake(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
	}
	outcome := destination.Deliver(context.Background(), writePackage(t, "x"))
	if outcome.Result != session.ResultError {
		t.Fatalf("outcome = %+v, want Error", outcome)
	}
	if !errors.Is(outcome.Err(), session.ErrDeliveryFailure) || !strings.Contains(outcome.Err().Error(), "403") {
		t.Errorf("cause = %v", outcome.Err())
	}
	if attempts.Load() != 1 {
		t.Errorf("server saw %d attempts, want 1", attempts.Load())
	}
}

func TestServerDestinationValidate(t *testing.T) {
	for name, destination := range map[string]*ServerDestination{
		"no url":      {Customer: "acme"},
		"bad scheme":  {URL: "ftp://example.com/upload", Customer: "acme"},
		"no customer": {URL: "https://example.com/upload"},
	} {
		if err := destination.Validate(); err == nil {
			t.Errorf("%s: Validate should fail", name)
		}
	}
}
