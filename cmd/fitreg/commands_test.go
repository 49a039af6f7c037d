package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/fitreg/internal/config"
	"github.com/kalambet/fitreg/internal/profile"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

// newTestServer answers "METHOD /path" keys with canned JSON bodies. A value
// may be a list separated by "\n---\n" to answer successive calls in order.
func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}
	calls := make(map[string]int)

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			parts := strings.Split(resp, "\n---\n")
			i := calls[key]
			if i >= len(parts) {
				i = len(parts) - 1
			}
			calls[key]++
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(parts[i]))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"user not found","type":"not_found_error"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestRegisterUser(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /users": `{"id":"u-123","externalId":"tg:1","registrationStep":"greeting"}`,
	})

	p, err := registerUser(ctx, ts.client(), "tg:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "u-123" || p.RegistrationStep != profile.StepGreeting {
		t.Errorf("unexpected profile %+v", p)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["external_id"] != "tg:1" {
		t.Errorf("body.external_id = %q, want tg:1", body["external_id"])
	}
}

func TestListUsers(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /users": `{"users":[{"id":"0123456789ab","registrationStep":"collecting_level","age":30,"gender":"male","height":180,"weight":80}]}`,
	})

	users, err := listUsers(ctx, ts.client(), 5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if ts.requests[0].Path != "/users?limit=5&offset=10" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}

	old := noColor
	defer func() { noColor = old }()
	noColor = true
	line := userLine(users[0])
	if !strings.HasPrefix(line, "01234567  collecting_level") {
		t.Errorf("line = %q", line)
	}
	if !strings.Contains(line, "4/6 fields") {
		t.Errorf("line = %q, want 4/6 fields", line)
	}
}

func TestChatLoop(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /users/u1/messages": `{"profile":{"id":"u1","registrationStep":"collecting_basic"},"response":"Tell me your age","is_complete":false}` +
			"\n---\n" +
			`{"profile":{"id":"u1","registrationStep":"complete"},"response":"All set!","is_complete":true}`,
		"POST /users/u1/edit": `{"profile":{"id":"u1","registrationStep":"collecting_basic"},"response":"What to change?","is_complete":false}`,
	})

	old := noColor
	defer func() { noColor = old }()
	noColor = true

	in := strings.NewReader("hi\n\n/edit\nyes\nignored\n")
	var out bytes.Buffer
	if err := chatLoop(ctx, ts.client(), "u1", in, &out); err != nil {
		t.Fatalf("chatLoop: %v", err)
	}

	// Blank lines are skipped and the loop stops once registration completes.
	if len(ts.requests) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(ts.requests))
	}
	if ts.requests[1].Path != "/users/u1/edit" {
		t.Errorf("second request = %s, want edit", ts.requests[1].Path)
	}
	for _, want := range []string{"bot> Tell me your age", "bot> What to change?", "bot> All set!"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestChatLoop_ServerError(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	err := chatLoop(ctx, ts.client(), "ghost", strings.NewReader("hi\n"), &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error for unknown user")
	}
	if !strings.Contains(err.Error(), "404: user not found") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestPrintReply_Multiline(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	var out bytes.Buffer
	printReply(&out, "Got it!\n• Age: 28")
	want := "bot> Got it!\n     • Age: 28\n"
	if out.String() != want {
		t.Errorf("printReply = %q, want %q", out.String(), want)
	}
}

func TestPrintTurn(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	var out bytes.Buffer
	printTurn(&out, profile.Turn{
		StepBefore: profile.StepCollectingBasic,
		StepAfter:  profile.StepCollectingLevel,
		UserText:   "28 male 180 80",
		Reply:      "Thanks!",
		Extracted:  []profile.Field{profile.FieldAge, profile.FieldGender},
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	got := out.String()
	for _, want := range []string{"2026-03-01 12:00:00", "collecting_basic → collecting_level", "you> 28 male 180 80", "extracted: age, gender"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestStatus_NotReachable(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	_, err := ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestStepSummary(t *testing.T) {
	tests := []struct {
		stats statsResponse
		want  string
	}{
		{statsResponse{}, "0 total"},
		{statsResponse{Total: 5, ByStep: map[profile.Step]int{
			profile.StepComplete: 4, profile.StepGreeting: 1,
		}}, "5 total (greeting 1, complete 4)"},
	}
	for _, tt := range tests {
		if got := stepSummary(tt.stats); got != tt.want {
			t.Errorf("stepSummary = %q, want %q", got, tt.want)
		}
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"invalid or missing bearer token","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "bad-token", httpClient: ts.Client()}
	resp, err := client.get(ctx, "/users")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if err.Error() != "server returned 401: invalid or missing bearer token" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestDecodeJSON_NoContent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "t", httpClient: ts.Client()}
	resp, err := client.delete(ctx, "/users/u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := decodeJSON(resp, nil); err != nil {
		t.Errorf("decodeJSON: %v", err)
	}
}

func TestSayCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"say", "u1"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for missing text")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]string{
		"debug": "DEBUG",
		"WARN":  "WARN",
		"error": "ERROR",
		"bogus": "INFO",
		"":      "INFO",
	}
	for in, want := range tests {
		if got := parseLogLevel(in).String(); got != want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4100
	cfg.LLM.Model = "phi3.5"

	found := false
	for _, k := range config.ShowAll(cfg) {
		if k.Key == "server.port" && k.Value == "4100" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=4100 in ShowAll output")
	}
}

func TestOllamaStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/version" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"version":"0.5.7"}`))
	}))
	defer srv.Close()

	if got, want := ollamaStatus(context.Background(), srv.URL), "0.5.7 running at "+srv.URL; got != want {
		t.Errorf("ollamaStatus = %q, want %q", got, want)
	}

	srv.Close()
	if got := ollamaStatus(context.Background(), srv.URL); got != "not running" {
		t.Errorf("ollamaStatus after close = %q, want not running", got)
	}
}
