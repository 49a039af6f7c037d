package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenRouterEngine_Chat(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		fmt.Fprint(w, `{"id":"gen-1","choices":[{"message":{"role":"assistant","content":"{\"age\":30}"}}]}`)
	}))
	defer srv.Close()

	e := NewOpenRouterEngine("k", srv.URL)
	got, err := e.Chat(context.Background(), "openai/gpt-4o-mini", []Message{
		{Role: RoleSystem, Content: "extract"},
		{Role: RoleUser, Content: "I am 30"},
	}, &Schema{Type: "object"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != `{"age":30}` {
		t.Errorf("Chat() = %q", got)
	}
	if rf, _ := body["response_format"].(map[string]any); rf["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", body["response_format"])
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 2 {
		t.Errorf("messages = %v", body["messages"])
	}
}

func TestOpenRouterEngine_PullUnsupported(t *testing.T) {
	err := NewOpenRouterEngine("k", "").PullModel(context.Background(), "m", nil)
	if !errors.Is(err, ErrPullUnsupported) {
		t.Errorf("PullModel error = %v, want ErrPullUnsupported", err)
	}
}

func TestOpenRouterEngine_Chat_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"message":"No endpoints found for acme/none","code":404}}`)
	}))
	defer srv.Close()

	_, err := NewOpenRouterEngine("k", srv.URL).Chat(context.Background(), "acme/none", []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("err = %v, want ErrModelNotFound", err)
	}
}
