package airtable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(url string) *Client {
	return NewClient(Config{BaseURL: url, BaseID: "appTest", APIKey: "key123", Timeout: time.Second})
}

func TestListRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/appTest/Daily%20Batch%20Settings" {
			t.Errorf("path = %s", r.URL.EscapedPath())
		}
		if r.URL.Query().Get("maxRecords") != "1" {
			t.Errorf("maxRecords = %q", r.URL.Query().Get("maxRecords"))
		}
		if r.Header.Get("Authorization") != "Bearer key123" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		fmt.Fprint(w, `{"records":[{"id":"rec1","fields":{"numPrompts":12,"renderer":"Midjourney"}}]}`)
	}))
	defer srv.Close()

	recs, err := newTestClient(srv.URL).ListRecords(context.Background(), "Daily Batch Settings", 1)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "rec1" || recs[0].Fields["renderer"] != "Midjourney" {
		t.Errorf("records = %+v", recs)
	}
}

func TestUpdateRecord(t *testing.T) {
	var body Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/appTest/tblStructures/recS1" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		fmt.Fprint(w, `{"id":"recS1","fields":{"optimizer_score":0.8}}`)
	}))
	defer srv.Close()

	rec, err := newTestClient(srv.URL).UpdateRecord(context.Background(), "tblStructures", "recS1", map[string]any{"optimizer_score": 0.8})
	if err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	if rec.ID != "recS1" {
		t.Errorf("rec = %+v", rec)
	}
	if body.Fields["optimizer_score"] != 0.8 {
		t.Errorf("sent fields = %v", body.Fields)
	}
}

func TestCreateRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in recordList
		json.NewDecoder(r.Body).Decode(&in)
		for i := range in.Records {
			in.Records[i].ID = fmt.Sprintf("rec%d", i)
		}
		json.NewEncoder(w).Encode(in)
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL).CreateRecords(context.Background(), "Prompts", []Record{
		{ID: "ignored", Fields: map[string]any{"New Prompt": "a"}},
		{Fields: map[string]any{"New Prompt": "b"}},
	})
	if err != nil {
		t.Fatalf("CreateRecords: %v", err)
	}
	if len(out) != 2 || out[0].ID != "rec0" || out[1].Fields["New Prompt"] != "b" {
		t.Errorf("out = %+v", out)
	}
}

func TestCreateRecords_RejectsOversizedBatch(t *testing.T) {
	recs := make([]Record, MaxBatchSize+1)
	_, err := NewClient(Config{APIKey: "k", BaseURL: "http://127.0.0.1:0"}).CreateRecords(context.Background(), "Prompts", recs)
	if err == nil {
		t.Error("CreateRecords accepted 11 records")
	}
}

func TestNotConfigured(t *testing.T) {
	c := NewClient(Config{BaseID: "appX"})
	if c.Configured() {
		t.Fatal("Configured() = true without API key")
	}
	ctx := context.Background()
	if _, err := c.ListRecords(ctx, "t", 1); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("ListRecords err = %v", err)
	}
	if _, err := c.UpdateRecord(ctx, "t", "r", nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("UpdateRecord err = %v", err)
	}
	if _, err := c.CreateRecords(ctx, "t", []Record{{}}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("CreateRecords err = %v", err)
	}

	var nilClient *Client
	if nilClient.Configured() {
		t.Error("nil client reports configured")
	}
}
