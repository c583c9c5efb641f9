package coordinator

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anatomie/orchestrator/internal/airtable"
	"github.com/anatomie/orchestrator/internal/generator"
	"github.com/anatomie/orchestrator/internal/optimizer"
	"github.com/anatomie/orchestrator/internal/state"
	"github.com/anatomie/orchestrator/internal/storage"
	"github.com/anatomie/orchestrator/internal/strategist"
)

const (
	testBaseID          = "appTest"
	testStructuresTable = "tblStructures"
	testSettingsTable   = "Daily Batch Settings"
	testPromptsTable    = "Prompts"
	testHistoryTable    = "History"
)

// fakeServices plays optimizer, generator, strategist and record store on
// one httptest server. Zero values give healthy defaults.
type fakeServices struct {
	mu sync.Mutex

	calls []string

	trainBody      string
	trainBlock     chan struct{}
	scoreBody      string
	scoreStatus    int
	insightsStatus int
	strategistBody string
	strategistCode int
	generateFailAt int
	healthStatus   int

	settingsBody  string
	patchFail     map[string]bool
	promptFailAt  int
	promptCreates int

	updateReq     map[string]json.RawMessage
	strategistReq strategist.RunRequest
	generateSizes []int
	patches       map[string]float64
	created       map[string][]airtable.Record
}

func (f *fakeServices) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
}

func (f *fakeServices) callCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeServices) callIndex(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.calls {
		if c == call {
			return i
		}
	}
	return -1
}

func (f *fakeServices) sizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.generateSizes...)
}

func (f *fakeServices) createdIn(table string) []airtable.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]airtable.Record(nil), f.created[table]...)
}

func (f *fakeServices) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.record(r)

	if strings.HasPrefix(r.URL.Path, "/"+testBaseID+"/") {
		f.serveStore(w, r)
		return
	}

	switch r.URL.Path {
	case "/train":
		if f.trainBlock != nil {
			<-f.trainBlock
		}
		body := f.trainBody
		if body == "" {
			body = `{"status":"success"}`
		}
		fmt.Fprint(w, body)

	case "/score_structures":
		if f.scoreStatus != 0 {
			http.Error(w, "score failure", f.scoreStatus)
			return
		}
		body := f.scoreBody
		if body == "" {
			body = `{"structures":[{"structure_id":"s1","predicted_success_score":0.8},{"structure_id":"s2","predicted_success_score":0.6}],"global_preference_vector":{"warm":0.4}}`
		}
		fmt.Fprint(w, body)

	case "/structure_prompt_insights":
		if f.insightsStatus != 0 {
			http.Error(w, "insights down", f.insightsStatus)
			return
		}
		fmt.Fprint(w, `{"insights":{"s1":{"top":"silk"}}}`)

	case "/update_preferences":
		var req map[string]json.RawMessage
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.updateReq = req
		f.mu.Unlock()
		fmt.Fprint(w, `{"status":"updated"}`)

	case "/api/batch/run":
		var req strategist.RunRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.strategistReq = req
		f.mu.Unlock()
		if f.strategistCode != 0 {
			http.Error(w, "strategist failure", f.strategistCode)
			return
		}
		body := f.strategistBody
		if body == "" {
			body = `{"totalGenerated":3}`
		}
		fmt.Fprint(w, body)

	case "/generate-prompts":
		var req struct {
			NumPrompts int    `json:"num_prompts"`
			Renderer   string `json:"renderer"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.generateSizes = append(f.generateSizes, req.NumPrompts)
		n := len(f.generateSizes)
		f.mu.Unlock()
		if n == f.generateFailAt {
			http.Error(w, "generator failure", http.StatusBadGateway)
			return
		}
		prompts := make([]generator.Prompt, req.NumPrompts)
		for i := range prompts {
			prompts[i] = generator.Prompt{
				PromptText:        fmt.Sprintf("prompt %d.%d", n, i),
				Renderer:          req.Renderer,
				DesignerID:        "recDesigner",
				PromptStructureID: "s1",
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"prompts": prompts})

	case "/health", "/api/health":
		if f.healthStatus != 0 {
			w.WriteHeader(f.healthStatus)
			return
		}
		fmt.Fprint(w, `{"status":"ok"}`)

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeServices) serveStore(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/"+testBaseID+"/")
	table, id, _ := strings.Cut(rest, "/")

	switch r.Method {
	case http.MethodGet:
		body := f.settingsBody
		if body == "" {
			body = `{"records":[]}`
		}
		fmt.Fprint(w, body)

	case http.MethodPatch:
		var rec airtable.Record
		json.NewDecoder(r.Body).Decode(&rec)
		if f.patchFail[id] {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		f.mu.Lock()
		if f.patches == nil {
			f.patches = map[string]float64{}
		}
		f.patches[id], _ = rec.Fields["optimizer_score"].(float64)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(airtable.Record{ID: id, Fields: rec.Fields})

	case http.MethodPost:
		var in struct {
			Records []airtable.Record `json:"records"`
		}
		json.NewDecoder(r.Body).Decode(&in)

		f.mu.Lock()
		defer f.mu.Unlock()
		if table == testPromptsTable {
			f.promptCreates++
			if f.promptCreates == f.promptFailAt {
				http.Error(w, "rate limited", http.StatusTooManyRequests)
				return
			}
		}
		if f.created == nil {
			f.created = map[string][]airtable.Record{}
		}
		out := make([]airtable.Record, len(in.Records))
		for i, rec := range in.Records {
			out[i] = airtable.Record{
				ID:     fmt.Sprintf("rec%s%d", table[:1], len(f.created[table])+i),
				Fields: rec.Fields,
			}
		}
		f.created[table] = append(f.created[table], out...)
		json.NewEncoder(w).Encode(map[string]any{"records": out})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		io.Copy(io.Discard, r.Body)
	}
}

type harness struct {
	coord *Coordinator
	state *state.State
	fake  *fakeServices
}

type harnessOpts struct {
	apiKey    string
	threshold int
}

func newHarness(t *testing.T, fake *fakeServices, opts harnessOpts) *harness {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	st := state.New(storage.NewFileStore(t.TempDir() + "/" + storage.StateFileName))

	gen := generator.NewClient(srv.URL, generator.Timeouts{Update: 5 * time.Second, Generate: 5 * time.Second, Warmup: time.Second})
	gen.SetBatchPause(0)

	threshold := opts.threshold
	if threshold == 0 {
		threshold = 25
	}

	c := New(Deps{
		State:      st,
		Optimizer:  optimizer.NewClient(srv.URL, optimizer.Timeouts{Train: 5 * time.Second, Score: 5 * time.Second}),
		Generator:  gen,
		Strategist: strategist.NewClient(srv.URL, strategist.Timeouts{Run: 5 * time.Second, Warmup: time.Second}),
		Store: airtable.NewClient(airtable.Config{
			BaseURL: srv.URL,
			BaseID:  testBaseID,
			APIKey:  opts.apiKey,
			Timeout: 5 * time.Second,
		}),
	}, Settings{
		LikeThreshold:      threshold,
		ExplorationRate:    0.2,
		FallbackNumPrompts: 30,
		FallbackRenderer:   "ImageFX",
		Tables: Tables{
			Structures:    testStructuresTable,
			BatchSettings: testSettingsTable,
			Prompts:       testPromptsTable,
			History:       testHistoryTable,
		},
	})

	return &harness{coord: c, state: st, fake: fake}
}
