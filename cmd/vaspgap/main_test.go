package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/dshills/vaspgap/internal/schema"
)

// applicationText mentions every built-in rule except business continuity
// (medium) and complaints handling (low).
const applicationText = `Section 1. Our AML policy is approved by the board and our KYC procedures
apply to every client. We comply with the Travel Rule for all transfers. The
MLRO reports to the board. Client assets are held in a cold wallet. Our
cybersecurity programme is certified to ISO 27001. Our marketing policy
requires a risk disclaimer. We maintain paid-up capital above the minimum.`

const docURL = "https://example.com/application.pdf"

const gapAnalysis = "The application does not describe this control."

// setupMockPDFCo starts a PDF.co stand-in returning text as the body field.
func setupMockPDFCo(t *testing.T, text string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{"body": text, "error": false}) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv
}

// setupMockOpenAI starts a chat completions stand-in and returns it with a
// counter of requests served.
func setupMockOpenAI(t *testing.T, content string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4-1106-preview",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

// setTestEnv sets both API keys and clears config overrides.
func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PDFCO_API_KEY", "test-pdfco-key")
	t.Setenv("OPENAI_API_KEY", "test-openai-key")
	t.Setenv("VASPGAP_CONFIG", "")
	t.Setenv("VASPGAP_MODEL", "")
}

// testFlags returns analyzeFlags pointed at the mock servers.
func testFlags(pdfco, openai *httptest.Server) analyzeFlags {
	return analyzeFlags{
		format:            "json",
		extractorEndpoint: pdfco.URL,
		llmBaseURL:        openai.URL + "/v1",
		set: map[string]bool{
			"extractor-endpoint": true,
			"llm-base-url":       true,
		},
	}
}

func decodeReport(t *testing.T, data []byte) schema.Report {
	t.Helper()
	var report schema.Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, data)
	}
	return report
}

func exitCode(err error) int {
	var ee *exitErr
	if errors.As(err, &ee) {
		return ee.code
	}
	return -1
}

// --- Tests ---

func TestRunAnalyze_JSONReport(t *testing.T) {
	setTestEnv(t)
	pdfco := setupMockPDFCo(t, applicationText, http.StatusOK)
	openai, calls := setupMockOpenAI(t, gapAnalysis)

	var stdout bytes.Buffer
	err := runAnalyze(context.Background(), docURL, testFlags(pdfco, openai), &stdout)
	if err != nil {
		t.Fatalf("runAnalyze returned error: %v", err)
	}

	report := decodeReport(t, stdout.Bytes())
	if report.Result == nil {
		t.Fatal("expected result in report")
	}
	if report.Result.Summary != "2 compliance gaps found" {
		t.Errorf("summary = %q", report.Result.Summary)
	}
	if len(report.Result.Gaps) != 2 {
		t.Fatalf("expected 2 gaps, got %d", len(report.Result.Gaps))
	}
	if report.Result.Gaps[0].ID != "VARA-BCP-07" || report.Result.Gaps[1].ID != "VARA-CMP-10" {
		t.Errorf("gap order = %s, %s", report.Result.Gaps[0].ID, report.Result.Gaps[1].ID)
	}
	if report.Result.Gaps[0].Analysis != gapAnalysis {
		t.Errorf("analysis = %q", report.Result.Gaps[0].Analysis)
	}
	if len(report.Result.MatchedRules) != 8 {
		t.Errorf("expected 8 matched rules, got %v", report.Result.MatchedRules)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 LLM requests, got %d", got)
	}
	if report.Counts.Medium != 1 || report.Counts.Low != 1 {
		t.Errorf("counts = %+v", report.Counts)
	}
	if report.Score != 95 {
		t.Errorf("score = %d, want 95", report.Score)
	}
}

func TestRunAnalyze_OutputContainsInputMetadata(t *testing.T) {
	setTestEnv(t)
	pdfco := setupMockPDFCo(t, applicationText, http.StatusOK)
	openai, _ := setupMockOpenAI(t, gapAnalysis)

	var stdout bytes.Buffer
	if err := runAnalyze(context.Background(), docURL, testFlags(pdfco, openai), &stdout); err != nil {
		t.Fatalf("runAnalyze: %v", err)
	}
	report := decodeReport(t, stdout.Bytes())
	if report.Tool != "vaspgap" {
		t.Errorf("tool = %q", report.Tool)
	}
	if report.RunID == "" {
		t.Error("expected run id")
	}
	if !strings.HasPrefix(report.Input.DocumentHash, "sha256:") {
		t.Errorf("document hash = %q", report.Input.DocumentHash)
	}
	if report.Input.RulesSource != "builtin:dubai-vasp" {
		t.Errorf("rules source = %q", report.Input.RulesSource)
	}
	if report.Input.Extractor != "pdfco" {
		t.Errorf("extractor = %q", report.Input.Extractor)
	}
	if report.Meta.Model != "openai:gpt-4-1106-preview" {
		t.Errorf("model = %q", report.Meta.Model)
	}
	if report.Input.Model != report.Meta.Model {
		t.Errorf("input model = %q, want %q", report.Input.Model, report.Meta.Model)
	}
}

func TestRunAnalyze_MarkdownFormat(t *testing.T) {
	setTestEnv(t)
	pdfco := setupMockPDFCo(t, applicationText, http.StatusOK)
	openai, _ := setupMockOpenAI(t, gapAnalysis)

	flags := testFlags(pdfco, openai)
	flags.format = "md"
	flags.out = filepath.Join(t.TempDir(), "report.md")

	if err := runAnalyze(context.Background(), docURL, flags, &bytes.Buffer{}); err != nil {
		t.Fatalf("runAnalyze: %v", err)
	}
	data, err := os.ReadFile(flags.out)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		"# VASP Compliance Gap Report\n",
		"**Document Analyzed**: " + docURL + "\n",
		"## VARA-BCP-07: ",
		"- **Criticality**: MEDIUM\n",
		"- **Analysis**: " + gapAnalysis + "\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q\n%s", want, out)
		}
	}
}

func TestRunAnalyze_ReportOut(t *testing.T) {
	setTestEnv(t)
	pdfco := setupMockPDFCo(t, applicationText, http.StatusOK)
	openai, _ := setupMockOpenAI(t, gapAnalysis)

	flags := testFlags(pdfco, openai)
	flags.reportOut = filepath.Join(t.TempDir(), "gaps.md")

	var stdout bytes.Buffer
	if err := runAnalyze(context.Background(), docURL, flags, &stdout); err != nil {
		t.Fatalf("runAnalyze: %v", err)
	}
	decodeReport(t, stdout.Bytes())

	data, err := os.ReadFile(flags.reportOut)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	if !strings.HasPrefix(string(data), "# VASP Compliance Gap Report") {
		t.Errorf("unexpected report file:\n%s", data)
	}
}

func TestRunAnalyze_TextFormat(t *testing.T) {
	setTestEnv(t)
	pdfco := setupMockPDFCo(t, applicationText, http.StatusOK)
	openai, _ := setupMockOpenAI(t, gapAnalysis)

	flags := testFlags(pdfco, openai)
	flags.format = "text"

	var stdout bytes.Buffer
	if err := runAnalyze(context.Background(), docURL, flags, &stdout); err != nil {
		t.Fatalf("runAnalyze: %v", err)
	}
	if !strings.Contains(stdout.String(), "2 compliance gaps found") {
		t.Errorf("summary missing from text output:\n%s", stdout.String())
	}
}

func TestRunAnalyze_FailOn(t *testing.T) {
	tests := []struct {
		failOn string
		want   int
	}{
		{"high", 0},
		{"medium", 2},
		{"low", 2},
	}
	for _, tt := range tests {
		t.Run(tt.failOn, func(t *testing.T) {
			setTestEnv(t)
			pdfco := setupMockPDFCo(t, applicationText, http.StatusOK)
			openai, _ := setupMockOpenAI(t, gapAnalysis)

			flags := testFlags(pdfco, openai)
			flags.failOn = tt.failOn

			err := runAnalyze(context.Background(), docURL, flags, &bytes.Buffer{})
			if tt.want == 0 {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			if got := exitCode(err); got != tt.want {
				t.Errorf("exit code = %d, want %d (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestRunAnalyze_AllRulesMatched_NoLLMCalls(t *testing.T) {
	setTestEnv(t)
	text := applicationText + " Our business continuity plan and complaints handling procedure are attached."
	pdfco := setupMockPDFCo(t, text, http.StatusOK)
	openai, calls := setupMockOpenAI(t, gapAnalysis)

	var stdout bytes.Buffer
	if err := runAnalyze(context.Background(), docURL, testFlags(pdfco, openai), &stdout); err != nil {
		t.Fatalf("runAnalyze: %v", err)
	}
	report := decodeReport(t, stdout.Bytes())
	if report.Result.Summary != "0 compliance gaps found" {
		t.Errorf("summary = %q", report.Result.Summary)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no LLM requests, got %d", calls.Load())
	}
	if report.Score != 100 {
		t.Errorf("score = %d, want 100", report.Score)
	}
}

func TestRunAnalyze_ExtractionFailed_ExitsCode5(t *testing.T) {
	setTestEnv(t)
	pdfco := setupMockPDFCo(t, "", http.StatusInternalServerError)
	openai, calls := setupMockOpenAI(t, gapAnalysis)

	var stdout bytes.Buffer
	err := runAnalyze(context.Background(), docURL, testFlags(pdfco, openai), &stdout)
	if got := exitCode(err); got != 5 {
		t.Fatalf("exit code = %d, want 5 (err %v)", got, err)
	}
	var res schema.ErrorResult
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		t.Fatalf("expected error JSON: %v\n%s", err, stdout.String())
	}
	if res.Error != "Text extraction failed" {
		t.Errorf("error = %q", res.Error)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no LLM requests, got %d", calls.Load())
	}
}

func TestRunAnalyze_MissingPDFCoKey_ExitsCode3(t *testing.T) {
	setTestEnv(t)
	t.Setenv("PDFCO_API_KEY", "")
	pdfco := setupMockPDFCo(t, applicationText, http.StatusOK)
	openai, calls := setupMockOpenAI(t, gapAnalysis)

	err := runAnalyze(context.Background(), docURL, testFlags(pdfco, openai), &bytes.Buffer{})
	if got := exitCode(err); got != 3 {
		t.Fatalf("exit code = %d, want 3 (err %v)", got, err)
	}
	if !strings.Contains(err.Error(), "PDFCO_API_KEY") {
		t.Errorf("error should name the variable: %v", err)
	}
	if calls.Load() != 0 {
		t.Error("no requests expected before credentials are present")
	}
}

func TestRunAnalyze_MissingLLMKey_ExitsCode3(t *testing.T) {
	setTestEnv(t)
	t.Setenv("OPENAI_API_KEY", "")
	pdfco := setupMockPDFCo(t, applicationText, http.StatusOK)
	openai, _ := setupMockOpenAI(t, gapAnalysis)

	err := runAnalyze(context.Background(), docURL, testFlags(pdfco, openai), &bytes.Buffer{})
	if got := exitCode(err); got != 3 {
		t.Fatalf("exit code = %d, want 3 (err %v)", got, err)
	}
	if !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Errorf("error should name the variable: %v", err)
	}
}

func TestRunAnalyze_InvalidFormat_ExitsCode3(t *testing.T) {
	setTestEnv(t)
	pdfco := setupMockPDFCo(t, applicationText, http.StatusOK)
	openai, _ := setupMockOpenAI(t, gapAnalysis)

	flags := testFlags(pdfco, openai)
	flags.format = "xml"
	if got := exitCode(runAnalyze(context.Background(), docURL, flags, &bytes.Buffer{})); got != 3 {
		t.Errorf("exit code = %d, want 3", got)
	}
}

func TestRunAnalyze_UnknownProvider_ExitsCode3(t *testing.T) {
	setTestEnv(t)
	pdfco := setupMockPDFCo(t, applicationText, http.StatusOK)
	openai, _ := setupMockOpenAI(t, gapAnalysis)

	flags := testFlags(pdfco, openai)
	flags.model = "mystery:model"
	flags.set["model"] = true
	if got := exitCode(runAnalyze(context.Background(), docURL, flags, &bytes.Buffer{})); got != 3 {
		t.Errorf("exit code = %d, want 3", got)
	}
}

func TestRunAnalyze_DegradedGap(t *testing.T) {
	setTestEnv(t)
	pdfco := setupMockPDFCo(t, applicationText, http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	var stdout bytes.Buffer
	if err := runAnalyze(context.Background(), docURL, testFlags(pdfco, srv), &stdout); err != nil {
		t.Fatalf("runAnalyze: %v", err)
	}
	report := decodeReport(t, stdout.Bytes())
	if len(report.Result.Gaps) != 2 {
		t.Fatalf("expected 2 gaps, got %d", len(report.Result.Gaps))
	}
	for _, g := range report.Result.Gaps {
		if g.Error == "" || !strings.HasPrefix(g.Analysis, "Analysis unavailable: ") {
			t.Errorf("gap %s not degraded: %+v", g.ID, g)
		}
	}
}

func TestRunAnalyze_FailFast_ExitsCode5(t *testing.T) {
	setTestEnv(t)
	pdfco := setupMockPDFCo(t, applicationText, http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	flags := testFlags(pdfco, srv)
	flags.failFast = true
	flags.set["fail-fast"] = true
	if got := exitCode(runAnalyze(context.Background(), docURL, flags, &bytes.Buffer{})); got != 5 {
		t.Errorf("exit code = %d, want 5", got)
	}
}

func TestRunAnalyze_ConfigFile(t *testing.T) {
	setTestEnv(t)
	pdfco := setupMockPDFCo(t, applicationText, http.StatusOK)
	openai, _ := setupMockOpenAI(t, gapAnalysis)

	cfgPath := filepath.Join(t.TempDir(), "vaspgap.yaml")
	cfg := "model: openai:gpt-4o\n" +
		"extractor:\n  endpoint: " + pdfco.URL + "\n" +
		"llm:\n  baseURL: " + openai.URL + "/v1\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	flags := analyzeFlags{format: "json", configPath: cfgPath, set: map[string]bool{}}
	var stdout bytes.Buffer
	if err := runAnalyze(context.Background(), docURL, flags, &stdout); err != nil {
		t.Fatalf("runAnalyze: %v", err)
	}
	report := decodeReport(t, stdout.Bytes())
	if report.Meta.Model != "openai:gpt-4o" {
		t.Errorf("model = %q, want config value", report.Meta.Model)
	}
}

func TestLoadConfig_FlagsOverrideOnlyWhenSet(t *testing.T) {
	setTestEnv(t)
	flags := analyzeFlags{
		concurrency: 9,
		failFast:    true,
		noRedact:    true,
		set:         map[string]bool{"fail-fast": true},
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.LLM.Concurrency != 1 {
		t.Errorf("unset --concurrency should keep default, got %d", cfg.LLM.Concurrency)
	}
	if !cfg.LLM.FailFast {
		t.Error("--fail-fast was set and should apply")
	}
	if !cfg.LLM.Redact {
		t.Error("unset --no-redact should keep redaction on")
	}
}

func TestRunRules(t *testing.T) {
	var stdout bytes.Buffer
	if err := runRules("", "", "text", &stdout); err != nil {
		t.Fatalf("runRules: %v", err)
	}
	out := stdout.String()
	if !strings.HasPrefix(out, "builtin:dubai-vasp (10 rules)") {
		t.Errorf("unexpected header:\n%s", out)
	}
	if !strings.Contains(out, "VARA-AML-01 [CRITICAL]") {
		t.Errorf("missing rule line:\n%s", out)
	}

	stdout.Reset()
	if err := runRules("", "", "json", &stdout); err != nil {
		t.Fatalf("runRules json: %v", err)
	}
	var listed struct {
		Source string `json:"source"`
		Rules  []struct {
			ID string `json:"id"`
		} `json:"rules"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &listed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(listed.Rules) != 10 || listed.Rules[0].ID != "VARA-AML-01" {
		t.Errorf("unexpected rules listing: %+v", listed)
	}

	if got := exitCode(runRules("", "", "yaml", &bytes.Buffer{})); got != 3 {
		t.Errorf("bad format exit code = %d, want 3", got)
	}
}

func TestRunRules_SingleRule(t *testing.T) {
	var stdout bytes.Buffer
	if err := runRules("", "VARA-BCP-07", "text", &stdout); err != nil {
		t.Fatalf("runRules: %v", err)
	}
	out := stdout.String()
	if !strings.HasPrefix(out, "VARA-BCP-07 [MEDIUM]") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "  question:  ") {
		t.Errorf("single rule should show its question:\n%s", out)
	}

	stdout.Reset()
	if err := runRules("", "VARA-BCP-07", "json", &stdout); err != nil {
		t.Fatalf("runRules json: %v", err)
	}
	var r struct {
		ID          string `json:"id"`
		Criticality string `json:"criticality"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &r); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if r.ID != "VARA-BCP-07" || r.Criticality != "medium" {
		t.Errorf("unexpected rule: %+v", r)
	}

	if got := exitCode(runRules("", "VARA-NOPE-99", "text", &bytes.Buffer{})); got != 3 {
		t.Errorf("unknown rule exit code = %d, want 3", got)
	}
}
