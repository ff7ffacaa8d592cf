package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ashureev/voicedesk/internal/domain"
	"github.com/ashureev/voicedesk/internal/elevenlabs"
	"github.com/ashureev/voicedesk/internal/handoff"
	"github.com/ashureev/voicedesk/internal/identity"
	"github.com/ashureev/voicedesk/internal/knowledge"
	"github.com/ashureev/voicedesk/internal/notify"
	"github.com/ashureev/voicedesk/internal/provision"
	"github.com/ashureev/voicedesk/internal/secrets"
	"github.com/ashureev/voicedesk/internal/store"
	"github.com/ashureev/voicedesk/internal/voice"
	"github.com/ashureev/voicedesk/internal/wizard"
)

const jwtSecret = "test-jwt-secret"

// fakeVendor stands in for the ElevenLabs API.
type fakeVendor struct {
	creates atomic.Int32
	speech  atomic.Int32
	mu      sync.Mutex
	last    elevenlabs.AgentConfig
	status  atomic.Int32
}

func (f *fakeVendor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if code := f.status.Load(); code != 0 {
		w.WriteHeader(int(code))
		fmt.Fprint(w, `{"detail":"vendor unavailable"}`)
		return
	}
	switch {
	case r.URL.Path == "/v1/convai/agents/create":
		n := f.creates.Add(1)
		var cfg elevenlabs.AgentConfig
		_ = json.NewDecoder(r.Body).Decode(&cfg)
		f.mu.Lock()
		f.last = cfg
		f.mu.Unlock()
		fmt.Fprintf(w, `{"agent_id":"agent_%d"}`, n)
	case strings.HasPrefix(r.URL.Path, "/v1/text-to-speech/"):
		f.speech.Add(1)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-audio"))
	default:
		http.NotFound(w, r)
	}
}

type testEnv struct {
	srv    *httptest.Server
	vendor *fakeVendor
	repo   *store.SQLStore
	hub    *notify.Hub
	client *http.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	repo, err := store.NewSQLite(filepath.Join(dir, "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	if err := repo.PutSecret(context.Background(), secrets.VendorAPIKey, "xi-test"); err != nil {
		t.Fatalf("PutSecret failed: %v", err)
	}

	vendor := &fakeVendor{}
	vendorSrv := httptest.NewServer(vendor)
	t.Cleanup(vendorSrv.Close)

	kb, err := knowledge.NewStore(filepath.Join(dir, "kb"), 1024)
	if err != nil {
		t.Fatalf("knowledge.NewStore failed: %v", err)
	}

	catalog := voice.Default()
	src := secrets.Chain{secrets.Store{Secrets: repo}}
	client := elevenlabs.NewClientWithBaseURL(vendorSrv.URL, 2*time.Second)
	hub := notify.NewHub()
	prov := provision.New(catalog, src, client, kb)

	h := NewHandler(Deps{
		Repo:          repo,
		Auth:          identity.NewAuthenticator(jwtSecret, "authenticated", ""),
		Wizard:        wizard.NewService(repo, catalog),
		Orchestrator:  handoff.NewOrchestrator(repo, repo, prov, hub, "/signup", time.Hour),
		Reactor:       handoff.NewReactor(repo, repo, prov, hub),
		Voices:        catalog,
		Previewer:     voice.NewPreviewer(catalog, src, client),
		Knowledge:     kb,
		ReplayTimeout: 5 * time.Second,
	})

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewHealthHandler(repo).RegisterHealth(r)
	h.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, _ := cookiejar.New(nil)
	return &testEnv{srv: srv, vendor: vendor, repo: repo, hub: hub, client: &http.Client{Jar: jar}}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"aud": "authenticated",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

// deviceID makes a first request and returns the device cookie it was issued.
func (e *testEnv) deviceID(t *testing.T) string {
	t.Helper()
	resp, _ := e.do(t, http.MethodGet, "/api/wizard", "", nil)
	for _, c := range e.client.Jar.Cookies(resp.Request.URL) {
		if c.Name == identity.DeviceCookieName {
			return c.Value
		}
	}
	t.Fatal("no device cookie issued")
	return ""
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func TestAcmeOnboardingFlow(t *testing.T) {
	env := newTestEnv(t)
	owner := token(t, "user-1")

	resp, data := env.do(t, http.MethodGet, "/api/wizard", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET wizard: %d %s", resp.StatusCode, data)
	}
	if w := decode[wizardResponse](t, data); w.Step != wizard.StepBusiness || w.Draft.VoiceStyle != domain.VoiceFriendly {
		t.Fatalf("unexpected initial wizard %+v", w)
	}

	resp, data = env.do(t, http.MethodPatch, "/api/wizard", "", map[string]string{
		"businessName": "Acme IT",
		"agentName":    "Ava",
		"voiceStyle":   "calm",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PATCH wizard: %d %s", resp.StatusCode, data)
	}

	for i := 0; i < wizard.LastStep-1; i++ {
		if resp, data = env.do(t, http.MethodPost, "/api/wizard/next", "", nil); resp.StatusCode != http.StatusOK {
			t.Fatalf("next %d: %d %s", i, resp.StatusCode, data)
		}
	}
	resp, data = env.do(t, http.MethodPost, "/api/wizard/next", "", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit: %d %s", resp.StatusCode, data)
	}
	submitted := decode[wizardResponse](t, data)
	if submitted.Outcome == nil || submitted.Outcome.Status != handoff.OutcomeDeferred || submitted.Outcome.RedirectTo != "/signup" {
		t.Fatalf("unexpected outcome %+v", submitted.Outcome)
	}
	if env.vendor.creates.Load() != 0 {
		t.Fatal("vendor called while unauthenticated")
	}

	_, data = env.do(t, http.MethodGet, "/api/pending", "", nil)
	pending := decode[struct {
		Pending *domain.PendingConfiguration `json:"pending"`
	}](t, data)
	want := domain.DraftConfiguration{BusinessName: "Acme IT", AgentName: "Ava", VoiceStyle: domain.VoiceCalm}
	if pending.Pending == nil || pending.Pending.Draft != want {
		t.Fatalf("pending slot = %+v", pending.Pending)
	}

	resp, data = env.do(t, http.MethodPost, "/api/auth/events", owner, map[string]string{"event": "SIGNED_IN"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("auth event: %d %s", resp.StatusCode, data)
	}
	replay := decode[authEventResponse](t, data)
	if !replay.Replayed || replay.Agent.Name != "Acme IT" || replay.Agent.RemoteAgentID != "agent_1" {
		t.Fatalf("unexpected replay %+v", replay)
	}
	env.vendor.mu.Lock()
	agentCfg := env.vendor.last.ConversationConfig.Agent
	env.vendor.mu.Unlock()
	if agentCfg.Prompt.Prompt != "You are Ava, a helpful AI assistant for Acme IT." ||
		agentCfg.FirstMessage != "Hello! I'm Ava, how can I help you today?" {
		t.Fatalf("defaults not templated: %+v", agentCfg)
	}

	resp, data = env.do(t, http.MethodPost, "/api/auth/events", owner, map[string]string{"event": "SIGNED_IN"})
	if resp.StatusCode != http.StatusOK || decode[authEventResponse](t, data).Replayed {
		t.Fatalf("second sign-in replayed: %d %s", resp.StatusCode, data)
	}
	if env.vendor.creates.Load() != 1 {
		t.Fatalf("vendor calls = %d, want 1", env.vendor.creates.Load())
	}

	_, data = env.do(t, http.MethodGet, "/api/pending", "", nil)
	if decode[map[string]any](t, data)["pending"] != nil {
		t.Fatalf("pending slot not empty: %s", data)
	}

	_, data = env.do(t, http.MethodGet, "/api/agents", owner, nil)
	list := decode[struct {
		Agents []domain.AgentRecord `json:"agents"`
	}](t, data)
	if len(list.Agents) != 1 {
		t.Fatalf("agents = %d, want 1", len(list.Agents))
	}
	id := list.Agents[0].ID

	resp, data = env.do(t, http.MethodPatch, "/api/agents/"+id, owner, map[string]string{"name": "Acme Support"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PATCH agent: %d %s", resp.StatusCode, data)
	}
	edited := decode[domain.AgentRecord](t, data)
	if edited.Name != "Acme Support" || edited.VoiceStyle != domain.VoiceCalm || edited.RemoteAgentID != "agent_1" {
		t.Fatalf("unexpected edit %+v", edited)
	}

	resp, _ = env.do(t, http.MethodPatch, "/api/agents/"+id, owner, map[string]string{"voice_style": "energetic"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("immutable field accepted: %d", resp.StatusCode)
	}

	_, data = env.do(t, http.MethodGet, "/api/agents/"+id+"/embed", owner, nil)
	if snippet := decode[map[string]string](t, data)["snippet"]; !strings.Contains(snippet, `agent-id="agent_1"`) {
		t.Fatalf("snippet = %q", snippet)
	}

	intruder := token(t, "user-2")
	if resp, _ = env.do(t, http.MethodGet, "/api/agents/"+id, intruder, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("other user saw agent: %d", resp.StatusCode)
	}
	if resp, _ = env.do(t, http.MethodDelete, "/api/agents/"+id, intruder, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("other user deleted agent: %d", resp.StatusCode)
	}

	if resp, _ = env.do(t, http.MethodDelete, "/api/agents/"+id, owner, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE agent: %d", resp.StatusCode)
	}
	_, data = env.do(t, http.MethodGet, "/api/agents", owner, nil)
	if n := len(decode[struct {
		Agents []domain.AgentRecord `json:"agents"`
	}](t, data).Agents); n != 0 {
		t.Fatalf("agents after delete = %d", n)
	}
}

func TestSubmitWhileSignedInCreatesImmediately(t *testing.T) {
	env := newTestEnv(t)
	owner := token(t, "user-1")

	env.do(t, http.MethodPatch, "/api/wizard", owner, map[string]string{"businessName": "Acme IT", "agentName": "Ava"})
	var resp *http.Response
	var data []byte
	for i := 0; i < wizard.LastStep; i++ {
		resp, data = env.do(t, http.MethodPost, "/api/wizard/next", owner, nil)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", resp.StatusCode, data)
	}
	out := decode[wizardResponse](t, data).Outcome
	if out == nil || out.Status != handoff.OutcomeCreated || out.Agent.OwnerID != "user-1" {
		t.Fatalf("unexpected outcome %+v", out)
	}

	_, data = env.do(t, http.MethodGet, "/api/wizard", owner, nil)
	if w := decode[wizardResponse](t, data); w.Step != wizard.StepBusiness || w.Draft.AgentName != "" {
		t.Fatalf("wizard not reset after creation: %+v", w)
	}
}

func TestSignInWithEmptySlotDoesNothing(t *testing.T) {
	env := newTestEnv(t)
	resp, data := env.do(t, http.MethodPost, "/api/auth/events", token(t, "user-1"), map[string]string{"event": "SIGNED_IN"})
	if resp.StatusCode != http.StatusOK || decode[authEventResponse](t, data).Replayed {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, data)
	}
	if env.vendor.creates.Load() != 0 {
		t.Fatal("vendor called with empty slot")
	}
}

func TestVendorFailureIsRecoverable(t *testing.T) {
	env := newTestEnv(t)
	owner := token(t, "user-1")

	for i := 0; i < wizard.LastStep; i++ {
		env.do(t, http.MethodPost, "/api/wizard/next", "", nil)
	}

	env.vendor.status.Store(http.StatusServiceUnavailable)
	resp, data := env.do(t, http.MethodPost, "/api/auth/events", owner, map[string]string{"event": "SIGNED_IN"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("auth event: %d %s", resp.StatusCode, data)
	}

	env.vendor.status.Store(0)
	resp, data = env.do(t, http.MethodPost, "/api/auth/events", owner, map[string]string{"event": "SIGNED_IN"})
	if resp.StatusCode != http.StatusOK || decode[authEventResponse](t, data).Replayed {
		t.Fatalf("failed item replayed by sign-in: %d %s", resp.StatusCode, data)
	}

	resp, data = env.do(t, http.MethodPost, "/api/pending/retry", owner, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("retry: %d %s", resp.StatusCode, data)
	}
	if resp, _ = env.do(t, http.MethodPost, "/api/pending/retry", owner, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second retry: %d", resp.StatusCode)
	}
}

func TestDiscardPending(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < wizard.LastStep; i++ {
		env.do(t, http.MethodPost, "/api/wizard/next", "", nil)
	}
	if resp, _ := env.do(t, http.MethodDelete, "/api/pending", "", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE pending: %d", resp.StatusCode)
	}
	_, data := env.do(t, http.MethodGet, "/api/pending", "", nil)
	if decode[map[string]any](t, data)["pending"] != nil {
		t.Fatalf("slot not empty: %s", data)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/agents", "/api/agents/x/embed"} {
		if resp, _ := env.do(t, http.MethodGet, path, "", nil); resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s: %d, want 401", path, resp.StatusCode)
		}
	}
	if resp, _ := env.do(t, http.MethodGet, "/api/agents", "forged", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("forged token: %d, want 401", resp.StatusCode)
	}
}

func TestWizardRejectsUnknownVoice(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPatch, "/api/wizard", "", map[string]string{"voiceStyle": "whisper"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWizardDefaults(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPatch, "/api/wizard", "", map[string]string{"businessName": "Acme IT", "agentName": "Ava"})
	_, data := env.do(t, http.MethodGet, "/api/wizard/defaults", "", nil)
	got := decode[map[string]string](t, data)
	if got["welcomeMessage"] != "Hi, thank you for calling Acme IT, my name is Ava, how can I assist you today?" {
		t.Fatalf("welcome = %q", got["welcomeMessage"])
	}
}

func TestVoices(t *testing.T) {
	env := newTestEnv(t)

	_, data := env.do(t, http.MethodGet, "/api/voices", "", nil)
	if got := decode[struct {
		Voices []voice.Voice `json:"voices"`
	}](t, data); len(got.Voices) != 4 {
		t.Fatalf("voices = %d", len(got.Voices))
	}

	resp, data := env.do(t, http.MethodGet, "/api/voices/calm/preview", "", nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "audio/mpeg" || string(data) != "ID3-audio" {
		t.Fatalf("preview: %d %q %q", resp.StatusCode, resp.Header.Get("Content-Type"), data)
	}

	if resp, _ = env.do(t, http.MethodGet, "/api/voices/whisper/preview", "", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown style: %d", resp.StatusCode)
	}

	env.vendor.status.Store(http.StatusInternalServerError)
	if resp, _ = env.do(t, http.MethodGet, "/api/voices/calm/preview", "", nil); resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("vendor failure: %d", resp.StatusCode)
	}
}

func TestUploadKnowledgeBase(t *testing.T) {
	env := newTestEnv(t)

	upload := func(name, content string) (*http.Response, []byte) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, _ := mw.CreateFormFile("file", name)
		_, _ = fw.Write([]byte(content))
		_ = mw.Close()
		req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/api/knowledge-base", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		resp, err := env.client.Do(req)
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return resp, data
	}

	resp, data := upload("faq.txt", "We open at 9am.")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: %d %s", resp.StatusCode, data)
	}
	got := decode[struct {
		Document knowledge.Document `json:"document"`
		Wizard   wizardResponse     `json:"wizard"`
	}](t, data)
	if got.Document.Ref == "" || got.Wizard.Draft.KnowledgeBaseRef != got.Document.Ref {
		t.Fatalf("draft not linked: %+v", got)
	}

	if resp, _ = upload("logo.png", "png"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unsupported type: %d", resp.StatusCode)
	}
	if resp, _ = upload("big.txt", strings.Repeat("a", 2048)); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("oversized file: %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, data := env.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"healthy"`) {
		t.Fatalf("health: %d %s", resp.StatusCode, data)
	}
}

func TestNotificationsQueuedForDevice(t *testing.T) {
	env := newTestEnv(t)
	dev := env.deviceID(t)
	for i := 0; i < wizard.LastStep; i++ {
		env.do(t, http.MethodPost, "/api/wizard/next", "", nil)
	}
	box := env.hub.Pending(dev)
	if len(box) != 1 || box[0].Kind != domain.NotifyInfo {
		t.Fatalf("mailbox = %+v", box)
	}
}

func TestPendingDetailsVisibleOnlyToAttemptingUser(t *testing.T) {
	env := newTestEnv(t)
	dev := env.deviceID(t)
	now := time.Now().UTC()

	if err := env.repo.PutPending(context.Background(), &domain.PendingConfiguration{
		RequestID: "req-1", DeviceID: dev, FormatVersion: domain.PendingFormatVersion,
		Draft:  domain.DraftConfiguration{BusinessName: "Acme IT", AgentName: "Ava", VoiceStyle: domain.VoiceCalm},
		Status: domain.PendingFailed, Attempts: 1,
		ClaimedBy: "user-1", RemoteAgentID: "agent_9", LastError: "insert failed",
		CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("PutPending failed: %v", err)
	}

	for _, bearer := range []string{"", token(t, "user-2")} {
		_, data := env.do(t, http.MethodGet, "/api/pending", bearer, nil)
		body := string(data)
		for _, leaked := range []string{"agent_9", "user-1", "insert failed", "Acme IT"} {
			if strings.Contains(body, leaked) {
				t.Errorf("pending response leaks %q: %s", leaked, body)
			}
		}
		if !strings.Contains(body, `"status":"failed"`) {
			t.Errorf("status missing: %s", body)
		}
	}

	_, data := env.do(t, http.MethodGet, "/api/pending", token(t, "user-1"), nil)
	got := decode[struct {
		Pending pendingResponse `json:"pending"`
	}](t, data).Pending
	if got.RemoteAgentID != "agent_9" || got.LastError != "insert failed" || got.Draft == nil || got.Draft.BusinessName != "Acme IT" {
		t.Fatalf("owner view incomplete: %+v", got)
	}
	if strings.Contains(string(data), "claimed_by") {
		t.Errorf("claimed_by serialized: %s", data)
	}

	if resp, _ := env.do(t, http.MethodPost, "/api/pending/retry", token(t, "user-2"), nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("other user retry: %d, want 404", resp.StatusCode)
	}
}

func TestExpiredPendingIsHidden(t *testing.T) {
	env := newTestEnv(t)
	dev := env.deviceID(t)
	past := time.Now().UTC().Add(-2 * time.Hour)

	if err := env.repo.PutPending(context.Background(), &domain.PendingConfiguration{
		RequestID: "req-old", DeviceID: dev, FormatVersion: domain.PendingFormatVersion,
		Draft: domain.NewDraft(), Status: domain.PendingWaiting,
		CreatedAt: past, UpdatedAt: past, ExpiresAt: past.Add(time.Hour),
	}); err != nil {
		t.Fatalf("PutPending failed: %v", err)
	}

	_, data := env.do(t, http.MethodGet, "/api/pending", "", nil)
	if decode[map[string]any](t, data)["pending"] != nil {
		t.Fatalf("expired item returned: %s", data)
	}
}
