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

	"contractflow/catalog"
	"contractflow/clock"
	"contractflow/contract"
	"contractflow/escrow"
	"contractflow/generate"
	"contractflow/journal"
	"contractflow/logging"
	"contractflow/marketplace"
	"contractflow/negotiation"
	"contractflow/signature"
	"contractflow/thread"
	"contractflow/workflow"
)

type testAPI struct {
	t       *testing.T
	server  *Server
	handler http.Handler
	clock   *clock.Manual
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	srv := newServer(catalog.MustDefault(), generate.Template{Heading: "CONTRACT"}, journal.Nop(), logging.Nop(), serverOptions{
		JWTSecret: "test-secret",
		FeeBPS:    250,
		Clock:     clk,
	})
	return &testAPI{t: t, server: srv, handler: srv.routes(), clock: clk}
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			a.t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	var req *http.Request
	if reader != nil {
		req = httptest.NewRequest(method, path, reader)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

// expect fails unless the response has the given status and decodes the
// body into out when out is not nil.
func (a *testAPI) expect(rec *httptest.ResponseRecorder, status int, out any) {
	a.t.Helper()
	if rec.Code != status {
		a.t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	if out == nil {
		return
	}
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		a.t.Fatalf("decode response: %v", err)
	}
}

// signUp registers and logs in a user, returning its token and id.
func (a *testAPI) signUp(email, name, accountType string) (string, string) {
	a.t.Helper()
	var user userResponse
	a.expect(a.do(http.MethodPost, "/api/auth/register", "", map[string]any{
		"email":        email,
		"password":     "correct-horse",
		"full_name":    name,
		"account_type": accountType,
	}), http.StatusCreated, &user)

	var login struct {
		Token string       `json:"token"`
		User  userResponse `json:"user"`
	}
	a.expect(a.do(http.MethodPost, "/api/auth/login", "", map[string]any{
		"email":    email,
		"password": "correct-horse",
	}), http.StatusOK, &login)
	if login.Token == "" || login.User.ID != user.ID {
		a.t.Fatalf("unexpected login payload: %+v", login)
	}
	return login.Token, user.ID
}

type errorPayload struct {
	RequestID string `json:"request_id"`
	Error     struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

// draftContract walks the wizard up to generated text for a contract between
// owner and counterparty.
func (a *testAPI) draftContract(ownerToken, ownerID, counterpartyID string) contract.State {
	a.t.Helper()
	var st contract.State
	a.expect(a.do(http.MethodPost, "/api/contracts", ownerToken, nil), http.StatusCreated, &st)
	base := "/api/contracts/" + st.ID

	a.expect(a.do(http.MethodPut, base+"/type", ownerToken, map[string]any{"contractType": "service_agreement"}), http.StatusOK, nil)
	a.expect(a.do(http.MethodPut, base+"/parties", ownerToken, map[string]any{"parties": []map[string]any{
		{"name": "Acme LLC", "role": "first_party", "userId": ownerID},
		{"name": "Jane Doe", "role": "second_party", "userId": counterpartyID},
	}}), http.StatusOK, nil)
	a.expect(a.do(http.MethodPut, base+"/terms", ownerToken, map[string]any{
		"scope":        "Website redesign",
		"jurisdiction": "Riyadh",
		"startDate":    "2026-06-01T00:00:00Z",
	}), http.StatusOK, nil)
	a.expect(a.do(http.MethodPut, base+"/financials", ownerToken, map[string]any{
		"amount":          1500000,
		"currency":        "SAR",
		"paymentSchedule": "milestones",
	}), http.StatusOK, nil)

	a.expect(a.do(http.MethodPost, base+"/generate", ownerToken, nil), http.StatusAccepted, nil)
	d, err := a.server.contracts.Get(st.ID)
	if err != nil {
		a.t.Fatalf("load contract: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	gen, err := d.Generation().Wait(ctx)
	if err != nil {
		a.t.Fatalf("wait for generation: %v", err)
	}
	if gen.Status != workflow.ActionSuccess {
		a.t.Fatalf("expected generation success, got %+v", gen)
	}
	return d.State()
}

func TestRoutes_RequireBearerToken(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodGet, "/api/me", "", nil)
	var payload errorPayload
	api.expect(rec, http.StatusUnauthorized, &payload)
	if payload.Error.Code != "UNAUTHORIZED" || payload.RequestID == "" {
		t.Fatalf("unexpected error payload: %+v", payload)
	}

	rec = api.do(http.MethodGet, "/api/me", "not-a-jwt", nil)
	api.expect(rec, http.StatusUnauthorized, nil)
}

func TestRegisterLoginAndMe(t *testing.T) {
	api := newTestAPI(t)
	token, id := api.signUp("Owner@Example.com", "Olivia Owner", "")

	var me userResponse
	api.expect(api.do(http.MethodGet, "/api/me", token, nil), http.StatusOK, &me)
	if me.ID != id || me.Email != "owner@example.com" {
		t.Fatalf("unexpected me payload: %+v", me)
	}
	if me.AccountType != "individual" || me.KYCStatus != "unverified" {
		t.Fatalf("unexpected defaults: %+v", me)
	}
	if _, err := time.Parse(time.RFC3339, me.CreatedAt); err != nil {
		t.Fatalf("createdAt is not RFC3339: %q", me.CreatedAt)
	}

	var dup errorPayload
	api.expect(api.do(http.MethodPost, "/api/auth/register", "", map[string]any{
		"email":     "owner@example.com",
		"password":  "another-pass",
		"full_name": "Someone Else",
	}), http.StatusConflict, &dup)
	if dup.Error.Code != "CONFLICT" {
		t.Fatalf("unexpected duplicate payload: %+v", dup)
	}
}

func TestReadJSON_RejectsUnknownFields(t *testing.T) {
	api := newTestAPI(t)
	token, _ := api.signUp("owner@example.com", "Olivia Owner", "")

	var payload errorPayload
	api.expect(api.do(http.MethodPost, "/api/wallet/deposit", token, map[string]any{
		"amount":   100,
		"currency": "SAR",
		"bonus":    true,
	}), http.StatusBadRequest, &payload)
	if payload.Error.Code != "BAD_JSON" {
		t.Fatalf("expected BAD_JSON, got %+v", payload)
	}
}

func TestContract_NotFoundAndForbidden(t *testing.T) {
	api := newTestAPI(t)
	ownerToken, _ := api.signUp("owner@example.com", "Olivia Owner", "")
	strangerToken, _ := api.signUp("stranger@example.com", "Sam Stranger", "")

	var payload errorPayload
	api.expect(api.do(http.MethodGet, "/api/contracts/missing", ownerToken, nil), http.StatusNotFound, &payload)
	if payload.Error.Code != "NOT_FOUND" || payload.RequestID == "" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	var st contract.State
	api.expect(api.do(http.MethodPost, "/api/contracts", ownerToken, nil), http.StatusCreated, &st)
	api.expect(api.do(http.MethodGet, "/api/contracts/"+st.ID, strangerToken, nil), http.StatusForbidden, nil)
}

func TestContract_WizardGateBlocksNext(t *testing.T) {
	api := newTestAPI(t)
	token, _ := api.signUp("owner@example.com", "Olivia Owner", "")

	var st contract.State
	api.expect(api.do(http.MethodPost, "/api/contracts", token, nil), http.StatusCreated, &st)

	var payload errorPayload
	api.expect(api.do(http.MethodPost, "/api/contracts/"+st.ID+"/next", token, nil), http.StatusBadRequest, &payload)
	if payload.Error.Code != "GATE_BLOCKED" {
		t.Fatalf("expected GATE_BLOCKED, got %+v", payload)
	}
	if payload.Error.Details["step"] == nil || payload.Error.Details["failed"] == nil {
		t.Fatalf("expected gate details, got %+v", payload.Error.Details)
	}
}

func TestContractFlow_NegotiateSignAndEscrow(t *testing.T) {
	api := newTestAPI(t)
	ownerToken, ownerID := api.signUp("owner@example.com", "Olivia Owner", "")
	otherToken, otherID := api.signUp("jane@example.com", "Jane Doe", "")

	drafted := api.draftContract(ownerToken, ownerID, otherID)
	base := "/api/contracts/" + drafted.ID

	doc := api.do(http.MethodGet, base+"/document", otherToken, nil)
	api.expect(doc, http.StatusOK, nil)
	if !strings.Contains(doc.Body.String(), "Acme LLC") || len(doc.Header().Get("X-Contract-Fingerprint")) != 64 {
		t.Fatalf("unexpected document: %q", doc.Body.String())
	}

	var sess negotiation.State
	api.expect(api.do(http.MethodPost, base+"/negotiation", ownerToken, nil), http.StatusCreated, &sess)
	if len(sess.Clauses) == 0 {
		t.Fatalf("expected clauses to negotiate")
	}

	var blocked errorPayload
	api.expect(api.do(http.MethodPost, base+"/signature", ownerToken, nil), http.StatusBadRequest, &blocked)
	if blocked.Error.Code != "GATE_BLOCKED" {
		t.Fatalf("expected GATE_BLOCKED, got %+v", blocked)
	}

	nbase := "/api/negotiations/" + sess.ID
	for _, c := range sess.Clauses {
		var p thread.Entry[negotiation.Proposal]
		api.expect(api.do(http.MethodPost, nbase+"/proposals", otherToken, map[string]any{
			"clauseId": c.ID,
			"text":     c.Text + " (agreed)",
		}), http.StatusCreated, &p)
		if p.Payload.Role != negotiation.RoleCounterparty {
			t.Fatalf("expected counterparty role, got %s", p.Payload.Role)
		}
		api.expect(api.do(http.MethodPost, nbase+"/proposals/"+p.ID+"/accept", otherToken, nil), http.StatusForbidden, nil)
		api.expect(api.do(http.MethodPost, nbase+"/proposals/"+p.ID+"/accept", ownerToken, nil), http.StatusOK, nil)
	}

	var cer signature.State
	api.expect(api.do(http.MethodPost, base+"/signature", ownerToken, nil), http.StatusCreated, &cer)
	if len(cer.Signers) != 2 {
		t.Fatalf("expected two signers, got %+v", cer.Signers)
	}

	var st contract.State
	api.expect(api.do(http.MethodGet, base, ownerToken, nil), http.StatusOK, &st)
	if st.Status != contract.StatusPendingSignature {
		t.Fatalf("expected pending_signature, got %s", st.Status)
	}
	for _, c := range st.Clauses {
		if !strings.HasSuffix(c.Text, "(agreed)") {
			t.Fatalf("clause %s kept pre-negotiation text: %q", c.ID, c.Text)
		}
	}

	sbase := "/api/signatures/" + cer.ID
	checklist := map[string]any{"reviewedDocument": true, "acceptedTerms": true, "identityConfirmed": true}
	tokens := map[string]string{ownerID: ownerToken, otherID: otherToken}
	for _, signer := range cer.Signers {
		api.expect(api.do(http.MethodPost, sbase+"/sign", tokens[signer.UserID], map[string]any{
			"partyId":   signer.PartyID,
			"checklist": checklist,
		}), http.StatusAccepted, nil)
	}

	var early errorPayload
	api.expect(api.do(http.MethodPost, sbase+"/complete", ownerToken, map[string]any{"idempotencyKey": "k-1"}), http.StatusBadRequest, &early)
	if early.Error.Code != "GATE_BLOCKED" {
		t.Fatalf("expected GATE_BLOCKED before every signer settled, got %+v", early)
	}
	api.clock.Advance(2 * time.Second)
	api.expect(api.do(http.MethodPost, sbase+"/complete", ownerToken, map[string]any{"idempotencyKey": "k-1"}), http.StatusOK, &cer)
	if cer.Status != signature.StatusCompleted {
		t.Fatalf("expected completed ceremony, got %s", cer.Status)
	}
	api.expect(api.do(http.MethodGet, base, ownerToken, nil), http.StatusOK, &st)
	if st.Status != contract.StatusSigned {
		t.Fatalf("expected signed contract, got %s", st.Status)
	}

	var acct escrow.AccountState
	api.expect(api.do(http.MethodPost, base+"/escrow", ownerToken, map[string]any{
		"conditions": []string{"delivery_confirmed"},
	}), http.StatusCreated, &acct)
	if acct.PayerID != ownerID || acct.PayeeID != otherID || acct.Amount != 1500000 || acct.Currency != "SAR" {
		t.Fatalf("unexpected escrow: %+v", acct)
	}
	for _, c := range acct.Conditions {
		if c.Kind == escrow.ConditionSignatureCompleted && !c.Met {
			t.Fatalf("signature condition should be met: %+v", acct.Conditions)
		}
	}

	api.expect(api.do(http.MethodPost, "/api/escrows/"+acct.ID+"/conditions/delivery_confirmed", otherToken, nil), http.StatusForbidden, nil)
	api.expect(api.do(http.MethodPost, "/api/escrows/"+acct.ID+"/conditions/signature_completed", ownerToken, nil), http.StatusBadRequest, nil)
}

func TestContractFlow_NegotiationFrozenDuringSignature(t *testing.T) {
	api := newTestAPI(t)
	ownerToken, ownerID := api.signUp("owner@example.com", "Olivia Owner", "")
	otherToken, otherID := api.signUp("jane@example.com", "Jane Doe", "")

	drafted := api.draftContract(ownerToken, ownerID, otherID)
	base := "/api/contracts/" + drafted.ID

	var sess negotiation.State
	api.expect(api.do(http.MethodPost, base+"/negotiation", ownerToken, nil), http.StatusCreated, &sess)
	nbase := "/api/negotiations/" + sess.ID
	propose := func(clauseID, text string) thread.Entry[negotiation.Proposal] {
		t.Helper()
		var p thread.Entry[negotiation.Proposal]
		api.expect(api.do(http.MethodPost, nbase+"/proposals", otherToken, map[string]any{
			"clauseId": clauseID,
			"text":     text,
		}), http.StatusCreated, &p)
		return p
	}
	for _, c := range sess.Clauses {
		p := propose(c.ID, c.Text+" (agreed)")
		api.expect(api.do(http.MethodPost, nbase+"/proposals/"+p.ID+"/accept", ownerToken, nil), http.StatusOK, nil)
	}
	fingerprint := func() string {
		t.Helper()
		doc := api.do(http.MethodGet, base+"/document", ownerToken, nil)
		api.expect(doc, http.StatusOK, nil)
		return doc.Header().Get("X-Contract-Fingerprint")
	}

	var cer signature.State
	api.expect(api.do(http.MethodPost, base+"/signature", ownerToken, nil), http.StatusCreated, &cer)
	if got := fingerprint(); got != cer.Fingerprint {
		t.Fatalf("document fingerprint %s differs from ceremony %s", got, cer.Fingerprint)
	}

	first := sess.Clauses[0]
	var closed errorPayload
	api.expect(api.do(http.MethodPost, nbase+"/proposals", otherToken, map[string]any{
		"clauseId": first.ID,
		"text":     "Rewritten after signing started.",
	}), http.StatusConflict, &closed)
	if closed.Error.Code != "CONFLICT" {
		t.Fatalf("expected CONFLICT, got %+v", closed)
	}
	api.expect(api.do(http.MethodPost, nbase+"/clauses/"+first.ID+"/suggest", ownerToken, nil), http.StatusConflict, nil)

	var frozen negotiation.State
	api.expect(api.do(http.MethodGet, nbase, ownerToken, nil), http.StatusOK, &frozen)
	if !frozen.Closed {
		t.Fatalf("expected negotiation closed while signing")
	}

	// Even with the session reopened directly, the contract text stays put
	// until the ceremony is declined.
	live, err := api.server.negotiations.Get(sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	live.Reopen()
	late := propose(first.ID, "Rewritten after signing started.")
	api.expect(api.do(http.MethodPost, nbase+"/proposals/"+late.ID+"/accept", ownerToken, nil), http.StatusConflict, nil)
	live.Close()
	if got := fingerprint(); got != cer.Fingerprint {
		t.Fatalf("fingerprint changed while signing: %s != %s", got, cer.Fingerprint)
	}

	var partyID string
	for _, signer := range cer.Signers {
		if signer.UserID == otherID {
			partyID = signer.PartyID
		}
	}
	api.expect(api.do(http.MethodPost, "/api/signatures/"+cer.ID+"/decline", otherToken, map[string]any{
		"partyId": partyID,
		"reason":  "payment terms",
	}), http.StatusOK, nil)

	var st contract.State
	api.expect(api.do(http.MethodGet, base, ownerToken, nil), http.StatusOK, &st)
	if st.Status != contract.StatusNegotiating {
		t.Fatalf("expected negotiating after decline, got %s", st.Status)
	}
	api.expect(api.do(http.MethodPost, nbase+"/proposals/"+late.ID+"/reject", ownerToken, nil), http.StatusOK, nil)
	amended := propose(first.ID, "Payment is due within 10 days.")
	api.expect(api.do(http.MethodPost, nbase+"/proposals/"+amended.ID+"/accept", ownerToken, nil), http.StatusOK, nil)

	var again signature.State
	api.expect(api.do(http.MethodPost, base+"/signature", ownerToken, nil), http.StatusCreated, &again)
	if again.ID == cer.ID || again.Fingerprint == cer.Fingerprint {
		t.Fatalf("expected a new ceremony over the amended text, got %+v", again)
	}
	if got := fingerprint(); got != again.Fingerprint {
		t.Fatalf("document fingerprint %s differs from ceremony %s", got, again.Fingerprint)
	}
	api.expect(api.do(http.MethodGet, base, ownerToken, nil), http.StatusOK, &st)
	if st.Clauses[0].Text != "Payment is due within 10 days." {
		t.Fatalf("amended clause not adopted: %q", st.Clauses[0].Text)
	}
}

func TestDisputes_ResolveFromOpenIsBadStatus(t *testing.T) {
	api := newTestAPI(t)
	token, _ := api.signUp("owner@example.com", "Olivia Owner", "")

	var st contract.State
	api.expect(api.do(http.MethodPost, "/api/contracts", token, nil), http.StatusCreated, &st)

	var rec struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	api.expect(api.do(http.MethodPost, "/api/disputes", token, map[string]any{
		"contractId": st.ID,
		"reason":     "late delivery",
	}), http.StatusCreated, &rec)
	if rec.Status != "open" {
		t.Fatalf("expected open dispute, got %+v", rec)
	}

	var list struct {
		Items []json.RawMessage `json:"items"`
		Total int               `json:"total"`
	}
	api.expect(api.do(http.MethodGet, "/api/disputes?contractId="+st.ID, token, nil), http.StatusOK, &list)
	if list.Total != 1 {
		t.Fatalf("expected one dispute, got %d", list.Total)
	}

	api.expect(api.do(http.MethodPatch, "/api/disputes/"+rec.ID, token, map[string]any{"status": "resolved"}), http.StatusBadRequest, nil)
	api.expect(api.do(http.MethodPost, "/api/disputes", token, map[string]any{"contractId": st.ID}), http.StatusBadRequest, nil)
}

func TestLawyerRegistrationJoinsDirectory(t *testing.T) {
	api := newTestAPI(t)
	token, id := api.signUp("counsel@example.com", "Lina Counsel", "lawyer")

	var profile marketplace.Profile
	api.expect(api.do(http.MethodGet, "/api/lawyers/"+id, token, nil), http.StatusOK, &profile)
	if profile.Name != "Lina Counsel" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
}

func TestHandleLawyers_List(t *testing.T) {
	server := &Server{directory: marketplace.NewDirectory(catalog.MustDefault())}

	req := httptest.NewRequest(http.MethodGet, "/api/lawyers?limit=1", nil)
	req = req.WithContext(context.WithValue(req.Context(), ctxKeyUserID, "user-1"))
	rec := httptest.NewRecorder()

	server.handleLawyers(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Items []marketplace.Profile `json:"items"`
		Total int                   `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Total != 1 || payload.Items[0].Name != "Daniel Reyes" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/lawyers?limit=abc", nil)
	rec = httptest.NewRecorder()
	server.handleLawyers(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestConsultation_BookedAfterDelay(t *testing.T) {
	api := newTestAPI(t)
	token, _ := api.signUp("owner@example.com", "Olivia Owner", "")

	var booking marketplace.BookingState
	api.expect(api.do(http.MethodPost, "/api/consultations", token, map[string]any{
		"lawyerId":    "lw-002",
		"packageId":   "document_review",
		"scheduledAt": api.clock.Now().Add(48 * time.Hour).Format(time.RFC3339),
	}), http.StatusAccepted, &booking)
	if booking.Booking.Status != workflow.ActionPending {
		t.Fatalf("expected pending booking, got %s", booking.Booking.Status)
	}

	api.clock.Advance(time.Second)
	api.expect(api.do(http.MethodGet, "/api/consultations/"+booking.ID, token, nil), http.StatusOK, &booking)
	if booking.Booking.Status != workflow.ActionSuccess || booking.Booking.Result.Fee != 60000 {
		t.Fatalf("unexpected booking: %+v", booking.Booking)
	}

	otherToken, _ := api.signUp("other@example.com", "Omar Other", "")
	api.expect(api.do(http.MethodGet, "/api/consultations/"+booking.ID, otherToken, nil), http.StatusNotFound, nil)
}

func TestWalletDeposit_RequiresCatalogCurrency(t *testing.T) {
	api := newTestAPI(t)
	token, _ := api.signUp("owner@example.com", "Olivia Owner", "")

	api.expect(api.do(http.MethodPost, "/api/wallet/deposit", token, map[string]any{"amount": 5000, "currency": "GBP"}), http.StatusBadRequest, nil)

	var wallet walletResponse
	api.expect(api.do(http.MethodPost, "/api/wallet/deposit", token, map[string]any{"amount": 5000, "currency": "sar"}), http.StatusCreated, &wallet)
	if wallet.Balance != 5000 || wallet.Currency != "SAR" || len(wallet.Transactions) != 1 {
		t.Fatalf("unexpected wallet: %+v", wallet)
	}
}
