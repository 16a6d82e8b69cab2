package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/bill-workflow/internal/application/permission"
	"github.com/garyjia/bill-workflow/internal/application/port"
	"github.com/garyjia/bill-workflow/internal/application/service"
	"github.com/garyjia/bill-workflow/internal/application/workflow"
	"github.com/garyjia/bill-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/bill-workflow/internal/domain/workflow"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type mockOrchestrator struct {
	lastReq    *workflow.BatchRequest
	result     *workflow.BatchResult
	err        error
	history    *workflow.BillHistory
	historyErr error
}

func (m *mockOrchestrator) BatchTransition(ctx context.Context, req workflow.BatchRequest) (*workflow.BatchResult, error) {
	m.lastReq = &req
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	res := &workflow.BatchResult{Successful: []workflow.Success{}, Failed: []workflow.Failure{}}
	for _, id := range req.BillIDs {
		res.Successful = append(res.Successful, workflow.Success{BillID: id})
	}
	res.SuccessCount = len(res.Successful)
	return res, nil
}

func (m *mockOrchestrator) History(ctx context.Context, billID string) (*workflow.BillHistory, error) {
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	return m.history, nil
}

type mockBillService struct {
	created   *service.CreateBillInput
	bill      *entity.Bill
	err       error
	lastPatch map[string]interface{}
	filter    port.BillFilter
}

func (m *mockBillService) Create(ctx context.Context, in service.CreateBillInput) (*entity.Bill, error) {
	m.created = &in
	if m.err != nil {
		return nil, m.err
	}
	return &entity.Bill{ID: "b-1", SerialNo: "262700001", VendorName: in.VendorName}, nil
}

func (m *mockBillService) Get(ctx context.Context, id string) (*entity.Bill, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.bill, nil
}

func (m *mockBillService) GetBySerialNo(ctx context.Context, serialNo string) (*entity.Bill, error) {
	return m.Get(ctx, serialNo)
}

func (m *mockBillService) List(ctx context.Context, filter port.BillFilter) ([]*entity.Bill, error) {
	m.filter = filter
	return nil, m.err
}

func (m *mockBillService) EditBusinessFields(ctx context.Context, id string, patch map[string]interface{}) (*entity.Bill, error) {
	m.lastPatch = patch
	if m.err != nil {
		return nil, m.err
	}
	return m.bill, nil
}

type mockStats struct {
	stuckAfter time.Duration
	now        time.Time
}

func (m *mockStats) Stats(ctx context.Context, stuckAfter time.Duration, now time.Time) (*service.Stats, error) {
	m.stuckAfter, m.now = stuckAfter, now
	return &service.Stats{CountsByState: map[string]int64{"Site_Officer": 2}}, nil
}

func (m *mockStats) StuckBills(ctx context.Context, stuckAfter time.Duration, now time.Time, limit int) ([]service.StuckBill, error) {
	return nil, nil
}

type mockResolver map[string][]string

func (m mockResolver) ResolveRoles(ctx context.Context, userID string) ([]string, error) {
	roles, ok := m[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", domainwf.ErrNotFound, userID)
	}
	return roles, nil
}

type fixture struct {
	orch   *mockOrchestrator
	bills  *mockBillService
	stats  *mockStats
	router *gin.Engine
}

var fixedNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, auth *Authenticator) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gate, err := permission.NewGate(permission.DefaultPolicy())
	require.NoError(t, err)

	f := &fixture{
		orch:  &mockOrchestrator{},
		bills: &mockBillService{},
		stats: &mockStats{},
	}
	srv := NewServer(DefaultServerConfig(), Dependencies{
		Orchestrator: f.orch,
		Gate:         gate,
		Bills:        f.bills,
		Stats:        f.stats,
		Roles:        mockResolver{"u-site": {"site_officer"}},
		Auth:         auth,
		Now:          func() time.Time { return fixedNow },
	}, nopLogger{})
	f.router = srv.Router()
	return f
}

func (f *fixture) do(method, path string, body interface{}, header ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func batchBody(roles []string, ids ...string) map[string]interface{} {
	return map[string]interface{}{
		"fromUser": map[string]interface{}{"id": "u-1", "name": "Site", "roles": roles},
		"toUser":   map[string]interface{}{"id": "u-2", "name": "Finance", "roles": []string{"pimo_mumbai"}},
		"billIds":  ids,
		"action":   "forward",
		"remarks":  "  ok\x00 ",
	}
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode(t, w).Success)
}

func TestBatchTransition(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantCode   string
		called     bool
	}{
		{"valid", batchBody([]string{"site_officer"}, "b-1", "b-2"), http.StatusOK, "", true},
		{"empty bill ids", batchBody([]string{"site_officer"}), http.StatusBadRequest, domainwf.CodeInvalidInput, false},
		{"unknown role", batchBody([]string{"janitor"}, "b-1"), http.StatusForbidden, domainwf.CodePermissionDenied, false},
		{"admin", batchBody([]string{"admin"}, "b-1"), http.StatusOK, "", true},
		{"malformed json", "not an object", http.StatusBadRequest, domainwf.CodeInvalidInput, false},
		{"unknown action", map[string]interface{}{
			"fromUser": map[string]interface{}{"id": "u-1"},
			"billIds":  []string{"b-1"},
			"action":   "teleport",
		}, http.StatusBadRequest, domainwf.CodeInvalidInput, false},
		{"recover without target", map[string]interface{}{
			"fromUser": map[string]interface{}{"id": "u-1", "roles": []string{"site_officer"}},
			"billIds":  []string{"b-1"},
			"action":   "recover",
		}, http.StatusBadRequest, domainwf.CodeInvalidInput, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			w := f.do(http.MethodPost, "/api/workflow/batch-transition", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decode(t, w).Code)
			assert.Equal(t, tt.called, f.orch.lastReq != nil)
		})
	}
}

func TestBatchTransition_SingleRoleField(t *testing.T) {
	f := newFixture(t, nil)
	body := map[string]interface{}{
		"fromUser": map[string]interface{}{"id": "u-1", "name": "Site", "role": "site_officer"},
		"toUser":   map[string]interface{}{"id": "u-2", "name": "Measurement", "role": "qs_measurement"},
		"billIds":  []string{"b-1"},
		"action":   "forward",
		"remarks":  "measured",
	}

	w := f.do(http.MethodPost, "/api/workflow/batch-transition", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, f.orch.lastReq)
	assert.Equal(t, []string{"site_officer"}, f.orch.lastReq.FromUser.Roles)
	assert.Equal(t, []string{"qs_measurement"}, f.orch.lastReq.ToUser.Roles)

	body["fromUser"] = map[string]interface{}{"id": "u-1", "name": "Site", "role": []string{" PIMO_Mumbai ", "it_department"}}
	w = f.do(http.MethodPost, "/api/workflow/batch-transition", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"pimo_mumbai", "it_department"}, f.orch.lastReq.FromUser.Roles)

	body["fromUser"] = map[string]interface{}{"id": "u-1", "name": "Site", "role": 7}
	f.orch.lastReq = nil
	w = f.do(http.MethodPost, "/api/workflow/batch-transition", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, f.orch.lastReq)
}

func TestBatchTransition_SanitizesRemarksAndReturnsResult(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(http.MethodPost, "/api/workflow/batch-transition", batchBody([]string{"site_officer"}, "b-1", "b-2"))
	require.Equal(t, http.StatusOK, w.Code)

	require.NotNil(t, f.orch.lastReq)
	assert.Equal(t, "ok", f.orch.lastReq.Remarks)

	var resp struct {
		Success bool                 `json:"success"`
		Data    workflow.BatchResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.SuccessCount)
	assert.Equal(t, "b-2", resp.Data.Successful[1].BillID)
}

func TestBatchTransition_ResolvesDirectoryRoles(t *testing.T) {
	f := newFixture(t, nil)
	body := batchBody(nil, "b-1")
	body["fromUser"] = map[string]interface{}{"id": "u-site", "name": "Site"}

	w := f.do(http.MethodPost, "/api/workflow/batch-transition", body)
	assert.Equal(t, http.StatusOK, w.Code)

	body["fromUser"] = map[string]interface{}{"id": "u-unknown", "name": "Nobody"}
	f.orch.lastReq = nil
	w = f.do(http.MethodPost, "/api/workflow/batch-transition", body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Nil(t, f.orch.lastReq)
}

func TestBatchTransition_OrchestratorError(t *testing.T) {
	f := newFixture(t, nil)
	f.orch.err = fmt.Errorf("%w: disk on fire", domainwf.ErrPersistence)

	w := f.do(http.MethodPost, "/api/workflow/batch-transition", batchBody([]string{"site_officer"}, "b-1"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "internal error", resp.Error)
	assert.Equal(t, domainwf.CodePersistence, resp.Code)
}

func signToken(t *testing.T, secret, subject string, roles []string) string {
	t.Helper()
	claims := billClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Name:  "Token User",
		Roles: roles,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuth(t *testing.T) {
	const secret = "test-secret"
	f := newFixture(t, NewAuthenticator(secret))

	w := f.do(http.MethodPost, "/api/workflow/batch-transition", batchBody([]string{"site_officer"}, "b-1"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/api/workflow/batch-transition", batchBody([]string{"site_officer"}, "b-1"),
		"Authorization", "Bearer "+signToken(t, "other-secret", "u-9", []string{"admin"}))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// the token's principal replaces the declared fromUser
	w = f.do(http.MethodPost, "/api/workflow/batch-transition", batchBody([]string{"janitor"}, "b-1"),
		"Authorization", "Bearer "+signToken(t, secret, "u-9", []string{"pimo_mumbai"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "u-9", f.orch.lastReq.FromUser.ID)
	assert.Equal(t, []string{"pimo_mumbai"}, f.orch.lastReq.FromUser.Roles)

	// health stays open
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", nil).Code)
}

func TestNewAuthenticator_EmptySecretDisablesAuth(t *testing.T) {
	assert.Nil(t, NewAuthenticator("  "))
}

func TestGetHistory(t *testing.T) {
	f := newFixture(t, nil)
	f.orch.history = &workflow.BillHistory{BillID: "b-1", CurrentState: "QS_Mumbai"}

	w := f.do(http.MethodGet, "/api/workflow/bill/b-1/history", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	f.orch.historyErr = fmt.Errorf("%w: b-404", domainwf.ErrNotFound)
	w = f.do(http.MethodGet, "/api/workflow/bill/b-404/history", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domainwf.CodeNotFound, decode(t, w).Code)
}

func TestGetStats(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/api/workflow/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 72*time.Hour, f.stats.stuckAfter)
	assert.Equal(t, fixedNow, f.stats.now)

	w = f.do(http.MethodGet, "/api/workflow/stats?stuckAfter=24h", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 24*time.Hour, f.stats.stuckAfter)

	for _, raw := range []string{"soon", "-1h", "0s"} {
		w = f.do(http.MethodGet, "/api/workflow/stats?stuckAfter="+raw, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, raw)
	}
}

func TestCreateBill(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(http.MethodPost, "/api/bills", map[string]interface{}{
		"vendorName":       "Acme",
		"natureOfWork":     entity.NatureMaterial,
		"taxInvoiceAmount": 1200.5,
	})
	assert.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, f.bills.created)
	assert.Equal(t, "Acme", f.bills.created.VendorName)

	f.bills.err = fmt.Errorf("%w: vendorName is required", domainwf.ErrInvalidInput)
	w = f.do(http.MethodPost, "/api/bills", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPatchBill(t *testing.T) {
	f := newFixture(t, nil)
	f.bills.bill = &entity.Bill{ID: "b-1", VendorName: "Renamed"}

	w := f.do(http.MethodPatch, "/api/bills/b-1", map[string]interface{}{"vendorName": "Renamed"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Renamed", f.bills.lastPatch["vendorName"])

	f.bills.err = fmt.Errorf("%w: currentCount is a workflow field", domainwf.ErrInvalidInput)
	w = f.do(http.MethodPatch, "/api/bills/b-1", map[string]interface{}{"currentCount": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAndListBills(t *testing.T) {
	f := newFixture(t, nil)
	f.bills.bill = &entity.Bill{ID: "b-1"}

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/bills/b-1", nil).Code)

	w := f.do(http.MethodGet, "/api/bills?state=QS_Mumbai&limit=10&offset=5", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, port.BillFilter{State: "QS_Mumbai", Limit: 10, Offset: 5}, f.bills.filter)

	f.bills.err = fmt.Errorf("%w: b-2", domainwf.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/bills/b-2", nil).Code)
}
