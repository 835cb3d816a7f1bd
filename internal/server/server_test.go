package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tokenlens/internal/config"
	dashboarddomain "github.com/smallbiznis/tokenlens/internal/dashboard/domain"
	importdomain "github.com/smallbiznis/tokenlens/internal/dataimport/domain"
	transactiondomain "github.com/smallbiznis/tokenlens/internal/transaction/domain"
	userdomain "github.com/smallbiznis/tokenlens/internal/user/domain"
	"github.com/smallbiznis/tokenlens/pkg/db"
	"github.com/smallbiznis/tokenlens/pkg/db/pagination"
)

type fakeDashboardService struct {
	dashboarddomain.Service
	lastFilter dashboarddomain.Filter
	err        error
}

func (f *fakeDashboardService) Summary(ctx context.Context, filter dashboarddomain.Filter) (*dashboarddomain.Summary, error) {
	f.lastFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	return &dashboarddomain.Summary{TotalTransactions: 4, TotalCost: 7.51}, nil
}

func (f *fakeDashboardService) TopUsers(ctx context.Context, filter dashboarddomain.Filter) ([]dashboarddomain.TopUser, error) {
	f.lastFilter = filter
	return []dashboarddomain.TopUser{{UserID: "u-1", UserName: "Ada"}}, nil
}

func (f *fakeDashboardService) Regions(ctx context.Context) ([]string, error) {
	return []string{"EU", "US"}, nil
}

type fakeUserService struct {
	userdomain.Service
	createErr error
	getErr    error
	lastList  userdomain.ListRequest
}

func (f *fakeUserService) Create(ctx context.Context, req userdomain.CreateRequest) (*userdomain.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &userdomain.User{ID: 1, UserID: req.UserID, UserName: req.UserName}, nil
}

func (f *fakeUserService) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &userdomain.User{ID: 1, UserID: "u-1"}, nil
}

func (f *fakeUserService) List(ctx context.Context, req userdomain.ListRequest) (*userdomain.ListResponse, error) {
	f.lastList = req
	return &userdomain.ListResponse{
		Users:    []userdomain.User{{ID: 1, UserID: "u-1"}},
		PageInfo: pagination.BuildPageInfo(req.Page, 1),
	}, nil
}

type fakeTransactionService struct {
	transactiondomain.Service
	lastList transactiondomain.ListRequest
}

func (f *fakeTransactionService) List(ctx context.Context, req transactiondomain.ListRequest) (*transactiondomain.ListResponse, error) {
	f.lastList = req
	return &transactiondomain.ListResponse{PageInfo: pagination.BuildPageInfo(req.Page, 0)}, nil
}

type fakeImportService struct {
	importdomain.Service
	body       string
	sourceName string
	err        error
}

func (f *fakeImportService) ImportUsers(ctx context.Context, src importdomain.Source) (*importdomain.Result, error) {
	data, err := io.ReadAll(src.Reader)
	if err != nil {
		return nil, err
	}
	f.body = string(data)
	f.sourceName = src.Name
	if f.err != nil {
		return &importdomain.Result{}, f.err
	}
	return &importdomain.Result{Imported: 2, Errors: 1}, nil
}

func newTestServer(t *testing.T) (*Server, *fakeDashboardService, *fakeUserService, *fakeTransactionService, *fakeImportService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dash := &fakeDashboardService{}
	users := &fakeUserService{}
	txs := &fakeTransactionService{}
	imports := &fakeImportService{}

	analytics := config.DefaultAnalyticsConfig()
	analytics.Ingest.MaxUploadBytes = 1024

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	srv := &Server{
		engine:       router,
		analytics:    config.NewStaticAnalyticsConfigHolder(analytics),
		userSvc:      users,
		txSvc:        txs,
		importSvc:    imports,
		dashboardSvc: dash,
	}
	srv.registerAPIRoutes()
	return srv, dash, users, txs, imports
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	srv.Engine().ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, resp.Body.String())
	}
	return body.Error
}

func TestDashboardSummaryPassesFilter(t *testing.T) {
	srv, dash, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/summary?startDate=2024-01-01&endDate=2024-01-31&region=%20EU%20", nil)
	resp := serve(srv, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if dash.lastFilter.StartDate != "2024-01-01" || dash.lastFilter.EndDate != "2024-01-31" || dash.lastFilter.Region != "EU" {
		t.Fatalf("unexpected filter: %+v", dash.lastFilter)
	}

	var body struct {
		Data dashboarddomain.Summary `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.TotalTransactions != 4 || body.Data.TotalCost != 7.51 {
		t.Fatalf("unexpected summary: %+v", body.Data)
	}
}

func TestDashboardInvalidDatesAreValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{name: "bad date", err: fmt.Errorf("parse startDate: %w", dashboarddomain.ErrInvalidDate), code: "invalid_date"},
		{name: "reversed range", err: dashboarddomain.ErrInvalidDateRange, code: "invalid_date_range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, dash, _, _, _ := newTestServer(t)
			dash.err = tt.err

			resp := serve(srv, httptest.NewRequest(http.MethodGet, "/api/dashboard/summary?startDate=nope", nil))
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", resp.Code)
			}
			payload := decodeError(t, resp)
			if payload.Type != "validation_error" || len(payload.Errors) != 1 || payload.Errors[0].Code != tt.code {
				t.Fatalf("unexpected payload: %+v", payload)
			}
		})
	}
}

func TestDashboardRejectsNegativeLimit(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)

	resp := serve(srv, httptest.NewRequest(http.MethodGet, "/api/dashboard/top-users?limit=-1", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestDashboardStoreUnavailableIs503(t *testing.T) {
	srv, dash, _, _, _ := newTestServer(t)
	dash.err = fmt.Errorf("%w: context deadline exceeded", db.ErrStoreUnavailable)

	resp := serve(srv, httptest.NewRequest(http.MethodGet, "/api/dashboard/summary", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", resp.Code)
	}
}

func TestCreateUserDuplicateIsConflict(t *testing.T) {
	srv, _, users, _, _ := newTestServer(t)
	users.createErr = userdomain.ErrDuplicate

	req := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewBufferString(`{"userId":"u-1","userName":"Ada"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := serve(srv, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	payload := decodeError(t, resp)
	if len(payload.Errors) != 1 || payload.Errors[0].Field != "userId" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestCreateUserRejectsMalformedJSON(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewBufferString(`{"userId":`))
	req.Header.Set("Content-Type", "application/json")
	resp := serve(srv, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestGetUserNotFound(t *testing.T) {
	srv, _, users, _, _ := newTestServer(t)
	users.getErr = userdomain.ErrNotFound

	resp := serve(srv, httptest.NewRequest(http.MethodGet, "/api/users/42", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestListUsersReturnsMeta(t *testing.T) {
	srv, _, users, _, _ := newTestServer(t)

	resp := serve(srv, httptest.NewRequest(http.MethodGet, "/api/users?region=EU&isActiveSub=true&page=2&limit=5", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if users.lastList.Region != "EU" || users.lastList.IsActiveSub == nil || !*users.lastList.IsActiveSub {
		t.Fatalf("unexpected list request: %+v", users.lastList)
	}
	if users.lastList.Page.Page != 2 || users.lastList.Page.PageSize != 5 {
		t.Fatalf("unexpected page: %+v", users.lastList.Page)
	}

	var body struct {
		Data []userdomain.User   `json:"data"`
		Meta pagination.PageInfo `json:"meta"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 1 || body.Meta.Total != 1 || body.Meta.Page != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestListUsersRejectsBadBool(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)

	resp := serve(srv, httptest.NewRequest(http.MethodGet, "/api/users?isActiveSub=maybe", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestListTransactionsEndDateIsExclusiveNextDay(t *testing.T) {
	srv, _, _, txs, _ := newTestServer(t)

	resp := serve(srv, httptest.NewRequest(http.MethodGet, "/api/transactions?startDate=2024-01-01&endDate=2024-01-31&tokenType=prompt", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if txs.lastList.From == nil || txs.lastList.From.Format(dateOnlyLayout) != "2024-01-01" {
		t.Fatalf("unexpected from: %v", txs.lastList.From)
	}
	if txs.lastList.To == nil || txs.lastList.To.Format(dateOnlyLayout) != "2024-02-01" {
		t.Fatalf("unexpected to: %v", txs.lastList.To)
	}
	if txs.lastList.TokenType != "prompt" {
		t.Fatalf("unexpected token type %q", txs.lastList.TokenType)
	}
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf, w.FormDataContentType()
}

func TestImportUsersReadsUploadedFile(t *testing.T) {
	srv, _, _, _, imports := newTestServer(t)

	body, contentType := multipartBody(t, "file", "users.csv", "User_ID,User_Name\nu-1,Ada\n")
	req := httptest.NewRequest(http.MethodPost, "/api/import/users", body)
	req.Header.Set("Content-Type", contentType)
	resp := serve(srv, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if imports.sourceName != "users.csv" || imports.body != "User_ID,User_Name\nu-1,Ada\n" {
		t.Fatalf("unexpected source %q: %q", imports.sourceName, imports.body)
	}

	var out struct {
		Data importdomain.Result `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Data.Imported != 2 || out.Data.Errors != 1 {
		t.Fatalf("unexpected result: %+v", out.Data)
	}
}

func TestImportUsersMissingFile(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)

	body, contentType := multipartBody(t, "other", "users.csv", "x")
	req := httptest.NewRequest(http.MethodPost, "/api/import/users", body)
	req.Header.Set("Content-Type", contentType)
	resp := serve(srv, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	payload := decodeError(t, resp)
	if len(payload.Errors) != 1 || payload.Errors[0].Code != "missing_source" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestImportRejectsOversizedUpload(t *testing.T) {
	srv, _, _, _, imports := newTestServer(t)

	body, contentType := multipartBody(t, "file", "users.csv", string(bytes.Repeat([]byte("a"), 4096)))
	req := httptest.NewRequest(http.MethodPost, "/api/import/users", body)
	req.Header.Set("Content-Type", contentType)
	resp := serve(srv, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", resp.Code)
	}
	if imports.body != "" {
		t.Fatal("expected import service not to be called")
	}
}

func TestImportMalformedSourceIsValidationError(t *testing.T) {
	srv, _, _, _, imports := newTestServer(t)
	imports.err = fmt.Errorf("%w: line 3: bare quote", importdomain.ErrMalformedSource)

	body, contentType := multipartBody(t, "file", "users.csv", "User_ID\n")
	req := httptest.NewRequest(http.MethodPost, "/api/import/users", body)
	req.Header.Set("Content-Type", contentType)
	resp := serve(srv, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	payload := decodeError(t, resp)
	if payload.Errors[0].Code != "malformed_source" || payload.Errors[0].Field != "file" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestClassifyErrorForLog(t *testing.T) {
	tests := []struct {
		err      error
		wantType string
		wantCode string
	}{
		{err: transactiondomain.ErrInvalidTokenType, wantType: "validation_error", wantCode: "invalid_token_type"},
		{err: transactiondomain.ErrDuplicate, wantType: "conflict", wantCode: "transaction_already_exists"},
		{err: userdomain.ErrNotFound, wantType: "not_found", wantCode: "not_found"},
		{err: db.ErrStoreUnavailable, wantType: "service_unavailable", wantCode: "service_unavailable"},
		{err: io.ErrUnexpectedEOF, wantType: "internal_error", wantCode: "internal_error"},
	}
	for _, tt := range tests {
		gotType, gotCode := classifyErrorForLog(tt.err)
		if gotType != tt.wantType || gotCode != tt.wantCode {
			t.Fatalf("classifyErrorForLog(%v) = %s/%s, want %s/%s", tt.err, gotType, gotCode, tt.wantType, tt.wantCode)
		}
	}
}
