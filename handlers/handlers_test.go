package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwatt/smart-meter-server/database"
	"github.com/gridwatt/smart-meter-server/middleware"
	"github.com/gridwatt/smart-meter-server/services"
)

const testJWTSecret = "test-secret"

func newClientRouter(db database.Store) *mux.Router {
	h := NewClientHandler(db, services.NewBillPDF(""), services.SessionConfig{
		PricePerUnit:        0.2,
		DailyStandingCharge: 0.4,
	})

	r := mux.NewRouter()
	r.HandleFunc("/api/clients", h.Create).Methods("POST")
	r.HandleFunc("/api/clients/{id}", h.Delete).Methods("DELETE")
	r.HandleFunc("/api/clients/{id}/bill", h.LastBill).Methods("GET")
	r.HandleFunc("/api/clients/{id}/bill/pdf", h.LastBillPDF).Methods("GET")
	return r
}

func createClient(t *testing.T, router *mux.Router, id string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"id":"` + id + `","token":"tok","initial_reading":10}`
	req := httptest.NewRequest("POST", "/api/clients", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateClient(t *testing.T) {
	db := database.NewMemoryStore()
	router := newClientRouter(db)

	rec := createClient(t, router, "42")
	assert.Equal(t, http.StatusCreated, rec.Code)

	hash, err := db.ClientExists("42")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	// The opening reading and bill are in place for the first session.
	reading, err := db.LastReading("42")
	require.NoError(t, err)
	require.NotNil(t, reading)
	assert.Equal(t, 10.0, reading.Reading)

	bill, err := db.LastBill("42")
	require.NoError(t, err)
	require.NotNil(t, bill)
	assert.Equal(t, 10.0, bill.UnitsEnd)
}

func TestCreateClientConflict(t *testing.T) {
	db := database.NewMemoryStore()
	router := newClientRouter(db)

	require.Equal(t, http.StatusCreated, createClient(t, router, "42").Code)
	assert.Equal(t, http.StatusConflict, createClient(t, router, "42").Code)
}

func TestCreateClientValidation(t *testing.T) {
	router := newClientRouter(database.NewMemoryStore())

	for _, body := range []string{
		`not json`,
		`{"id":"","token":"tok"}`,
		`{"id":"1","token":""}`,
		`{"id":"1","token":"tok","initial_reading":-1}`,
	} {
		req := httptest.NewRequest("POST", "/api/clients", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestDeleteClient(t *testing.T) {
	db := database.NewMemoryStore()
	router := newClientRouter(db)
	require.Equal(t, http.StatusCreated, createClient(t, router, "42").Code)

	req := httptest.NewRequest("DELETE", "/api/clients/42", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/clients/42", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLastBillEndpoints(t *testing.T) {
	db := database.NewMemoryStore()
	router := newClientRouter(db)
	require.Equal(t, http.StatusCreated, createClient(t, router, "42").Code)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/clients/42/bill", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var bill map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bill))
	assert.Equal(t, 10.0, bill["units_end"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/clients/42/bill/pdf", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/clients/99/bill", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func login(t *testing.T, h *AuthHandler, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(LoginRequest{Username: username, Password: password})
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Login(rec, req)
	return rec
}

func TestLogin(t *testing.T) {
	h, err := NewAuthHandler("admin", "changeme", testJWTSecret)
	require.NoError(t, err)

	rec := login(t, h, "admin", "changeme")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)

	assert.Equal(t, http.StatusUnauthorized, login(t, h, "admin", "wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, login(t, h, "root", "changeme").Code)
}

func TestAuthMiddleware(t *testing.T) {
	h, err := NewAuthHandler("admin", "changeme", testJWTSecret)
	require.NoError(t, err)

	rec := login(t, h, "admin", "changeme")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	protected := middleware.AuthMiddleware(testJWTSecret)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, _ := r.Context().Value(middleware.UserKey).(string)
			w.Write([]byte(user))
		}))

	req := httptest.NewRequest("GET", "/api/grid/status", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	ok := httptest.NewRecorder()
	protected.ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)
	assert.Equal(t, "admin", ok.Body.String())

	missing := httptest.NewRecorder()
	protected.ServeHTTP(missing, httptest.NewRequest("GET", "/api/grid/status", nil))
	assert.Equal(t, http.StatusUnauthorized, missing.Code)

	bad := httptest.NewRequest("GET", "/api/grid/status", nil)
	bad.Header.Set("Authorization", "Bearer garbage")
	badRec := httptest.NewRecorder()
	protected.ServeHTTP(badRec, bad)
	assert.Equal(t, http.StatusUnauthorized, badRec.Code)
}

func TestGridEndpoints(t *testing.T) {
	alerts := services.NewAlertStore(2)
	watcher := services.NewGridWatcher(alerts)
	h := NewGridHandler(watcher, alerts)

	body := strings.NewReader(`{"message":"substation fire"}`)
	rec := httptest.NewRecorder()
	h.ReportOutage(rec, httptest.NewRequest("POST", "/api/grid/outage", body))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest("GET", "/api/grid/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.NotNil(t, status.CurrentAlert)
	assert.Equal(t, "substation fire", *status.CurrentAlert)
	assert.Zero(t, status.ActiveSessions)

	rec = httptest.NewRecorder()
	h.Resolve(rec, httptest.NewRequest("POST", "/api/grid/resolve", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest("GET", "/api/grid/status", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Nil(t, status.CurrentAlert)
}
