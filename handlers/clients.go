package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/gridwatt/smart-meter-server/database"
	"github.com/gridwatt/smart-meter-server/models"
	"github.com/gridwatt/smart-meter-server/services"
)

type ClientHandler struct {
	db  database.Store
	pdf *services.BillPDF
	cfg services.SessionConfig
}

func NewClientHandler(db database.Store, pdf *services.BillPDF, cfg services.SessionConfig) *ClientHandler {
	return &ClientHandler{db: db, pdf: pdf, cfg: cfg}
}

type CreateClientRequest struct {
	ID             string  `json:"id"`
	Token          string  `json:"token"`
	InitialReading float64 `json:"initial_reading"`
}

// Create provisions a meter: bcrypt the token, record the opening reading
// and derive the opening bill so the first session can construct its billing
// context.
func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.Token == "" {
		http.Error(w, "id and token are required", http.StatusBadRequest)
		return
	}
	if req.InitialReading < 0 {
		http.Error(w, "initial_reading must be non-negative", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Token), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Failed to hash token", http.StatusInternalServerError)
		return
	}

	reading := models.NewReading(req.InitialReading)
	client := models.Client{
		TokenHash: string(hash),
		Readings:  []models.Reading{reading},
		Bills:     []models.Bill{models.BillFromReading(reading, h.cfg.PricePerUnit, h.cfg.DailyStandingCharge)},
	}

	if err := h.db.AddClient(req.ID, client); err != nil {
		if errors.Is(err, database.ErrDataConflict) {
			http.Error(w, "Client already exists", http.StatusConflict)
			return
		}
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": req.ID})
}

func (h *ClientHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.db.RemoveClient(id); err != nil {
		if errors.Is(err, database.ErrClientNotFound) {
			http.Error(w, "Client not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Client removed"})
}

func (h *ClientHandler) LastBill(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	bill, err := h.lastBill(w, id)
	if bill == nil || err != nil {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bill)
}

func (h *ClientHandler) LastBillPDF(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	bill, err := h.lastBill(w, id)
	if bill == nil || err != nil {
		return
	}

	pdfBytes, err := h.pdf.Render(id, *bill)
	if err != nil {
		http.Error(w, "Failed to render PDF", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=bill-"+id+".pdf")
	w.Write(pdfBytes)
}

// lastBill fetches the latest bill, writing the error response itself when
// there is nothing to return.
func (h *ClientHandler) lastBill(w http.ResponseWriter, id string) (*models.Bill, error) {
	bill, err := h.db.LastBill(id)
	if err != nil {
		if errors.Is(err, database.ErrClientNotFound) {
			http.Error(w, "Client not found", http.StatusNotFound)
			return nil, err
		}
		http.Error(w, "Database error", http.StatusInternalServerError)
		return nil, err
	}
	if bill == nil {
		http.Error(w, "Client has no bills", http.StatusNotFound)
		return nil, nil
	}
	return bill, nil
}
