package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dkruglov/trade-arena/internal/engine"
	"github.com/dkruglov/trade-arena/internal/storage"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func (s *Server) modelID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		return 0, errors.New("invalid model id")
	}
	return uint(id), nil
}

func limitParam(r *http.Request, fallback int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			return limit
		}
	}
	return fallback
}

// Models

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.repo.ListModels()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models)
}

type modelRequest struct {
	Name           *string  `json:"name"`
	APIKey         *string  `json:"api_key"`
	APIURL         *string  `json:"api_url"`
	ModelName      *string  `json:"model_name"`
	InitialCapital *float64 `json:"initial_capital"`
}

func (s *Server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	model := storage.Model{InitialCapital: s.config.Trading.InitialCapital}
	if req.Name != nil {
		model.Name = strings.TrimSpace(*req.Name)
	}
	if req.APIKey != nil {
		model.APIKey = strings.TrimSpace(*req.APIKey)
	}
	if req.APIURL != nil {
		model.APIURL = strings.TrimSpace(*req.APIURL)
	}
	if req.ModelName != nil {
		model.ModelName = strings.TrimSpace(*req.ModelName)
	}
	if req.InitialCapital != nil {
		model.InitialCapital = *req.InitialCapital
	}

	switch {
	case model.Name == "":
		writeError(w, http.StatusBadRequest, "name is required")
		return
	case model.APIKey == "":
		writeError(w, http.StatusBadRequest, "api_key is required")
		return
	case model.APIURL == "":
		writeError(w, http.StatusBadRequest, "api_url is required")
		return
	case model.ModelName == "":
		writeError(w, http.StatusBadRequest, "model_name is required")
		return
	case model.InitialCapital <= 0:
		writeError(w, http.StatusBadRequest, "initial_capital must be positive")
		return
	}

	if err := s.repo.CreateModel(&model); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.manager.Start(model)
	s.logger.Info("model created", "model_id", model.ID, "name", model.Name)

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      model.ID,
		"message": "Model added successfully",
	})
}

func (s *Server) handleUpdateModel(w http.ResponseWriter, r *http.Request) {
	id, err := s.modelID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req modelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	model, err := s.repo.GetModel(id)
	if errors.Is(err, storage.ErrModelNotFound) {
		writeError(w, http.StatusNotFound, "model not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	changed := false
	apply := func(dst *string, src *string, field string) bool {
		if src == nil {
			return true
		}
		v := strings.TrimSpace(*src)
		if v == "" {
			writeError(w, http.StatusBadRequest, field+" cannot be empty")
			return false
		}
		*dst = v
		changed = true
		return true
	}

	if !apply(&model.Name, req.Name, "name") ||
		!apply(&model.APIKey, req.APIKey, "api_key") ||
		!apply(&model.APIURL, req.APIURL, "api_url") ||
		!apply(&model.ModelName, req.ModelName, "model_name") {
		return
	}
	if req.InitialCapital != nil {
		if *req.InitialCapital <= 0 {
			writeError(w, http.StatusBadRequest, "initial_capital must be positive")
			return
		}
		model.InitialCapital = *req.InitialCapital
		changed = true
	}

	if !changed {
		writeError(w, http.StatusBadRequest, "no fields provided to update")
		return
	}

	if err := s.repo.UpdateModel(model); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.manager.Reload(*model)
	s.logger.Info("model updated", "model_id", model.ID, "name", model.Name)

	writeJSON(w, http.StatusOK, map[string]string{"message": "Model updated successfully"})
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	id, err := s.modelID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.repo.GetModel(id); errors.Is(err, storage.ErrModelNotFound) {
		writeError(w, http.StatusNotFound, "model not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Stop first so no cycle is mid-flight when the books go away.
	s.manager.Stop(id)

	if err := s.repo.DeleteModel(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("model deleted", "model_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Model deleted successfully"})
}

// Portfolio

type positionView struct {
	Coin         string  `json:"coin"`
	Side         string  `json:"side"`
	Quantity     float64 `json:"quantity"`
	AvgPrice     float64 `json:"avg_price"`
	Leverage     int     `json:"leverage"`
	CurrentPrice float64 `json:"current_price"`
	PnL          float64 `json:"pnl"`
}

type portfolioView struct {
	ModelID        uint           `json:"model_id"`
	Cash           float64        `json:"cash"`
	RealizedPnL    float64        `json:"realized_pnl"`
	UnrealizedPnL  float64        `json:"unrealized_pnl"`
	TotalValue     float64        `json:"total_value"`
	InitialCapital float64        `json:"initial_capital"`
	Positions      []positionView `json:"positions"`
}

func (s *Server) portfolioView(modelID uint) (*portfolioView, error) {
	model, err := s.repo.GetModel(modelID)
	if err != nil {
		return nil, err
	}
	account, err := s.repo.GetAccount(modelID)
	if err != nil {
		return nil, err
	}
	positions, err := s.repo.GetPositions(modelID)
	if err != nil {
		return nil, err
	}

	prices, _ := s.market.Snapshot()
	valuation := engine.Value(account, positions, prices)

	view := &portfolioView{
		ModelID:        modelID,
		Cash:           valuation.Cash,
		RealizedPnL:    valuation.RealizedPnL,
		UnrealizedPnL:  valuation.UnrealizedPnL,
		TotalValue:     valuation.TotalValue,
		InitialCapital: model.InitialCapital,
		Positions:      make([]positionView, 0, len(positions)),
	}

	for i := range positions {
		p := &positions[i]
		price := p.AvgPrice
		if q, ok := prices[p.Coin]; ok {
			price = q.Price
		}
		view.Positions = append(view.Positions, positionView{
			Coin:         p.Coin,
			Side:         p.Side,
			Quantity:     p.Quantity,
			AvgPrice:     p.AvgPrice,
			Leverage:     p.Leverage,
			CurrentPrice: price,
			PnL:          engine.UnrealizedPnL(p, price),
		})
	}

	return view, nil
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	id, err := s.modelID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	view, err := s.portfolioView(id)
	if errors.Is(err, storage.ErrModelNotFound) {
		writeError(w, http.StatusNotFound, "model not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	history, err := s.repo.GetAccountValueHistory(id, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"portfolio":             view,
		"account_value_history": history,
	})
}

// Trades and conversations

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	id, err := s.modelID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trades, err := s.repo.GetRecentTrades(id, limitParam(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	id, err := s.modelID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conversations, err := s.repo.GetRecentConversations(id, limitParam(r, 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

// Market

func (s *Server) handleMarketPrices(w http.ResponseWriter, r *http.Request) {
	prices, updatedAt := s.market.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"prices":     prices,
		"updated_at": updatedAt,
	})
}

// Execution

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id, err := s.modelID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.manager.Execute(r.Context(), id)
	if errors.Is(err, storage.ErrModelNotFound) {
		writeError(w, http.StatusNotFound, "model not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Leaderboard

type leaderboardEntry struct {
	ModelID        uint    `json:"model_id"`
	ModelName      string  `json:"model_name"`
	AccountValue   float64 `json:"account_value"`
	Returns        float64 `json:"returns"`
	InitialCapital float64 `json:"initial_capital"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	models, err := s.repo.ListModels()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries := make([]leaderboardEntry, 0, len(models))
	for _, model := range models {
		view, err := s.portfolioView(model.ID)
		if err != nil {
			s.logger.Error("leaderboard portfolio", "model_id", model.ID, "error", err)
			continue
		}

		returns := 0.0
		if model.InitialCapital > 0 {
			returns = (view.TotalValue - model.InitialCapital) / model.InitialCapital * 100
		}

		entries = append(entries, leaderboardEntry{
			ModelID:        model.ID,
			ModelName:      model.Name,
			AccountValue:   view.TotalValue,
			Returns:        returns,
			InitialCapital: model.InitialCapital,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Returns > entries[j].Returns })
	writeJSON(w, http.StatusOK, entries)
}
