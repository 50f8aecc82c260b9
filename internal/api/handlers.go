package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/citymetrics/tripflow/internal/model"
	"github.com/citymetrics/tripflow/internal/store"
)

// Defaults for optional query parameters.
const (
	defaultTopK    = 5
	defaultBinSize = 5
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseDateRange validates optional start/end parameters as YYYY-MM-DD.
func parseDateRange(r *http.Request) (store.DateRange, bool) {
	var dr store.DateRange
	for _, p := range []struct {
		name string
		dest *string
	}{
		{"start", &dr.Start},
		{"end", &dr.End},
	} {
		v := r.URL.Query().Get(p.name)
		if v == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", v); err != nil {
			return store.DateRange{}, false
		}
		*p.dest = v
	}
	return dr, true
}

func intParam(r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func optionalIntParam(r *http.Request, name string) (*int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, false
	}
	return &n, true
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	dr, ok := parseDateRange(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "start and end must be YYYY-MM-DD")
		return
	}

	sum, err := s.engine.Summary(r.Context(), dr)
	if err != nil {
		zap.L().Error("summary failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "summary failed")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleBusiestHours(w http.ResponseWriter, r *http.Request) {
	dr, ok := parseDateRange(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "start and end must be YYYY-MM-DD")
		return
	}
	k, ok := intParam(r, "k", defaultTopK)
	if !ok || k <= 0 {
		writeError(w, http.StatusBadRequest, "k must be a positive integer")
		return
	}

	top, err := s.engine.BusiestHours(r.Context(), dr, k)
	if err != nil {
		zap.L().Error("busiest hours failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "busiest hours failed")
		return
	}
	if top == nil {
		top = []model.HourCount{}
	}
	writeJSON(w, http.StatusOK, map[string][]model.HourCount{"top": top})
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	dr, ok := parseDateRange(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "start and end must be YYYY-MM-DD")
		return
	}
	filter := store.DistributionFilter{DateRange: dr}

	rush, ok := optionalIntParam(r, "rush")
	if !ok || (rush != nil && *rush != 0 && *rush != 1) {
		writeError(w, http.StatusBadRequest, "rush must be 0 or 1")
		return
	}
	filter.Rush = rush

	if filter.MinPassengers, ok = optionalIntParam(r, "min_passengers"); !ok {
		writeError(w, http.StatusBadRequest, "min_passengers must be an integer")
		return
	}
	if filter.MaxPassengers, ok = optionalIntParam(r, "max_passengers"); !ok {
		writeError(w, http.StatusBadRequest, "max_passengers must be an integer")
		return
	}

	dist, err := s.engine.Distribution(r.Context(), filter)
	if err != nil {
		zap.L().Error("distribution failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "distribution failed")
		return
	}
	writeJSON(w, http.StatusOK, dist)
}

func (s *Server) handleSpeedsHist(w http.ResponseWriter, r *http.Request) {
	dr, ok := parseDateRange(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "start and end must be YYYY-MM-DD")
		return
	}
	binSize, ok := intParam(r, "bin_size", defaultBinSize)
	if !ok || binSize <= 0 {
		writeError(w, http.StatusBadRequest, "bin_size must be a positive integer")
		return
	}

	bins, err := s.engine.SpeedHistogram(r.Context(), dr, binSize)
	if err != nil {
		zap.L().Error("speed histogram failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "speed histogram failed")
		return
	}
	if bins == nil {
		bins = []model.HistogramBin{}
	}
	writeJSON(w, http.StatusOK, map[string][]model.HistogramBin{"bins": bins})
}
