package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/lightpos/internal/config"
	"github.com/banshee-data/lightpos/internal/db"
	"github.com/banshee-data/lightpos/internal/httputil"
	"github.com/banshee-data/lightpos/internal/imaging"
	"github.com/banshee-data/lightpos/internal/monitoring"
)

const maxParamsBody = 64 << 10

type paramsResponse struct {
	BrightnessThreshold int    `json:"brightness_threshold"`
	MarkerSize          int    `json:"marker_size"`
	MarkerColor         [3]int `json:"marker_color"`
}

// paramsUpdate holds the fields of a POST /api/params body. Absent fields
// are left unchanged.
type paramsUpdate struct {
	BrightnessThreshold *int    `json:"brightness_threshold"`
	MarkerSize          *int    `json:"marker_size"`
	MarkerColor         *[3]int `json:"marker_color"`
}

func toParamsResponse(p imaging.Params) paramsResponse {
	c := p.Marker.Color
	return paramsResponse{
		BrightnessThreshold: p.Threshold,
		MarkerSize:          p.Marker.Size,
		MarkerColor:         [3]int{int(c[0]), int(c[1]), int(c[2])},
	}
}

func colorString(c imaging.Pixel) string {
	return fmt.Sprintf("[%d,%d,%d]", c[0], c[1], c[2])
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, toParamsResponse(s.params.Snapshot()))
	case http.MethodPost:
		s.updateParams(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) updateParams(w http.ResponseWriter, r *http.Request) {
	var req paramsUpdate
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxParamsBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body: "+err.Error())
		return
	}

	// Validate everything before applying anything so a bad field leaves
	// the store untouched.
	var color imaging.Pixel
	if req.BrightnessThreshold != nil {
		if err := config.ValidateThreshold(*req.BrightnessThreshold); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}
	if req.MarkerSize != nil {
		if err := config.ValidateMarkerSize(*req.MarkerSize); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}
	if req.MarkerColor != nil {
		var err error
		if color, err = config.PixelFromInts(*req.MarkerColor); err != nil {
			httputil.BadRequest(w, "marker_color: "+err.Error())
			return
		}
		if err := config.ValidateMarkerColor(color); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}

	// The whole request lands under one lock so the pipeline never snapshots
	// half of it.
	old, updated, err := s.params.Update(func(p *imaging.Params) {
		if req.BrightnessThreshold != nil {
			p.Threshold = *req.BrightnessThreshold
		}
		if req.MarkerSize != nil {
			p.Marker.Size = *req.MarkerSize
		}
		if req.MarkerColor != nil {
			p.Marker.Color = color
		}
	})
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	now := time.Now().UTC()
	var changes []db.ParamChange
	if req.BrightnessThreshold != nil {
		changes = append(changes, db.ParamChange{
			ChangedAt: now, Param: "brightness_threshold",
			OldValue: strconv.Itoa(old.Threshold), NewValue: strconv.Itoa(updated.Threshold),
		})
	}
	if req.MarkerSize != nil {
		changes = append(changes, db.ParamChange{
			ChangedAt: now, Param: "marker_size",
			OldValue: strconv.Itoa(old.Marker.Size), NewValue: strconv.Itoa(updated.Marker.Size),
		})
	}
	if req.MarkerColor != nil {
		changes = append(changes, db.ParamChange{
			ChangedAt: now, Param: "marker_color",
			OldValue: colorString(old.Marker.Color), NewValue: colorString(updated.Marker.Color),
		})
	}

	for i := range changes {
		pc := &changes[i]
		pc.Source = "api"
		monitoring.Logf("param %s changed from %s to %s", pc.Param, pc.OldValue, pc.NewValue)
		if s.db == nil {
			continue
		}
		if err := s.db.RecordParamChange(pc); err != nil {
			monitoring.Warnf("failed to audit change of %s: %v", pc.Param, err)
		}
	}

	httputil.WriteJSONOK(w, toParamsResponse(updated))
}

func (s *Server) listParamChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.ServiceUnavailable(w, "no database configured")
		return
	}
	limit, ok := parseLimit(r, defaultCentroidLimit)
	if !ok {
		httputil.BadRequest(w, "invalid 'limit' parameter")
		return
	}
	changes, err := s.db.ParamChanges(limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve param changes: "+err.Error())
		return
	}
	if changes == nil {
		changes = []db.ParamChange{}
	}
	httputil.WriteJSONOK(w, changes)
}
