package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/nvandessel/fluidrig/internal/ingest"
	"github.com/nvandessel/fluidrig/internal/models"
	"github.com/nvandessel/fluidrig/internal/rigerr"
	"github.com/nvandessel/fluidrig/internal/visualization"
)

// Snapshot returns the whole rig state.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	s, err := h.rig.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Log returns the newest event log lines. ?n= limits the count.
func (h *Handler) Log(w http.ResponseWriter, r *http.Request) {
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, rigerr.Validation("invalid n %q", raw))
			return
		}
		n = v
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": h.rig.Log(n)})
}

func (h *Handler) Devices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rig.Devices())
}

func (h *Handler) Device(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := h.rig.DeviceState(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) StartDevice(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.rig.StartDevice(r.Context(), id)
	writeResult(w, res, err)
}

func (h *Handler) StopDevice(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.rig.StopDevice(r.Context(), id)
	writeResult(w, res, err)
}

// paramsRequest is the body of PUT /devices/{id}/params.
type paramsRequest struct {
	FlowRate *float64 `json:"flow_rate"`
	Duration *float64 `json:"duration"`
}

func (h *Handler) SetDeviceParams(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req paramsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.FlowRate == nil || req.Duration == nil {
		writeError(w, rigerr.Validation("flow_rate and duration are required"))
		return
	}
	res, err := h.rig.SetDeviceParams(r.Context(), id, *req.FlowRate, *req.Duration)
	writeResult(w, res, err)
}

// SetSpectra takes a models.Spectra body for a spectrometer.
func (h *Handler) SetSpectra(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req models.Spectra
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.rig.SetSpectraParams(r.Context(), id, req)
	writeResult(w, res, err)
}

// SetCamera takes a models.Camera body for a camera. The captured flag in
// the body is ignored.
func (h *Handler) SetCamera(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req models.Camera
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.rig.SetCameraParams(r.Context(), id, req)
	writeResult(w, res, err)
}

// decodeBody decodes a small JSON body, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return rigerr.Validation("invalid request body: %v", err)
	}
	return nil
}

func (h *Handler) Valves(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rig.Valves())
}

func (h *Handler) ToggleValve(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.rig.ToggleValve(r.Context(), id)
	writeResult(w, res, err)
}

func (h *Handler) Experiment(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rig.ExperimentState())
}

func (h *Handler) Phases(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rig.Phases())
}

func (h *Handler) BeginExperiment(w http.ResponseWriter, r *http.Request) {
	res, err := h.rig.BeginExperiment(r.Context())
	writeResult(w, res, err)
}

func (h *Handler) Emergency(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rig.EmergencyState())
}

func (h *Handler) EmergencyTrigger(w http.ResponseWriter, r *http.Request) {
	res, err := h.rig.EmergencyTrigger(r.Context())
	writeResult(w, res, err)
}

func (h *Handler) EmergencyResolve(w http.ResponseWriter, r *http.Request) {
	res, err := h.rig.EmergencyResolve(r.Context())
	writeResult(w, res, err)
}

func (h *Handler) AffinityRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := h.rig.AffinityRecords(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) AffinityRanking(w http.ResponseWriter, r *http.Request) {
	ranking, err := h.rig.AffinityRanking(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ranking)
}

func (h *Handler) AffinityGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.rig.AffinityGroups(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// UploadCSV ingests a measurement CSV, either as the "file" field of a
// multipart form or as a raw body named by ?source=.
func (h *Handler) UploadCSV(w http.ResponseWriter, r *http.Request) {
	body, name, err := upload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	defer body.Close()

	res, err := h.rig.IngestCSV(r.Context(), name, body)
	writeResult(w, res, err)
}

func (h *Handler) ClearAffinityData(w http.ResponseWriter, r *http.Request) {
	res, err := h.rig.ClearAffinityData(r.Context())
	writeResult(w, res, err)
}

func (h *Handler) LastKD(w http.ResponseWriter, r *http.Request) {
	kd := h.rig.LastKD()
	if kd == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no KD value calculated yet", Kind: "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, kd)
}

// UploadKD derives KD from an uploaded .xlsx or .csv cell block.
func (h *Handler) UploadKD(w http.ResponseWriter, r *http.Request) {
	body, name, err := upload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	defer body.Close()

	cells, err := ingest.DecodeCells(body, name)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.rig.IngestKD(r.Context(), cells)
	writeResult(w, res, err)
}

// RankingChart renders the ranking bar chart. ?format=png switches from
// SVG.
func (h *Handler) RankingChart(w http.ResponseWriter, r *http.Request) {
	format, err := visualization.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, err)
		return
	}
	ranking, err := h.rig.AffinityRanking(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeChart(w, format, func(out io.Writer) error {
		return visualization.RenderRanking(out, ranking, format)
	})
}

// CurveChart renders measurements and fitted curves.
func (h *Handler) CurveChart(w http.ResponseWriter, r *http.Request) {
	format, err := visualization.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, err)
		return
	}
	groups, err := h.rig.AffinityGroups(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeChart(w, format, func(out io.Writer) error {
		return visualization.RenderCurves(out, groups, format)
	})
}

// writeChart renders into memory first so a failed render still gets a
// clean error response.
func writeChart(w http.ResponseWriter, format visualization.Format, render func(io.Writer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// upload returns the uploaded file and its name from a multipart "file"
// field, or the raw body named by ?source=.
func upload(w http.ResponseWriter, r *http.Request) (io.ReadCloser, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, "", rigerr.Validation("invalid multipart form: %v", err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				return nil, "", rigerr.Validation("missing form field \"file\"")
			}
			return nil, "", rigerr.Validation("invalid upload: %v", err)
		}
		return f, hdr.Filename, nil
	}

	name := r.URL.Query().Get("source")
	if name == "" {
		return nil, "", rigerr.Validation("raw uploads need a ?source= file name")
	}
	return r.Body, name, nil
}
