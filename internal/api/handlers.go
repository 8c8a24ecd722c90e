package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tracemark/internal/apperr"
	"github.com/starford/tracemark/internal/issuance"
)

const maxImageBytes = 50 << 20 // 50 MB

// Handler holds API route handlers.
type Handler struct {
	svc *issuance.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *issuance.Service) *Handler {
	return &Handler{svc: svc}
}

func identityID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid identity id: %w", apperr.ErrInvalidInput)
	}
	return id, nil
}

// RegisterIdentity handles POST /api/identities.
//
//	@Summary		Register a recipient identity
//	@Tags			identities
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RegisterIdentityRequest	true	"Identity to register"
//	@Success		201		{object}	RegisterIdentityResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/identities [post]
func (h *Handler) RegisterIdentity(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req RegisterIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	id, err := h.svc.Register(r.Context(), req.Name, req.Email, req.Phone)
	if err != nil {
		writeError(w, "register identity", err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterIdentityResponse{ID: id})
}

// FindIdentity handles GET /api/identities?email=.
//
//	@Summary		Look up an identity by email
//	@Tags			identities
//	@Produce		json
//	@Param			email	query		string	true	"Contact email"
//	@Success		200		{object}	Identity
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/identities [get]
func (h *Handler) FindIdentity(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'email' is required"))
		return
	}
	id, err := h.svc.Login(r.Context(), email)
	if err != nil {
		writeError(w, "find identity", err)
		return
	}
	ident, err := h.svc.Identity(r.Context(), id)
	if err != nil {
		writeError(w, "find identity", err)
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

// GetIdentity handles GET /api/identities/{id}.
func (h *Handler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := identityID(r)
	if err != nil {
		writeError(w, "get identity", err)
		return
	}
	ident, err := h.svc.Identity(r.Context(), id)
	if err != nil {
		writeError(w, "get identity", err)
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

// ListIssuances handles GET /api/identities/{id}/issuances.
//
//	@Summary		List artifacts issued to an identity
//	@Tags			issuances
//	@Produce		json
//	@Param			id	path		int	true	"Identity id"
//	@Success		200	{object}	IssuanceListResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/identities/{id}/issuances [get]
func (h *Handler) ListIssuances(w http.ResponseWriter, r *http.Request) {
	id, err := identityID(r)
	if err != nil {
		writeError(w, "list issuances", err)
		return
	}
	entries, err := h.svc.ListIssuances(r.Context(), id)
	if err != nil {
		writeError(w, "list issuances", err)
		return
	}
	writeJSON(w, http.StatusOK, IssuanceListResponse{Issuances: entries})
}

// Issue handles POST /api/issuances (multipart/form-data).
//
// Fields: "file" (source image), "identity_id", and one or more
// "connected_name" values; one artifact is issued per connected name.
// Copies are issued in order and the batch is not atomic: on failure the
// error body also lists the copies already issued.
//
//	@Summary		Issue watermarked copies of an image
//	@Tags			issuances
//	@Accept			multipart/form-data
//	@Produce		json
//	@Success		201	{object}	IssuanceListResponse
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/issuances [post]
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	id, err := strconv.ParseInt(r.FormValue("identity_id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("identity_id is required"))
		return
	}
	names := r.MultipartForm.Value["connected_name"]
	if len(names) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("at least one connected_name is required"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()
	src, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}

	entries, err := h.svc.IssueBatch(r.Context(), id, src, header.Filename, names)
	if err != nil {
		status, msg := errorStatus("issue", err)
		if len(entries) == 0 {
			writeJSON(w, status, errorBody(msg))
			return
		}
		writeJSON(w, status, PartialIssuanceResponse{Error: msg, Issuances: entries})
		return
	}
	writeJSON(w, http.StatusCreated, IssuanceListResponse{Issuances: entries})
}

// LookupFingerprint handles GET /api/issuances/{fingerprint}.
//
//	@Summary		Resolve a fingerprint to its ledger entry
//	@Tags			issuances
//	@Produce		json
//	@Param			fingerprint	path		string	true	"SHA-256 hex digest"
//	@Success		200			{object}	LedgerEntry
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/issuances/{fingerprint} [get]
func (h *Handler) LookupFingerprint(w http.ResponseWriter, r *http.Request) {
	entry, ok, err := h.svc.LookupFingerprint(r.Context(), chi.URLParam(r, "fingerprint"))
	if err != nil {
		writeError(w, "lookup fingerprint", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Verify handles POST /api/issuances/{fingerprint}/verify. The body is the
// suspect image.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil || len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("image body is required"))
		return
	}
	res, err := h.svc.Verify(r.Context(), chi.URLParam(r, "fingerprint"), data)
	if err != nil {
		writeError(w, "verify", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Scan handles POST /api/scan. The suspect image is either the raw request
// body or the "file" field of a multipart form. A miss is a 200 with
// found=false.
//
//	@Summary		Attribute a suspect image
//	@Tags			scan
//	@Accept			image/png
//	@Produce		json
//	@Success		200	{object}	ScanResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/scan [post]
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)

	var data []byte
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxImageBytes); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
			return
		}
		defer file.Close()
		if data, err = io.ReadAll(file); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
			return
		}
	} else {
		var err error
		if data, err = io.ReadAll(r.Body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
			return
		}
	}
	if len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("image body is required"))
		return
	}

	res, err := h.svc.Scan(r.Context(), data)
	if err != nil {
		writeError(w, "scan", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListArtifacts handles GET /api/artifacts?dir=.
//
//	@Summary		List stored artifacts
//	@Tags			artifacts
//	@Produce		json
//	@Param			dir	query		string	false	"Sub-directory, e.g. poster_images"
//	@Success		200	{object}	ArtifactListResponse
//	@Security		BearerAuth
//	@Router			/artifacts [get]
func (h *Handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	arts, err := h.svc.ListArtifacts(r.URL.Query().Get("dir"))
	if err != nil {
		writeError(w, "list artifacts", err)
		return
	}
	writeJSON(w, http.StatusOK, ArtifactListResponse{Artifacts: arts})
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetArtifact handles GET /api/artifacts/*.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	p, err := url.PathUnescape(raw)
	if err != nil || p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("artifact path is required"))
		return
	}
	data, err := h.svc.ReadArtifact(p)
	if err != nil {
		writeError(w, "read artifact", err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Debug("artifact write aborted", slog.String("path", p), slog.String("error", err.Error()))
	}
}
