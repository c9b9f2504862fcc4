// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/pixmint/pixmint/api/auth"
	"github.com/pixmint/pixmint/api/restutil"
	"github.com/pixmint/pixmint/gen"
	"github.com/pixmint/pixmint/gendb"
	"github.com/pixmint/pixmint/ledger"
	"github.com/pixmint/pixmint/model"
	"github.com/pixmint/pixmint/pix"
)

const multipartMemory = 32 << 20

// Generations exposes the generation endpoints.
type Generations struct {
	orch *gen.Orchestrator
}

func NewGenerations(orch *gen.Orchestrator) *Generations {
	return &Generations{orch: orch}
}

func (g *Generations) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/text-to-image").
		Methods(http.MethodPost).
		HandlerFunc(restutil.WrapHandlerFunc(g.handleTextToImage))
	sub.Path("/image-reference").
		Methods(http.MethodPost).
		HandlerFunc(restutil.WrapHandlerFunc(g.handleImageReference))
	sub.Path("/image-multiple-reference").
		Methods(http.MethodPost).
		HandlerFunc(restutil.WrapHandlerFunc(g.handleMultiReference))
	sub.Path("/queue/{id}").
		Methods(http.MethodGet).
		HandlerFunc(restutil.WrapHandlerFunc(g.handleGetGeneration))
	sub.Path("/my-generations").
		Methods(http.MethodGet).
		HandlerFunc(restutil.WrapHandlerFunc(g.handleListGenerations))
}

func (g *Generations) handleTextToImage(w http.ResponseWriter, r *http.Request) error {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		return restutil.Unauthorized(errors.New("no principal"))
	}
	var req gen.TextRequest
	if err := restutil.ParseJSON(r.Body, &req); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	resp, err := g.orch.TextToImage(r.Context(), owner, &req)
	if err != nil {
		return mapGenErr(err)
	}
	return restutil.WriteData(w, http.StatusAccepted, resp)
}

type referenceBody struct {
	gen.TextRequest
	ReferenceKind string `json:"referenceKind"`
	ReferenceID   pix.ID `json:"referenceId"`
}

func (g *Generations) handleImageReference(w http.ResponseWriter, r *http.Request) error {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		return restutil.Unauthorized(errors.New("no principal"))
	}

	req := &gen.ReferenceRequest{}
	if isMultipart(r) {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return restutil.BadRequest(errors.WithMessage(err, "multipart"))
		}
		if err := fillTextRequest(&req.TextRequest, r); err != nil {
			return err
		}
		req.ReferenceKind = model.ReferenceKind(r.FormValue("referenceKind"))
		if raw := r.FormValue("referenceId"); raw != "" {
			id, err := pix.ParseID(raw)
			if err != nil {
				return restutil.BadRequest(errors.WithMessage(err, "referenceId"))
			}
			req.ReferenceID = id
		}
		up, err := readFormImage(r, "image")
		if err != nil {
			return err
		}
		req.Upload = up
	} else {
		var body referenceBody
		if err := restutil.ParseJSON(r.Body, &body); err != nil {
			return restutil.BadRequest(errors.WithMessage(err, "body"))
		}
		req.TextRequest = body.TextRequest
		req.ReferenceKind = model.ReferenceKind(body.ReferenceKind)
		req.ReferenceID = body.ReferenceID
	}

	resp, err := g.orch.ImageReference(r.Context(), owner, req)
	if err != nil {
		return mapGenErr(err)
	}
	return restutil.WriteData(w, http.StatusAccepted, resp)
}

type multiReferenceBody struct {
	gen.TextRequest
	TargetID     pix.ID   `json:"targetId"`
	ReferenceIDs []pix.ID `json:"referenceIds"`
}

func (g *Generations) handleMultiReference(w http.ResponseWriter, r *http.Request) error {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		return restutil.Unauthorized(errors.New("no principal"))
	}

	req := &gen.MultiReferenceRequest{}
	if isMultipart(r) {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return restutil.BadRequest(errors.WithMessage(err, "multipart"))
		}
		if err := fillTextRequest(&req.TextRequest, r); err != nil {
			return err
		}
		if raw := r.FormValue("targetId"); raw != "" {
			id, err := pix.ParseID(raw)
			if err != nil {
				return restutil.BadRequest(errors.WithMessage(err, "targetId"))
			}
			req.TargetID = id
		}
		for _, raw := range r.Form["referenceIds"] {
			id, err := pix.ParseID(raw)
			if err != nil {
				return restutil.BadRequest(errors.WithMessage(err, "referenceIds"))
			}
			req.ReferenceIDs = append(req.ReferenceIDs, id)
		}
		target, err := readFormImage(r, "targetImage")
		if err != nil {
			return err
		}
		req.TargetUpload = target
		if r.MultipartForm != nil {
			for _, header := range r.MultipartForm.File["referenceImages"] {
				up, err := readImageHeader(header)
				if err != nil {
					return err
				}
				req.ReferenceUploads = append(req.ReferenceUploads, *up)
			}
		}
	} else {
		var body multiReferenceBody
		if err := restutil.ParseJSON(r.Body, &body); err != nil {
			return restutil.BadRequest(errors.WithMessage(err, "body"))
		}
		req.TextRequest = body.TextRequest
		req.TargetID = body.TargetID
		req.ReferenceIDs = body.ReferenceIDs
	}

	resp, err := g.orch.MultiReference(r.Context(), owner, req)
	if err != nil {
		return mapGenErr(err)
	}
	return restutil.WriteData(w, http.StatusAccepted, resp)
}

func (g *Generations) handleGetGeneration(w http.ResponseWriter, r *http.Request) error {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		return restutil.Unauthorized(errors.New("no principal"))
	}
	id, err := pix.ParseID(mux.Vars(r)["id"])
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "id"))
	}
	view, err := g.orch.GetGeneration(r.Context(), owner, id)
	if err != nil {
		return mapGenErr(err)
	}
	return restutil.WriteData(w, http.StatusOK, view)
}

func (g *Generations) handleListGenerations(w http.ResponseWriter, r *http.Request) error {
	owner, ok := auth.Owner(r.Context())
	if !ok {
		return restutil.Unauthorized(errors.New("no principal"))
	}

	query := r.URL.Query()
	filter := gendb.ListFilter{
		Cursor:        query.Get("cursor"),
		IncludeFailed: query.Get("includeFailed") == "true",
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return restutil.BadRequest(errors.New("limit must be a positive integer"))
		}
		filter.Limit = limit
	}

	views, next, hasMore, err := g.orch.ListGenerations(r.Context(), owner, filter)
	if err != nil {
		return mapGenErr(err)
	}
	return restutil.WriteData(w, http.StatusOK, restutil.M{
		"results": views,
		"cursor": restutil.M{
			"next":    next,
			"hasMore": hasMore,
		},
	})
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

func fillTextRequest(req *gen.TextRequest, r *http.Request) error {
	req.Prompt = r.FormValue("prompt")
	req.AspectRatio = pix.AspectRatio(r.FormValue("aspectRatio"))
	if raw := r.FormValue("numberOfImages"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return restutil.BadRequest(errors.New("numberOfImages must be an integer"))
		}
		req.NumberOfImages = n
	}
	if raw := r.FormValue("projectId"); raw != "" {
		id, err := pix.ParseID(raw)
		if err != nil {
			return restutil.BadRequest(errors.WithMessage(err, "projectId"))
		}
		req.ProjectID = id
	}
	if raw := r.FormValue("templateId"); raw != "" {
		id, err := pix.ParseID(raw)
		if err != nil {
			return restutil.BadRequest(errors.WithMessage(err, "templateId"))
		}
		req.TemplateID = id
	}
	return nil
}

// readFormImage loads one uploaded image field; a missing field is nil, not
// an error.
func readFormImage(r *http.Request, field string) (*gen.RefUpload, error) {
	file, header, err := r.FormFile(field)
	if err == http.ErrMissingFile {
		return nil, nil
	}
	if err != nil {
		return nil, restutil.BadRequest(errors.WithMessage(err, field))
	}
	file.Close()
	return readImageHeader(header)
}

func readImageHeader(header *multipart.FileHeader) (*gen.RefUpload, error) {
	file, err := header.Open()
	if err != nil {
		return nil, restutil.BadRequest(errors.WithMessage(err, header.Filename))
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, pix.MaxImageBytes+1))
	if err != nil {
		return nil, restutil.BadRequest(errors.WithMessage(err, header.Filename))
	}
	if len(data) > pix.MaxImageBytes {
		return nil, restutil.BadRequest(errors.Errorf("%s exceeds the %d byte limit", header.Filename, pix.MaxImageBytes))
	}
	return &gen.RefUpload{
		Name:     header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Data:     data,
	}, nil
}

// mapGenErr translates core errors into envelope errors.
func mapGenErr(err error) error {
	switch {
	case gen.IsValidation(err):
		return restutil.BadRequest(err)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return restutil.PaymentRequired(err)
	case errors.Is(err, gen.ErrRefNotFound), errors.Is(err, gendb.ErrNotFound):
		return restutil.NotFound(err)
	default:
		return err
	}
}
