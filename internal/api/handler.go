package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medrec/medrec/internal/platform/auth"
	"github.com/medrec/medrec/internal/platform/fhir"
)

const fhirContentType = "application/fhir+json"

// Handler serves the resource endpoints for every type the store accepts.
// Routes are generic over :type; the authorization gate runs before every
// mutation and after every read.
type Handler struct {
	store fhir.Store
	gate  *auth.Gate
	log   zerolog.Logger
}

func NewHandler(store fhir.Store, gate *auth.Gate, log zerolog.Logger) *Handler {
	return &Handler{store: store, gate: gate, log: log}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/:type", h.Create)
	g.GET("/:type", h.SearchQuery)
	g.GET("/:type/search/:param/:value", h.Search)
	g.GET("/:type/:id", h.Read)
	g.PUT("/:type/:id", h.Update)
	g.PATCH("/:type/:id", h.Update)
	g.DELETE("/:type/:id", h.Delete)
	g.GET("/:type/:id/_history", h.History)
	g.GET("/:type/:id/_history/:vid", h.VRead)
}

func (h *Handler) Create(c echo.Context) error {
	resourceType := c.Param("type")
	res, err := h.bindResource(c, resourceType)
	if err != nil {
		return err
	}

	ok, err := h.gate.CanAccess(requestCtx(c), caller(c), res, auth.ActionCreate)
	if err != nil {
		return h.internal(c, err, "authorizing create")
	}
	if !ok {
		return forbidden(c)
	}

	id, err := h.store.Create(requestCtx(c), res)
	if err != nil {
		return h.storeError(c, err, "creating resource")
	}

	c.Response().Header().Set(echo.HeaderLocation, "/fhir/"+resourceType+"/"+id)
	return fhirJSON(c, http.StatusCreated, res)
}

func (h *Handler) Read(c echo.Context) error {
	resourceType, id := c.Param("type"), c.Param("id")

	res, err := h.store.Get(requestCtx(c), resourceType, id)
	if err != nil {
		return h.storeError(c, err, "reading resource")
	}
	ok, err := h.gate.CanAccess(requestCtx(c), caller(c), res, auth.ActionRead)
	if err != nil {
		return h.internal(c, err, "authorizing read")
	}
	if !ok {
		return forbidden(c)
	}
	return fhirJSON(c, http.StatusOK, res)
}

func (h *Handler) VRead(c echo.Context) error {
	resourceType, id := c.Param("type"), c.Param("id")
	versionID, err := strconv.Atoi(c.Param("vid"))
	if err != nil || versionID <= 0 {
		return badRequest(c, "invalid version id")
	}

	res, err := h.store.GetVersion(requestCtx(c), resourceType, id, versionID)
	if err != nil {
		return h.storeError(c, err, "reading resource version")
	}
	ok, err := h.gate.CanAccess(requestCtx(c), caller(c), res, auth.ActionRead)
	if err != nil {
		return h.internal(c, err, "authorizing vread")
	}
	if !ok {
		return forbidden(c)
	}
	return fhirJSON(c, http.StatusOK, res)
}

// Search serves the path form /fhir/:type/search/:param/:value.
func (h *Handler) Search(c echo.Context) error {
	return h.search(c, c.Param("type"), c.Param("param"), c.Param("value"))
}

// SearchQuery serves the query form /fhir/:type?code=value with a single
// parameter pair.
func (h *Handler) SearchQuery(c echo.Context) error {
	params := c.QueryParams()
	if len(params) != 1 {
		return badRequest(c, "exactly one search parameter is required")
	}
	for code, values := range params {
		if len(values) != 1 {
			return badRequest(c, "exactly one search parameter is required")
		}
		return h.search(c, c.Param("type"), code, values[0])
	}
	return badRequest(c, "exactly one search parameter is required")
}

func (h *Handler) search(c echo.Context, resourceType, code, value string) error {
	if strings.TrimSpace(code) == "" || strings.TrimSpace(value) == "" {
		return badRequest(c, "search parameter and value must not be empty")
	}

	results, err := h.store.Search(requestCtx(c), resourceType, code, value)
	if err != nil {
		return h.storeError(c, err, "searching resources")
	}
	readable, err := h.gate.FilterReadable(requestCtx(c), caller(c), results)
	if err != nil {
		return h.internal(c, err, "filtering search results")
	}
	// An empty filtered result is indistinguishable from no match, so the
	// response never leaks the existence of inaccessible resources.
	if len(readable) == 0 {
		return notFound(c)
	}
	return fhirJSON(c, http.StatusOK, readable)
}

func (h *Handler) Update(c echo.Context) error {
	resourceType, id := c.Param("type"), c.Param("id")
	res, err := h.bindResource(c, resourceType)
	if err != nil {
		return err
	}
	if res.ID() != "" && res.ID() != id {
		return badRequest(c, "resource id does not match the request path")
	}

	ok, err := h.gate.CanAccess(requestCtx(c), caller(c), res, auth.ActionUpdate)
	if err != nil {
		return h.internal(c, err, "authorizing update")
	}
	if !ok {
		return forbidden(c)
	}

	if err := h.store.Update(requestCtx(c), id, res); err != nil {
		return h.storeError(c, err, "updating resource")
	}
	return fhirJSON(c, http.StatusOK, res)
}

func (h *Handler) Delete(c echo.Context) error {
	resourceType, id := c.Param("type"), c.Param("id")

	existing, err := h.store.Get(requestCtx(c), resourceType, id)
	if err != nil {
		return h.storeError(c, err, "reading resource for delete")
	}
	ok, err := h.gate.CanAccess(requestCtx(c), caller(c), existing, auth.ActionDelete)
	if err != nil {
		return h.internal(c, err, "authorizing delete")
	}
	if !ok {
		return forbidden(c)
	}

	if err := h.store.Delete(requestCtx(c), resourceType, id); err != nil {
		return h.storeError(c, err, "deleting resource")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) History(c echo.Context) error {
	resourceType, id := c.Param("type"), c.Param("id")

	versions, err := h.store.History(requestCtx(c), resourceType, id)
	if err != nil {
		return h.storeError(c, err, "reading resource history")
	}
	readable, err := h.gate.FilterReadable(requestCtx(c), caller(c), versions)
	if err != nil {
		return h.internal(c, err, "filtering history")
	}
	// History proved the resource exists, so hiding every version is a
	// permission problem, not a missing resource.
	if len(readable) == 0 {
		return forbidden(c)
	}
	return fhirJSON(c, http.StatusOK, readable)
}

// bindResource reads and parses the request body, requiring its resourceType
// to match the route.
func (h *Handler) bindResource(c echo.Context, resourceType string) (fhir.Resource, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, badRequest(c, "reading request body: "+err.Error())
	}
	res, err := fhir.ParseResource(body)
	if err != nil {
		return nil, badRequest(c, "invalid FHIR content: "+err.Error())
	}
	if !strings.EqualFold(res.Type(), resourceType) {
		return nil, badRequest(c, "resource type does not match the request path")
	}
	return res, nil
}

func (h *Handler) storeError(c echo.Context, err error, msg string) error {
	switch {
	case errors.Is(err, fhir.ErrNotFound):
		return notFound(c)
	case errors.Is(err, fhir.ErrIDMismatch):
		return badRequest(c, "resource id does not match the request path")
	case errors.Is(err, fhir.ErrInvalidResource):
		return badRequest(c, "invalid FHIR content")
	case errors.Is(err, fhir.ErrDuplicate):
		return fhirJSON(c, http.StatusConflict, fhir.ErrorOutcome(fhir.IssueTypeDuplicate, "a resource with this id already exists"))
	default:
		return h.internal(c, err, msg)
	}
}

func (h *Handler) internal(c echo.Context, err error, msg string) error {
	h.log.Error().Err(err).
		Str("resource_type", c.Param("type")).
		Str("resource_id", c.Param("id")).
		Msg(msg)
	return fhirJSON(c, http.StatusInternalServerError, fhir.ErrorOutcome(fhir.IssueTypeException, "internal server error"))
}

func notFound(c echo.Context) error {
	return fhirJSON(c, http.StatusNotFound, fhir.ErrorOutcome(fhir.IssueTypeNotFound, "resource not found"))
}

func forbidden(c echo.Context) error {
	return fhirJSON(c, http.StatusForbidden, fhir.ErrorOutcome(fhir.IssueTypeForbidden, "insufficient scope for this resource"))
}

func badRequest(c echo.Context, msg string) error {
	return fhirJSON(c, http.StatusBadRequest, fhir.ErrorOutcome(fhir.IssueTypeInvalid, msg))
}

// fhirJSON writes the body with the FHIR media type instead of echo's
// default application/json.
func fhirJSON(c echo.Context, status int, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Blob(status, fhirContentType, data)
}

func requestCtx(c echo.Context) context.Context {
	return c.Request().Context()
}

func caller(c echo.Context) *auth.Caller {
	return auth.CallerFromContext(c.Request().Context())
}
