package patient

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/records/internal/platform/auth"
	"github.com/clinic/records/pkg/pagination"
)

type Handler struct {
	svc           *Service
	maxUploadSize int64
	now           func() time.Time
}

func NewHandler(svc *Service, maxUploadSize int64) *Handler {
	if maxUploadSize <= 0 {
		maxUploadSize = MaxUploadSize
	}
	return &Handler{svc: svc, maxUploadSize: maxUploadSize, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – clinic, admin, staff
	readGroup := api.Group("", auth.RequireRole(auth.RoleClinic, auth.RoleAdmin, auth.RoleStaff))
	readGroup.GET("/patients", h.SearchPatients)
	readGroup.GET("/patients/:id", h.GetPatient)
	readGroup.GET("/patients/:id/visits", h.ListVisits)
	readGroup.GET("/patients/:id/visits/:visitId", h.GetVisit)

	// Write endpoints – clinic, admin
	writeGroup := api.Group("", auth.RequireRole(auth.RoleClinic, auth.RoleAdmin))
	writeGroup.POST("/patients", h.CreatePatient)
	writeGroup.PUT("/patients/:id", h.UpdatePatient)
	writeGroup.POST("/patients/:id/visits", h.AddVisit)
	writeGroup.PATCH("/patients/:id/visits/:visitId", h.UpdateVisit)
	writeGroup.DELETE("/patients/:id/visits/:visitId", h.DeleteVisit)
	writeGroup.POST("/patients/:id/attachments", h.AddAttachment)
	writeGroup.DELETE("/patients/:id/attachments", h.RemoveAttachment)
	writeGroup.DELETE("/patients/:id/attachments/:attachmentId", h.RemoveAttachmentByID)
	writeGroup.POST("/patients/:id/visits/:visitId/attachments", h.AddVisitAttachment)
	writeGroup.DELETE("/patients/:id/visits/:visitId/attachments", h.RemoveVisitAttachment)
}

// envelope is the success half of the response body.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

func ok(c echo.Context, code int, data interface{}) error {
	return c.JSON(code, envelope{Success: true, Data: data})
}

// patientResponse adds the derived age to the stored aggregate.
type patientResponse struct {
	*Patient
	Age int `json:"age"`
}

func (h *Handler) present(p *Patient) patientResponse {
	return patientResponse{Patient: p, Age: p.Age(h.now())}
}

// httpError classifies a service error into the status it is reported with.
// The original error is kept as Internal so its kind survives to the error
// handler.
func httpError(err error) error {
	code := http.StatusInternalServerError
	switch {
	case IsValidation(err), errors.Is(err, ErrInvalidDataURL):
		code = http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthorized):
		code = http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ErrDuplicateKey), errors.Is(err, ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, ErrFileTooLarge):
		code = http.StatusRequestEntityTooLarge
	}
	return echo.NewHTTPError(code, err.Error()).SetInternal(err)
}

func badRequest(msg string) error {
	return httpError(newValidationError(msg))
}

func bindError(err error) error {
	if isTooLarge(err) {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Request body too large").SetInternal(err)
	}
	return badRequest("Invalid request body")
}

// Unparseable ids cannot name a stored element, so they report the same
// not-found error a missing element would.
func pathID(c echo.Context, name string, notFound error) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, httpError(notFound)
	}
	return id, nil
}

// -- Patient --

func (h *Handler) SearchPatients(c echo.Context) error {
	pg := pagination.FromContext(c, h.svc.searchLimit)
	patients, err := h.svc.Search(c.Request().Context(), c.QueryParam("q"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	out := make([]patientResponse, len(patients))
	for i, p := range patients {
		out[i] = h.present(p)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, len(out), pg))
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var in PatientInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	p, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return ok(c, http.StatusCreated, h.present(p))
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := pathID(c, "id", errPatientNotFound)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return ok(c, http.StatusOK, h.present(p))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := pathID(c, "id", errPatientNotFound)
	if err != nil {
		return err
	}
	var patch PatientPatch
	if err := c.Bind(&patch); err != nil {
		return bindError(err)
	}
	p, err := h.svc.Update(c.Request().Context(), id, patch)
	if err != nil {
		return httpError(err)
	}
	return ok(c, http.StatusOK, h.present(p))
}

// -- Patient attachments --

func (h *Handler) AddAttachment(c echo.Context) error {
	id, err := pathID(c, "id", errPatientNotFound)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			return httpError(ErrFileTooLarge)
		}
		return badRequest("No file provided")
	}
	filename, dataURL, err := ReadUpload(fh, h.maxUploadSize)
	if err != nil {
		return httpError(err)
	}
	p, err := h.svc.AddAttachment(c.Request().Context(), id, filename, dataURL)
	if err != nil {
		return httpError(err)
	}
	return ok(c, http.StatusOK, h.present(p))
}

// RemoveAttachment removes a patient attachment by its position, given as
// the index query parameter.
func (h *Handler) RemoveAttachment(c echo.Context) error {
	id, err := pathID(c, "id", errPatientNotFound)
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(c.QueryParam("index"))
	if err != nil {
		return httpError(errInvalidIndex)
	}
	p, err := h.svc.RemoveAttachment(c.Request().Context(), id, index)
	if err != nil {
		return httpError(err)
	}
	return ok(c, http.StatusOK, h.present(p))
}

func (h *Handler) RemoveAttachmentByID(c echo.Context) error {
	id, err := pathID(c, "id", errPatientNotFound)
	if err != nil {
		return err
	}
	attID, err := pathID(c, "attachmentId", errAttachmentNotFound)
	if err != nil {
		return err
	}
	p, err := h.svc.RemoveAttachmentByID(c.Request().Context(), id, attID)
	if err != nil {
		return httpError(err)
	}
	return ok(c, http.StatusOK, h.present(p))
}

// -- Visits --

func (h *Handler) ListVisits(c echo.Context) error {
	id, err := pathID(c, "id", errPatientNotFound)
	if err != nil {
		return err
	}
	visits, err := h.svc.ListVisits(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return ok(c, http.StatusOK, visits)
}

func (h *Handler) AddVisit(c echo.Context) error {
	id, err := pathID(c, "id", errPatientNotFound)
	if err != nil {
		return err
	}
	var in VisitInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	v, err := h.svc.AddVisit(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return ok(c, http.StatusCreated, v)
}

func (h *Handler) visitPath(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	id, err := pathID(c, "id", errPatientNotFound)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	visitID, err := pathID(c, "visitId", errVisitNotFound)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return id, visitID, nil
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, visitID, err := h.visitPath(c)
	if err != nil {
		return err
	}
	v, err := h.svc.GetVisit(c.Request().Context(), id, visitID)
	if err != nil {
		return httpError(err)
	}
	return ok(c, http.StatusOK, v)
}

func (h *Handler) UpdateVisit(c echo.Context) error {
	id, visitID, err := h.visitPath(c)
	if err != nil {
		return err
	}
	var patch VisitPatch
	if err := c.Bind(&patch); err != nil {
		return bindError(err)
	}
	v, err := h.svc.UpdateVisit(c.Request().Context(), id, visitID, patch)
	if err != nil {
		return httpError(err)
	}
	return ok(c, http.StatusOK, v)
}

func (h *Handler) DeleteVisit(c echo.Context) error {
	id, visitID, err := h.visitPath(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteVisit(c.Request().Context(), id, visitID); err != nil {
		return httpError(err)
	}
	return ok(c, http.StatusOK, nil)
}

// -- Visit attachments --

type visitAttachmentRequest struct {
	Filename string `json:"filename"`
	Data     string `json:"data"`
}

// AddVisitAttachment accepts either a JSON body carrying a data URL or a
// multipart upload in the file field.
func (h *Handler) AddVisitAttachment(c echo.Context) error {
	id, visitID, err := h.visitPath(c)
	if err != nil {
		return err
	}

	var req visitAttachmentRequest
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			if isTooLarge(err) {
				return httpError(ErrFileTooLarge)
			}
			return badRequest("filename and data are required")
		}
		req.Filename, req.Data, err = ReadUpload(fh, h.maxUploadSize)
		if err != nil {
			return httpError(err)
		}
	} else {
		if err := c.Bind(&req); err != nil {
			return bindError(err)
		}
		if req.Filename == "" || req.Data == "" {
			return badRequest("filename and data are required")
		}
		_, data, err := DecodeDataURL(req.Data)
		if err != nil {
			return httpError(err)
		}
		if int64(len(data)) > h.maxUploadSize {
			return httpError(ErrFileTooLarge)
		}
	}

	a, err := h.svc.AddVisitAttachment(c.Request().Context(), id, visitID, req.Filename, req.Data)
	if err != nil {
		return httpError(err)
	}
	return ok(c, http.StatusCreated, a)
}

func (h *Handler) RemoveVisitAttachment(c echo.Context) error {
	id, visitID, err := h.visitPath(c)
	if err != nil {
		return err
	}
	raw := c.QueryParam("attachmentId")
	if raw == "" {
		return badRequest("attachmentId query param is required")
	}
	attID, err := uuid.Parse(raw)
	if err != nil {
		return httpError(errAttachmentNotFound)
	}
	if err := h.svc.RemoveVisitAttachment(c.Request().Context(), id, visitID, attID); err != nil {
		return httpError(err)
	}
	return ok(c, http.StatusOK, nil)
}

// isTooLarge reports whether err came from a body that hit a size limit,
// either the standard library's or the body limit middleware's.
func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return true
	}
	var he *echo.HTTPError
	for errors.As(err, &he) {
		if he.Code == http.StatusRequestEntityTooLarge {
			return true
		}
		err = he.Internal
	}
	return false
}
