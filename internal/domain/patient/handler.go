package patient

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/neuroscribe/internal/platform/blobstore"
	"github.com/ehr/neuroscribe/internal/platform/session"
	"github.com/ehr/neuroscribe/pkg/pagination"
)

// maxFormMemory is how much of a multipart form is held in memory before
// parts spill to temporary files.
const maxFormMemory = 32 << 20

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the patient endpoints on api behind mw, typically
// session.RequireSession.
func (h *Handler) RegisterRoutes(api *echo.Group, mw ...echo.MiddlewareFunc) {
	g := api.Group("/patients", mw...)
	g.GET("", h.ListPatients)
	g.POST("", h.CreatePatient)
	g.GET("/:id", h.GetPatient)
	g.GET("/:id/imaging", h.DownloadImaging)
}

type validationResponse struct {
	Message string        `json:"message"`
	Errors  []*FieldError `json:"errors"`
}

func (h *Handler) CreatePatient(c echo.Context) error {
	if err := c.Request().ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sub, fieldErrs := submissionFromForm(c)

	fh, err := c.FormFile("mri_file")
	if err == nil {
		f, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "cannot read mri_file")
		}
		defer f.Close()
		sub.File = f
		sub.FileName = fh.Filename
		sub.ContentType = fh.Header.Get(echo.HeaderContentType)
	} else if !errors.Is(err, http.ErrMissingFile) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// Unparseable numbers are reported instead of the range check on their
	// zero value.
	if err := ValidateSubmission(sub); err != nil || len(fieldErrs) > 0 {
		return c.JSON(http.StatusBadRequest, validationResponse{
			Message: ErrInvalidSubmission.Error(),
			Errors:  mergeFieldErrors(fieldErrs, FieldErrors(err)),
		})
	}

	rec, err := h.svc.Submit(c.Request().Context(), sub, session.UserFromContext(c.Request().Context()))
	if err != nil {
		switch {
		case errors.Is(err, blobstore.ErrFileTooLarge):
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, blobstore.ErrInvalidContentType):
			return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
		case errors.Is(err, ErrInvalidSubmission):
			return c.JSON(http.StatusBadRequest, validationResponse{
				Message: ErrInvalidSubmission.Error(),
				Errors:  FieldErrors(err),
			})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListPatients(c echo.Context) error {
	q := ListQuery{Search: c.QueryParam("q")}
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" && !strings.EqualFold(raw, "all") {
		st, ok := ParseStatus(raw)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status filter")
		}
		q.Status = st
	}

	items, err := h.svc.List(c.Request().Context(), q)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}

	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(items, pg), len(items), pg.Limit, pg.Offset))
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.Get(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) DownloadImaging(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rc, meta, err := h.svc.OpenImaging(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) || errors.Is(err, blobstore.ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "imaging file not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer rc.Close()
	return blobstore.Stream(c, rc, meta)
}

// submissionFromForm reads the text fields of a multipart submission.
func submissionFromForm(c echo.Context) (Submission, []*FieldError) {
	var errs []*FieldError
	atoi := func(field string) int {
		raw := strings.TrimSpace(c.FormValue(field))
		if raw == "" {
			return 0
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, &FieldError{Field: field, Message: "must be a whole number"})
		}
		return v
	}
	atof := func(field string) float64 {
		raw := strings.TrimSpace(c.FormValue(field))
		if raw == "" {
			return 0
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			errs = append(errs, &FieldError{Field: field, Message: "must be a number"})
		}
		return v
	}

	sub := Submission{
		Name: c.FormValue("name"),
		ClinicalData: ClinicalData{
			Age:  atoi("age"),
			Sex:  Sex(strings.TrimSpace(c.FormValue("sex"))),
			MMSE: atoi("mmse"),
			CDR:  atof("cdr"),
			ETIV: atof("etiv"),
			NWBV: atof("nwbv"),
			ASF:  atof("asf"),
		},
	}
	return sub, errs
}

// mergeFieldErrors keeps the first error reported for each field.
func mergeFieldErrors(lists ...[]*FieldError) []*FieldError {
	seen := make(map[string]bool)
	var out []*FieldError
	for _, list := range lists {
		for _, fe := range list {
			if seen[fe.Field] {
				continue
			}
			seen[fe.Field] = true
			out = append(out, fe)
		}
	}
	return out
}
