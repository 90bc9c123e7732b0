package blobstore

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler serves downloads authorised by a signed link. Uploads go through
// the prescription handler, which ties a document to a review request.
type Handler struct {
	store  BlobStore
	signer *URLSigner
}

func NewHandler(store BlobStore, signer *URLSigner) *Handler {
	return &Handler{store: store, signer: signer}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/documents/:token", h.Download)
}

func (h *Handler) Download(c echo.Context) error {
	id, err := h.signer.Verify(c.Param("token"))
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}

	rc, meta, err := h.store.Download(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer rc.Close()

	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, meta.FileName))
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}
