package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/app/api/middleware"
	"github.com/handbok-org/handbok/internal/app/service/documents"
	"github.com/handbok-org/handbok/pkg/response"
)

// multipartOverhead leaves room for boundaries and the other form fields.
const multipartOverhead = 1 << 20

// @Summary      Upload a document
// @Description  Stores the file and starts text extraction in the background.
// @Tags         Documents
// @Accept       multipart/form-data
// @Produce      json
// @Param        file        formData file   true "Document"
// @Param        handbookId  formData string true "Handbook id"
// @Success      200  {object}  handlers.RespDocument
// @Router       /api/documents/upload [post]
func ApiUploadDocument(svc *documents.Service, maxBytes int64, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)
		}
		handbookID := c.PostForm("handbookId")
		fh, err := c.FormFile("file")
		if err != nil || handbookID == "" {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Abort(c, response.APIResponseCodePayloadTooLarge, documents.ErrFileTooLarge.Error())
				return
			}
			response.Abort(c, response.APIResponseCodeBadRequest, "file and handbookId are required")
			return
		}
		f, err := fh.Open()
		if err != nil {
			response.Abort(c, response.APIResponseCodeBadRequest, err.Error())
			return
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			response.Abort(c, response.APIResponseCodeBadRequest, err.Error())
			return
		}

		userID, _ := middleware.CurrentUser(c)
		doc, err := svc.Upload(c.Request.Context(), handbookID, userID, fh.Filename, data)
		switch {
		case err == nil:
			response.OK(c, doc)
		case errors.Is(err, documents.ErrForbidden):
			response.Abort(c, response.APIResponseCodeForbidden, err.Error())
		case errors.Is(err, documents.ErrFileTooLarge):
			response.Abort(c, response.APIResponseCodePayloadTooLarge, err.Error())
		case errors.Is(err, documents.ErrEmptyFile), errors.Is(err, documents.ErrUnsupportedType):
			response.Abort(c, response.APIResponseCodeBadRequest, err.Error())
		default:
			internalError(c, log, "document_upload_failed", err)
		}
	}
}

// @Summary      Extract document text
// @Description  Internal endpoint. Extracts text from a stored document within the extraction timeout.
// @Tags         Documents
// @Accept       multipart/form-data
// @Produce      json
// @Param        fileId formData string true "Document import id"
// @Success      200  {object}  handlers.RespExtraction
// @Failure      504  {object}  handlers.RespOK
// @Router       /api/documents/extract-text [post]
func ApiExtractText(svc *documents.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.PostForm("fileId")
		if id == "" {
			response.Abort(c, response.APIResponseCodeBadRequest, "fileId is required")
			return
		}
		res, err := svc.ExtractText(c.Request.Context(), id)
		switch {
		case err == nil && res.Outcome == documents.OutcomeFailed:
			response.AbortWithData(c, response.APIResponseCodeError, res.Error, res)
		case err == nil:
			response.OK(c, res)
		case errors.Is(err, documents.ErrDocumentNotFound):
			response.Abort(c, response.APIResponseCodeNotFound, err.Error())
		case errors.Is(err, documents.ErrExtractionTimeout):
			response.Abort(c, response.APIResponseCodeGatewayTimeout, err.Error())
		default:
			internalError(c, log, "document_extraction_failed", err)
		}
	}
}

func RegisterDocumentRoutes(user, internal gin.IRouter, svc *documents.Service, maxBytes int64, log *zap.SugaredLogger) {
	user.POST("/upload", ApiUploadDocument(svc, maxBytes, log))
	internal.POST("/extract-text", ApiExtractText(svc, log))
}
