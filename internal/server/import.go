package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	importdomain "github.com/smallbiznis/tokenlens/internal/dataimport/domain"
)

// limitUploadSize caps request bodies on the import routes at ingest.maxUploadBytes.
func (s *Server) limitUploadSize() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost || s.analytics == nil {
			c.Next()
			return
		}
		limit := s.analytics.Get().Ingest.MaxUploadBytes
		if c.Request.ContentLength > limit {
			AbortWithError(c, ErrPayloadTooLarge)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// openUpload returns the multipart file under field as an import source.
func openUpload(c *gin.Context, field string) (importdomain.Source, func() error, error) {
	header, err := c.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return importdomain.Source{}, nil, ErrPayloadTooLarge
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			return importdomain.Source{}, nil, newValidationError(field, importdomain.ErrMissingSource.Error(), field+" is required")
		default:
			return importdomain.Source{}, nil, invalidRequestError()
		}
	}

	f, err := header.Open()
	if err != nil {
		return importdomain.Source{}, nil, err
	}
	return importdomain.Source{Name: header.Filename, Reader: f}, f.Close, nil
}

func (s *Server) ImportUsers(c *gin.Context) {
	src, closeFn, err := openUpload(c, "file")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer closeFn()

	resp, err := s.importSvc.ImportUsers(c.Request.Context(), src)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ImportTransactions(c *gin.Context) {
	src, closeFn, err := openUpload(c, "file")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer closeFn()

	resp, err := s.importSvc.ImportTransactions(c.Request.Context(), src)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ImportAll(c *gin.Context) {
	users, closeUsers, err := openUpload(c, "users")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer closeUsers()

	transactions, closeTransactions, err := openUpload(c, "transactions")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer closeTransactions()

	resp, err := s.importSvc.ImportAll(c.Request.Context(), users, transactions)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListImportRuns(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil || (limit != nil && *limit < 0) {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	n := 0
	if limit != nil {
		n = *limit
	}
	resp, err := s.importSvc.ListRuns(c.Request.Context(), n)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
