package server

import (
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/executor"
	"github.com/kyleking/text2sql-router/internal/sqlcheck"
)

// QuestionRequest is the body of /match_schema/ and /generate-sql/
type QuestionRequest struct {
	Question string `json:"question" binding:"required"`
}

// ValidateRequest is the body of /validate-sql/
type ValidateRequest struct {
	DBID string `json:"db_id" binding:"required"`
	SQL  string `json:"sql"   binding:"required"`
}

// QueryRequest is the body of /execute-query
type QueryRequest struct {
	Query string `json:"query" binding:"required"`
}

// ValidateResponse echoes the request alongside the outcome
type ValidateResponse struct {
	DBID string `json:"db_id"`
	SQL  string `json:"sql"`
	sqlcheck.Outcome
	Error string `json:"error,omitempty"`
}

var jsonFieldNames sync.Once

// bind decodes the JSON body into req. Validation messages use JSON field names.
func bind(c *gin.Context, req any) bool {
	jsonFieldNames.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterTagNameFunc(func(f reflect.StructField) string {
				name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
				if name == "-" {
					return ""
				}

				return name
			})
		}
	})

	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}

	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) {
		msgs := make([]string, 0, len(invalid))
		for _, fe := range invalid {
			msgs = append(msgs, fe.Field()+" is "+fe.Tag())
		}

		_ = c.Error(errors.New(errors.ErrTypeValidation, strings.Join(msgs, "; ")))
	} else {
		_ = c.Error(errors.Wrap(err, errors.ErrTypeValidation, "invalid request body"))
	}

	return false
}

func (s *Server) ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

func (s *Server) matchSchema(c *gin.Context) {
	var req QuestionRequest
	if !bind(c, &req) {
		return
	}

	resp, err := s.pipeline.Match(c.Request.Context(), req.Question)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) generateSQL(c *gin.Context) {
	var req QuestionRequest
	if !bind(c, &req) {
		return
	}

	resp, err := s.pipeline.Generate(c.Request.Context(), req.Question)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) validateSQL(c *gin.Context) {
	var req ValidateRequest
	if !bind(c, &req) {
		return
	}

	outcome, err := s.pipeline.Validate(c.Request.Context(), req.DBID, req.SQL)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := ValidateResponse{DBID: req.DBID, SQL: req.SQL, Outcome: outcome}
	if err := outcome.Err(); err != nil {
		resp.Error = err.Error()
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) executeQuery(c *gin.Context) {
	var req QueryRequest
	if !bind(c, &req) {
		return
	}

	if s.executor == nil {
		_ = c.Error(errors.New(errors.ErrTypeBackend, "no execution database is configured").
			WithSuggestion("Set executor.dsn to a database file"))

		return
	}

	result, err := s.executor.Execute(c.Request.Context(), req.Query)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if !executor.IsSelect(req.Query) {
		c.JSON(http.StatusOK, gin.H{"message": result.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results":   result.Rows,
		"columns":   result.Columns,
		"truncated": result.Truncated,
	})
}
