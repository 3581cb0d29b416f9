package endpoints

import (
	"net/http"
	"querycraft"
	"querycraft/internal/api/handler/request"
	"querycraft/internal/api/handler/response"
	"querycraft/internal/api/service"
	"querycraft/pkg"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type queryHandler struct {
	logger          zerolog.Logger
	pipelineService *service.PipelineService
	schemaService   *service.SchemaService
}

func newQueryHandler(pipelineService *service.PipelineService, schemaService *service.SchemaService) *queryHandler {
	return &queryHandler{
		logger:          querycraft.Logger,
		pipelineService: pipelineService,
		schemaService:   schemaService,
	}
}

func QueryHandler(router *graceful.Graceful, pipelineService *service.PipelineService, schemaService *service.SchemaService) {
	h := newQueryHandler(pipelineService, schemaService)

	routes := router.Group("/api/v1")
	{
		routes.POST("/query", h.answerQuestion)
		routes.GET("/schema", h.getSchema)
		routes.POST("/schema/refresh", h.refreshSchema)
	}
}

func (slf *queryHandler) answerQuestion(c *gin.Context) {
	var req request.AnswerQuestionRequest
	if err := pkg.ParseAndValidate(c, &req); err != nil {
		slf.logger.Error().Err(err).Msg("Failed to parse query request")
		c.JSON(http.StatusBadRequest, response.APIError{Message: err.Error()})
		return
	}

	result := slf.pipelineService.AnswerQuestion(c.Request.Context(), req.Question)
	c.JSON(http.StatusOK, result)
}

func (slf *queryHandler) getSchema(c *gin.Context) {
	snapshot, err := slf.schemaService.GetSchema(c.Request.Context(), "")
	if err != nil {
		slf.logger.Error().Err(err).Msg("Failed to fetch schema")
		c.JSON(http.StatusInternalServerError, response.APIError{Message: "failed to fetch schema"})
		return
	}

	c.JSON(http.StatusOK, snapshotToResponse(snapshot))
}

func (slf *queryHandler) refreshSchema(c *gin.Context) {
	snapshot, err := slf.schemaService.Refresh(c.Request.Context())
	if err != nil {
		slf.logger.Error().Err(err).Msg("Failed to refresh schema")
		c.JSON(http.StatusInternalServerError, response.APIError{Message: "failed to refresh schema"})
		return
	}

	c.JSON(http.StatusOK, snapshotToResponse(snapshot))
}

func snapshotToResponse(snapshot pkg.SchemaSnapshot) response.SchemaResponse {
	resp := response.SchemaResponse{
		Tables:   make([]response.TableSchema, 0, len(snapshot.Tables)),
		Synonyms: snapshot.Synonyms,
	}
	for _, table := range snapshot.Tables {
		columns := make([]response.ColumnSchema, 0, len(table.Columns))
		for _, column := range table.Columns {
			columns = append(columns, response.ColumnSchema{Name: column.Name, DataType: column.DataType})
		}
		resp.Tables = append(resp.Tables, response.TableSchema{Name: table.Name, Columns: columns})
	}
	if resp.Synonyms == nil {
		resp.Synonyms = map[string]string{}
	}
	return resp
}
