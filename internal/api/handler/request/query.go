package request

type AnswerQuestionRequest struct {
	Question string `json:"question" validate:"required"`
}
