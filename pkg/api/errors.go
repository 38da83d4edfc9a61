package api

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // статус HTTP текстом
	Message string `json:"message,omitempty"` // описание ошибки
}
