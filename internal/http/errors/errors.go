package errors

import (
	"encoding/json"
	"net/http"
)

// errorResponse estructura interna para la serialización JSON.
// Controla exactamente qué campos se envían al cliente.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError escribe una respuesta HTTP basada en el error proporcionado.
// Maneja automáticamente errores de tipo *AppError y errores genéricos.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)

	resp := errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(resp)
}

// oauthErrorResponse es el envelope de error de RFC 6749 §5.2.
type oauthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteOAuthError traduce la taxonomía interna al envelope
// {error, error_description} que los clientes OAuth2 esperan en el token
// endpoint. invalid_client sale con 401 según la RFC.
func WriteOAuthError(w http.ResponseWriter, err error) {
	appErr := FromError(err)

	var code string
	status := http.StatusBadRequest
	switch appErr.Code {
	case ErrInvalidClient.Code:
		code = "invalid_client"
		status = http.StatusUnauthorized
	case ErrInvalidGrant.Code:
		code = "invalid_grant"
	case ErrBadRequest.Code, ErrInvalidJSON.Code, ErrMissingFields.Code,
		ErrInvalidParameter.Code, ErrInvalidRedirectURI.Code, ErrPKCEFailed.Code:
		code = "invalid_request"
	default:
		code = "server_error"
		status = http.StatusInternalServerError
	}

	desc := appErr.Message
	if appErr.Detail != "" {
		desc = appErr.Detail
	}
	WriteOAuthErrorCode(w, status, code, desc)
}

// WriteOAuthErrorCode escribe el envelope OAuth con código y status explícitos.
func WriteOAuthErrorCode(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(oauthErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}
