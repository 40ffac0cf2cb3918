package errors

import (
	"fmt"
	"net/http"
)

// AppError define la estructura estándar para errores de la aplicación.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"` // No se serializa, usado para el header
	Err        error  `json:"-"` // Causa original, útil para logs, no se expone al cliente
}

// Error implementa la interfaz error
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap permite acceder al error original
func (e *AppError) Unwrap() error {
	return e.Err
}

// New crea un nuevo AppError
func New(status int, code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
	}
}

// FromError intenta convertir un error genérico en un AppError.
// Si no es un AppError, devuelve un error interno genérico conservando la causa.
func FromError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return ErrInternalServerError.WithCause(err)
}

// WithDetail agrega detalles adicionales al error (útil para validaciones).
// Devuelve una COPIA del error para no mutar las variables globales base.
func (e *AppError) WithDetail(detail string) *AppError {
	newErr := *e
	newErr.Detail = detail
	return &newErr
}

// WithCause agrega el error original (causa). Devuelve una COPIA del error.
func (e *AppError) WithCause(err error) *AppError {
	newErr := *e
	newErr.Err = err
	return &newErr
}

// =================================================================================
// LISTA DE ERRORES PREDEFINIDOS
// =================================================================================

var (
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "La solicitud contiene sintaxis inválida o parámetros faltantes.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidJSON = &AppError{
		Code:       "INVALID_JSON",
		Message:    "El cuerpo de la solicitud no es un JSON válido.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrMissingFields = &AppError{
		Code:       "MISSING_FIELDS",
		Message:    "Faltan campos requeridos en la solicitud.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidParameter = &AppError{
		Code:       "INVALID_PARAMETER",
		Message:    "Uno de los parámetros de la URL o Query String es inválido.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidGrant = &AppError{
		Code:       "INVALID_GRANT",
		Message:    "El authorization code o refresh token es inválido, expiró o ya fue usado.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidClient = &AppError{
		Code:       "INVALID_CLIENT",
		Message:    "El client es desconocido o está inactivo.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidRedirectURI = &AppError{
		Code:       "INVALID_REDIRECT_URI",
		Message:    "El redirect URI no está permitido para este client.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrPKCEFailed = &AppError{
		Code:       "PKCE_VERIFICATION_FAILED",
		Message:    "La verificación PKCE falló.",
		HTTPStatus: http.StatusBadRequest,
	}
)

var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "No autorizado. Se requiere autenticación.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrInvalidCredentials = &AppError{
		Code:       "INVALID_CREDENTIALS",
		Message:    "Las credenciales proporcionadas son inválidas.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenExpired = &AppError{
		Code:       "TOKEN_EXPIRED",
		Message:    "El token de acceso ha expirado.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenInvalid = &AppError{
		Code:       "TOKEN_INVALID",
		Message:    "El token de acceso es inválido o está malformado.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenMissing = &AppError{
		Code:       "TOKEN_MISSING",
		Message:    "No se proporcionó token de autenticación.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrSessionExpired = &AppError{
		Code:       "SESSION_EXPIRED",
		Message:    "La sesión ha expirado, por favor inicie sesión nuevamente.",
		HTTPStatus: http.StatusUnauthorized,
	}
)

var (
	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "No tiene permisos para realizar esta acción.",
		HTTPStatus: http.StatusForbidden,
	}

	ErrSystemRoleProtected = &AppError{
		Code:       "SYSTEM_ROLE_PROTECTED",
		Message:    "Los roles de sistema no pueden ser eliminados.",
		HTTPStatus: http.StatusForbidden,
	}
)

var (
	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "El recurso solicitado no fue encontrado.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrUserNotFound = &AppError{
		Code:       "USER_NOT_FOUND",
		Message:    "El usuario especificado no existe.",
		HTTPStatus: http.StatusNotFound,
	}
)

var (
	ErrConflict = &AppError{
		Code:       "CONFLICT",
		Message:    "La solicitud entra en conflicto con el estado actual del servidor.",
		HTTPStatus: http.StatusConflict,
	}

	ErrRoleAlreadyAssigned = &AppError{
		Code:       "ROLE_ALREADY_ASSIGNED",
		Message:    "El usuario ya tiene asignado este rol.",
		HTTPStatus: http.StatusConflict,
	}
)

var (
	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Ha excedido el límite de solicitudes. Intente más tarde.",
		HTTPStatus: http.StatusTooManyRequests,
	}
)

var (
	ErrInternalServerError = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Ocurrió un error interno en el servidor.",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrServiceUnavailable = &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    "El servicio no está disponible temporalmente.",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)
