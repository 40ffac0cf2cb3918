package logger

import (
	"time"

	"go.uber.org/zap"
)

// Campos estándar — HTTP

func RequestID(v string) zap.Field     { return zap.String("request_id", v) }
func Method(v string) zap.Field        { return zap.String("method", v) }
func Path(v string) zap.Field          { return zap.String("path", v) }
func Status(v int) zap.Field           { return zap.Int("status", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func RemoteAddr(v string) zap.Field    { return zap.String("remote_addr", v) }

// Campos estándar — dominio

func UserID(v string) zap.Field    { return zap.String("user_id", v) }
func ClientID(v string) zap.Field  { return zap.String("client_id", v) }
func SessionID(v string) zap.Field { return zap.String("session_id", v) }
func WebhookID(v string) zap.Field { return zap.String("webhook_id", v) }
func Event(v string) zap.Field     { return zap.String("event", v) }

// Genéricos (alias de zap para no importar zap en cada paquete)

func String(k, v string) zap.Field { return zap.String(k, v) }
func Int(k string, v int) zap.Field { return zap.Int(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func Err(err error) zap.Field      { return zap.Error(err) }
