// Package notify despacha notificaciones salientes (email y SMS) para los
// códigos MFA. Los senders son best-effort: el dispatcher reporta éxito o
// fracaso como booleano y nunca propaga el error al flujo de autenticación.
package notify

import (
	"context"

	"github.com/skygenesisenterprise/aether-broker/internal/observability/logger"
)

// EmailSender envía un email.
type EmailSender interface {
	Send(to, subject, htmlBody, textBody string) error
}

// SMSSender envía un SMS.
type SMSSender interface {
	Send(ctx context.Context, phone, message string) error
}

// Dispatcher enruta notificaciones al canal que corresponda.
type Dispatcher struct {
	email EmailSender
	sms   SMSSender
}

// NewDispatcher crea un dispatcher. Cualquier sender puede ser nil; en ese
// caso el canal queda deshabilitado y los envíos por ese canal fallan.
func NewDispatcher(email EmailSender, sms SMSSender) *Dispatcher {
	return &Dispatcher{email: email, sms: sms}
}

// SendEmail envía un email y reporta si salió bien.
func (d *Dispatcher) SendEmail(ctx context.Context, to, subject, htmlBody, textBody string) bool {
	log := logger.Named("notify")
	if d.email == nil {
		log.Warn("email channel disabled, dropping message", logger.String("to", to))
		return false
	}
	if err := d.email.Send(to, subject, htmlBody, textBody); err != nil {
		log.Error("email dispatch failed", logger.String("to", to), logger.Err(err))
		return false
	}
	return true
}

// SendSMS envía un SMS y reporta si salió bien.
func (d *Dispatcher) SendSMS(ctx context.Context, phone, message string) bool {
	log := logger.Named("notify")
	if d.sms == nil {
		log.Warn("sms channel disabled, dropping message", logger.String("phone", phone))
		return false
	}
	if err := d.sms.Send(ctx, phone, message); err != nil {
		log.Error("sms dispatch failed", logger.String("phone", phone), logger.Err(err))
		return false
	}
	return true
}
