// Package messaging delivers one-time codes and action links to users over
// email and SMS. The interfaces are intentionally narrow so the HTTP layer
// never learns transport details, and the dev senders make the whole flow
// runnable without external services.
package messaging

import (
	"context"
	"fmt"
	"strings"
)

// Mailer sends a plain-text email.
type Mailer interface {
	SendMail(ctx context.Context, to, subject, body string) error
}

// SMSSender sends a short text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// CodeMailBody renders the one-time-code email.
func CodeMailBody(issuer, code string) (subject, body string) {
	subject = fmt.Sprintf("%s verification code", issuer)
	body = fmt.Sprintf(
		"Your %s verification code is: %s\n\nIf you did not request this code, you can ignore this message.\n",
		issuer, code)
	return subject, body
}

// CodeSMSBody renders the one-time-code text message.
func CodeSMSBody(issuer, code string) string {
	return fmt.Sprintf("%s verification code: %s", issuer, code)
}

// LinkMailBody renders an action-link email (invitation, first login, reset).
func LinkMailBody(issuer, action, link string) (subject, body string) {
	subject = fmt.Sprintf("%s: %s", issuer, action)
	body = fmt.Sprintf(
		"To continue, open the link below:\n\n%s\n\nIf you did not request this, you can ignore this message.\n",
		link)
	return subject, body
}

// MaskEmail hides the local part of an address for display, keeping enough
// shape to let the owner recognize it: first character, then the character
// just before the @, then the domain.
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at < 1 {
		return ""
	}
	return email[:1] + "#####" + email[at-1:]
}

// MaskPhone hides the middle digits of a phone number for display.
func MaskPhone(phone string) string {
	if len(phone) < 6 {
		return ""
	}
	return phone[:3] + "#####" + phone[len(phone)-2:]
}
