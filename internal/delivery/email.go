package delivery

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"briefcast/internal/models"

	"github.com/resend/resend-go/v2"
)

// EmailSender is the part of the Resend client the deliverer uses.
type EmailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

type EmailDeliverer struct {
	emails EmailSender
	from   string
}

func NewEmailDeliverer(client *resend.Client, from string) *EmailDeliverer {
	return &EmailDeliverer{emails: client.Emails, from: from}
}

func NewEmailDelivererWithSender(sender EmailSender, from string) *EmailDeliverer {
	return &EmailDeliverer{emails: sender, from: from}
}

func (d *EmailDeliverer) Name() string { return "email" }

func (d *EmailDeliverer) CanDeliver(user models.User) bool {
	return user.Email != nil && *user.Email != ""
}

func (d *EmailDeliverer) Deliver(ctx context.Context, user models.User, message string) error {
	if !d.CanDeliver(user) {
		return fmt.Errorf("user %d has no email address", user.ID)
	}

	subject := fmt.Sprintf("Your Knowledge Digest - %s", time.Now().UTC().Format("January 2"))
	_, err := d.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    d.from,
		To:      []string{*user.Email},
		Subject: subject,
		Html:    markdownToHTML(message),
	})
	if err != nil {
		return fmt.Errorf("email send failed: %w", err)
	}
	return nil
}

var (
	boldPattern   = regexp.MustCompile(`\*\*?(.+?)\*\*?`)
	italicPattern = regexp.MustCompile(`_(.+?)_`)
)

// markdownToHTML renders the markdown-ish digest text into minimal HTML good
// enough for an email body.
func markdownToHTML(text string) string {
	html := boldPattern.ReplaceAllString(text, "<strong>$1</strong>")
	html = italicPattern.ReplaceAllString(html, "<em>$1</em>")
	html = strings.ReplaceAll(html, "\n\n", "</p><p>")
	html = strings.ReplaceAll(html, "\n", "<br>")

	return fmt.Sprintf(`<html><body style="font-family: sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; line-height: 1.6;"><p>%s</p></body></html>`, html)
}
