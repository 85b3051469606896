package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

// Message is one outbound email. Template names the message kind for
// metrics and logs.
type Message struct {
	To       string
	From     string
	Subject  string
	TextBody string
	HTMLBody string
	Template string
}

const (
	TemplateVerification = "verification"
	TemplateInvitation   = "invitation"
)

// VerificationEmailData holds data for the verification email.
type VerificationEmailData struct {
	Code      string
	ExpiresIn string
}

// InvitationEmailData holds data for the organization invitation email.
type InvitationEmailData struct {
	InviteeName      string
	InviterName      string
	OrganizationName string
	InviteCode       string
	AcceptURL        string
}

// BuildVerificationEmail creates the email carrying a verification code.
func BuildVerificationEmail(to string, data VerificationEmailData) (Message, error) {
	text, html, err := render("verification", verificationText, verificationHTML, data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:       to,
		From:     "TaskShift <verify@taskshift.xyz>",
		Subject:  "Verify your email address",
		TextBody: text,
		HTMLBody: html,
		Template: TemplateVerification,
	}, nil
}

// BuildInvitationEmail creates the email inviting someone to an organization.
func BuildInvitationEmail(to string, data InvitationEmailData) (Message, error) {
	text, html, err := render("invitation", invitationText, invitationHTML, data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:       to,
		From:     "TaskShift <invites@taskshift.xyz>",
		Subject:  fmt.Sprintf("Invitation to join %s", data.OrganizationName),
		TextBody: text,
		HTMLBody: html,
		Template: TemplateInvitation,
	}, nil
}

func render(name string, text *texttemplate.Template, html *htmltemplate.Template, data any) (string, string, error) {
	var textBuf, htmlBuf bytes.Buffer
	if err := text.Execute(&textBuf, data); err != nil {
		return "", "", fmt.Errorf("failed to render %s text: %w", name, err)
	}
	if err := html.Execute(&htmlBuf, data); err != nil {
		return "", "", fmt.Errorf("failed to render %s html: %w", name, err)
	}
	return textBuf.String(), htmlBuf.String(), nil
}

var verificationText = texttemplate.Must(texttemplate.New("verification").Parse(
	`Your TaskShift verification code is: {{.Code}}

This code expires in {{.ExpiresIn}}.

If you did not create a TaskShift account, you can safely ignore this email.
`))

var invitationText = texttemplate.Must(texttemplate.New("invitation").Parse(
	`Hi {{if .InviteeName}}{{.InviteeName}}{{else}}there{{end}},

{{.InviterName}} has invited you to join {{.OrganizationName}} on TaskShift.

Accept the invitation: {{.AcceptURL}}

Invitation code: {{.InviteCode}}

If you were not expecting this invitation, you can ignore this email.
`))

var verificationHTML = htmltemplate.Must(htmltemplate.New("verification").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Verify your email address</title>
</head>
<body style="margin: 0; padding: 20px; font-family: Arial, sans-serif; background-color: #f9f9f9; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; background-color: #ffffff; border-radius: 5px; border: 1px solid #eee;">
    <div style="background-color: #2466ff; color: #ffffff; padding: 15px; border-radius: 5px 5px 0 0; text-align: center;">
      <h1 style="margin: 0; font-size: 22px;">TaskShift</h1>
    </div>
    <div style="padding: 20px;">
      <p>Your verification code is:</p>
      <div style="background-color: #f0f0f0; padding: 16px; border-radius: 3px; text-align: center; font-family: 'Courier New', monospace; font-size: 28px; letter-spacing: 6px;">{{.Code}}</div>
      <p style="font-size: 13px; color: #666;">This code expires in {{.ExpiresIn}}.</p>
    </div>
    <div style="font-size: 12px; text-align: center; color: #666; padding: 16px; border-top: 1px solid #eee;">
      If you did not create a TaskShift account, you can safely ignore this email.
    </div>
  </div>
</body>
</html>`))

var invitationHTML = htmltemplate.Must(htmltemplate.New("invitation").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Invitation to join {{.OrganizationName}}</title>
</head>
<body style="margin: 0; padding: 20px; font-family: Arial, sans-serif; background-color: #f9f9f9; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; background-color: #ffffff; border-radius: 5px; border: 1px solid #eee;">
    <div style="background-color: #2466ff; color: #ffffff; padding: 15px; border-radius: 5px 5px 0 0; text-align: center;">
      <h1 style="margin: 0; font-size: 22px;">You're invited to {{.OrganizationName}}</h1>
    </div>
    <div style="padding: 20px;">
      <p>Hi {{if .InviteeName}}{{.InviteeName}}{{else}}there{{end}},</p>
      <p><strong>{{.InviterName}}</strong> has invited you to join <strong>{{.OrganizationName}}</strong> on TaskShift.</p>
      <p style="text-align: center;">
        <a href="{{.AcceptURL}}" style="display: inline-block; background-color: #2466ff; color: #ffffff; text-decoration: none; padding: 10px 20px; border-radius: 3px; font-weight: bold;">Accept invitation</a>
      </p>
      <p style="font-size: 13px; color: #666;">Or use this invitation code:</p>
      <div style="background-color: #f0f0f0; padding: 10px; border-radius: 3px; font-family: monospace; text-align: center;">{{.InviteCode}}</div>
    </div>
    <div style="font-size: 12px; text-align: center; color: #666; padding: 16px; border-top: 1px solid #eee;">
      If you were not expecting this invitation, you can ignore this email.
    </div>
  </div>
</body>
</html>`))
