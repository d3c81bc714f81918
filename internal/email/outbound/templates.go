package outbound

import "html/template"

var replyHTML = template.Must(template.New("reply").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body>
<div style="font-family: Arial, sans-serif; font-size: 14px; line-height: 1.6; color: #222;">{{.Content}}</div>
<div style="margin-top: 24px; padding-top: 12px; border-top: 1px solid #d0d0d0; font-family: Arial, sans-serif; font-size: 13px; color: #555;">
<div style="font-weight: bold; margin-bottom: 6px;">Original Message</div>
<table style="border-collapse: collapse; margin-bottom: 10px;">
<tr><td style="padding: 2px 10px 2px 0; color: #888;">From:</td><td>{{.From}}</td></tr>
<tr><td style="padding: 2px 10px 2px 0; color: #888;">Sent:</td><td>{{.Sent}}</td></tr>
<tr><td style="padding: 2px 10px 2px 0; color: #888;">To:</td><td>{{.To}}</td></tr>
<tr><td style="padding: 2px 10px 2px 0; color: #888;">Subject:</td><td>{{.Subject}}</td></tr>
</table>
<blockquote style="margin: 0; padding-left: 12px; border-left: 3px solid #d0d0d0;">{{.Body}}</blockquote>
</div>
</body>
</html>
`))

type replyView struct {
	Content template.HTML
	From    string
	Sent    string
	To      string
	Subject string
	Body    template.HTML
}
